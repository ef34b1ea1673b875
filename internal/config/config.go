package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTP holds the static delivery settings of one actor.
type HTTP struct {
	URL               string
	Method            string
	ContentType       string
	Accept            string
	AdditionalHeaders map[string]string
	Username          string
	Password          string
	AllowRedirects    bool
	Timeout           time.Duration
	VerifySSL         bool
	Selection         string // empty selects the whole event
	NativeEvent       bool   // submit the whole event, Selection is ignored
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151, polled for inbox backlog
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	InboxTopic     string
	Channel        string
	OutboxTopic    string // empty drops successful events after delivery
	FailedTopic    string
}

type NATS struct {
	URL           string
	InboxSubject  string
	QueueGroup    string
	OutboxSubject string
	FailedSubject string
}

type DB struct {
	Enabled bool
	User    string
	Pass    string
	Host    string
	Port    string
	Name    string
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	ResponseDelayMS int           // Simulated response delay in milliseconds
	ResponseStatus  int           // Status code of successful responses
	ResponseBody    string        // Body of successful responses
	Username        string        // Expected basic auth user, empty disables the check
	Password        string        // Expected basic auth password
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName       string
	ActorName     string
	Transport     string // nsq or nats
	HTTPPort      string // :8082, serves /healthz and /metrics
	PoolSize      int
	EventEnvelope bool // inbound messages are JSON encoded events, not raw payloads
	DrainTimeout  time.Duration
	HTTP          HTTP
	NSQ           NSQ
	NATS          NATS
	DB            DB
	FakeReceiver  FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getenvAllowEmpty distinguishes an unset variable from one set to "".
func getenvAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getenvDuration accepts Go durations ("500ms") and plain seconds ("0.5").
func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// ParseDuration parses "10s"-style durations and bare numbers of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// ParseHeaders reads either a JSON object or a comma separated list of
// Key=Value pairs.
func ParseHeaders(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	headers := map[string]string{}
	if s == "" {
		return headers, nil
	}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &headers); err != nil {
			return nil, fmt.Errorf("parse headers: %w", err)
		}
		return headers, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("parse headers: malformed pair %q", part)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}

func FromEnv() Config {
	headers, err := ParseHeaders(os.Getenv("ADDITIONAL_HEADERS"))
	if err != nil {
		headers = map[string]string{}
	}
	return Config{
		AppName:       getenv("APP_NAME", "httpout"),
		ActorName:     getenv("ACTOR_NAME", "httpout"),
		Transport:     strings.ToLower(getenv("TRANSPORT", "nsq")),
		HTTPPort:      getenv("HTTP_PORT", ":8082"),
		PoolSize:      getenvInt("POOL_SIZE", 1),
		EventEnvelope: getenvBool("EVENT_ENVELOPE", false),
		DrainTimeout:  getenvDuration("DRAIN_TIMEOUT", 30*time.Second),
		HTTP: HTTP{
			URL:               getenv("TARGET_URL", "http://localhost"),
			Method:            getenv("METHOD", "PUT"),
			ContentType:       getenv("CONTENT_TYPE", "application/json"),
			Accept:            getenv("ACCEPT", "text/plain"),
			AdditionalHeaders: headers,
			Username:          getenv("HTTP_USERNAME", ""),
			Password:          getenv("HTTP_PASSWORD", ""),
			AllowRedirects:    getenvBool("ALLOW_REDIRECTS", false),
			Timeout:           getenvDuration("TIMEOUT", 10*time.Second),
			VerifySSL:         getenvBool("VERIFY_SSL", true),
			Selection:         getenvAllowEmpty("SELECTION", "data"),
			NativeEvent:       getenvBool("NATIVE_EVENT", false),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			InboxTopic:     getenv("NSQ_INBOX_TOPIC", "events"),
			Channel:        getenv("NSQ_CHANNEL", "httpout"),
			OutboxTopic:    getenvAllowEmpty("NSQ_OUTBOX_TOPIC", "events_delivered"),
			FailedTopic:    getenv("NSQ_FAILED_TOPIC", "events_failed"),
		},
		NATS: NATS{
			URL:           getenv("NATS_URL", "nats://localhost:4222"),
			InboxSubject:  getenv("NATS_INBOX_SUBJECT", "events"),
			QueueGroup:    getenv("NATS_QUEUE_GROUP", "httpout"),
			OutboxSubject: getenvAllowEmpty("NATS_OUTBOX_SUBJECT", "events.delivered"),
			FailedSubject: getenv("NATS_FAILED_SUBJECT", "events.failed"),
		},
		DB: DB{
			Enabled: getenvBool("JOURNAL_ENABLED", false),
			User:    getenv("DB_USER", "postgres"),
			Pass:    getenv("DB_PASS", "postgres"),
			Host:    getenv("DB_HOST", "postgres"),
			Port:    getenv("DB_PORT", "5432"),
			Name:    getenv("DB_NAME", "httpout"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			ResponseStatus:  getenvInt("RESPONSE_STATUS", 200),
			ResponseBody:    getenv("RESPONSE_BODY", `{"ok":true}`),
			Username:        getenv("EXPECT_USERNAME", ""),
			Password:        getenv("EXPECT_PASSWORD", ""),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// Validate checks settings that would otherwise only fail once events arrive.
func (c Config) Validate() error {
	if c.ActorName == "" {
		return fmt.Errorf("config: actor name is required")
	}
	if c.HTTP.URL == "" {
		return fmt.Errorf("config: url is required")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool size must be at least 1, got %d", c.PoolSize)
	}
	switch c.Transport {
	case "nsq", "nats":
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	return nil
}
