package httpout

import (
	"time"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/event"
)

// Resolver produces a parameter value for one event. Resolvers run once per
// consumed event and must not retain the event.
type Resolver[T any] func(e *event.Event) T

// Static returns a Resolver that ignores the event.
func Static[T any](v T) Resolver[T] {
	return func(*event.Event) T { return v }
}

// Config holds the settings of one delivery actor. Start from DefaultConfig:
// the zero value disables TLS verification and selects the whole event.
type Config struct {
	URL               string
	Method            Resolver[string]
	ContentType       Resolver[string]
	Accept            Resolver[string]
	AdditionalHeaders Resolver[map[string]string]
	Username          Resolver[string]
	Password          Resolver[string]
	AllowRedirects    bool
	Timeout           time.Duration
	VerifySSL         bool
	Selection         string // "" selects the whole event
	NativeEvent       bool   // submit the whole event and ignore Selection
}

const (
	DefaultMethod      = "PUT"
	DefaultContentType = "application/json"
	DefaultAccept      = "text/plain"
	DefaultTimeout     = 10 * time.Second
	DefaultSelection   = "data"
)

func DefaultConfig() Config {
	return Config{
		Method:            Static(DefaultMethod),
		ContentType:       Static(DefaultContentType),
		Accept:            Static(DefaultAccept),
		AdditionalHeaders: Static(map[string]string{}),
		Username:          Static(""),
		Password:          Static(""),
		AllowRedirects:    false,
		Timeout:           DefaultTimeout,
		VerifySSL:         true,
		Selection:         DefaultSelection,
	}
}

// ConfigFrom builds static resolvers from environment/flag settings.
func ConfigFrom(s config.HTTP) Config {
	cfg := DefaultConfig()
	cfg.URL = s.URL
	if s.Method != "" {
		cfg.Method = Static(s.Method)
	}
	if s.ContentType != "" {
		cfg.ContentType = Static(s.ContentType)
	}
	if s.Accept != "" {
		cfg.Accept = Static(s.Accept)
	}
	if s.AdditionalHeaders != nil {
		headers := make(map[string]string, len(s.AdditionalHeaders))
		for k, v := range s.AdditionalHeaders {
			headers[k] = v
		}
		cfg.AdditionalHeaders = Static(headers)
	}
	cfg.Username = Static(s.Username)
	cfg.Password = Static(s.Password)
	cfg.AllowRedirects = s.AllowRedirects
	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}
	cfg.VerifySSL = s.VerifySSL
	cfg.Selection = s.Selection
	cfg.NativeEvent = s.NativeEvent
	return cfg
}

// withDefaults fills resolvers left nil.
func (c Config) withDefaults() Config {
	if c.Method == nil {
		c.Method = Static(DefaultMethod)
	}
	if c.ContentType == nil {
		c.ContentType = Static(DefaultContentType)
	}
	if c.Accept == nil {
		c.Accept = Static(DefaultAccept)
	}
	if c.AdditionalHeaders == nil {
		c.AdditionalHeaders = Static(map[string]string{})
	}
	if c.Username == nil {
		c.Username = Static("")
	}
	if c.Password == nil {
		c.Password = Static("")
	}
	return c
}
