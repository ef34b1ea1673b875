package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/event"
	"github.com/austindbirch/httpout/internal/httpout"
	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/queue"
	"github.com/austindbirch/httpout/internal/runner"
)

const sendActor = "httpoutctl"

var errDeliveryFailed = errors.New("delivery failed")

type sendResult struct {
	EventID            string             `json:"event_id"`
	Method             string             `json:"method"`
	URL                string             `json:"url"`
	Delivered          bool               `json:"delivered"`
	StatusCode         int                `json:"status_code,omitempty"`
	ServerResponse     string             `json:"server_response,omitempty"`
	ServerResponseJSON any                `json:"server_response_json,omitempty"`
	Error              *event.ErrorRecord `json:"error,omitempty"`
}

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [payload|-]",
	Short: "Submit one payload to an HTTP endpoint",
	Long: `Wrap a payload in an event and submit it exactly like a worker would.
The payload is read from stdin when omitted or "-".

Examples:
  httpoutctl send --url http://localhost:8081/hook '{"hello":"world"}'
  echo hi | httpoutctl send --url http://localhost:8081/hook --method post --content-type text/plain
  httpoutctl send --url https://api.example.com/in --header X-Remote-Auth=token --username u --password p -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		settings, err := sendSettings()
		if err != nil {
			return err
		}

		res, err := runSend(cmd.Context(), httpout.ConfigFrom(settings), payload, viper.GetBool("envelope"))
		if err != nil {
			return err
		}
		if err := printOutput(cmd.OutOrStdout(), res, res.rows()); err != nil {
			return err
		}
		if !res.Delivered {
			return errDeliveryFailed
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	f := sendCmd.Flags()
	f.String("url", "", "target URL (required)")
	f.String("method", httpout.DefaultMethod, "PUT or POST")
	f.String("content-type", httpout.DefaultContentType, "Content-Type header")
	f.String("accept", httpout.DefaultAccept, "Accept header")
	f.StringSlice("header", nil, "additional header as Name=value, repeatable")
	f.String("username", "", "basic auth username")
	f.String("password", "", "basic auth password")
	f.String("selection", httpout.DefaultSelection, `event path to submit, "" for the whole event`)
	f.Bool("allow-redirects", false, "follow redirects")
	f.Bool("verify-ssl", true, "verify TLS certificates")
	f.Bool("native-event", false, "submit the whole event instead of the selection")
	f.Bool("envelope", false, "payload is a JSON encoded event")

	for _, name := range []string{"url", "method", "content-type", "accept", "header", "username", "password", "selection", "allow-redirects", "verify-ssl", "native-event", "envelope"} {
		_ = viper.BindPFlag(name, f.Lookup(name))
	}
}

func sendSettings() (config.HTTP, error) {
	headers := map[string]string{}
	for _, h := range viper.GetStringSlice("header") {
		parsed, err := config.ParseHeaders(h)
		if err != nil {
			return config.HTTP{}, fmt.Errorf("--header %q: %w", h, err)
		}
		for k, v := range parsed {
			headers[k] = v
		}
	}
	s := config.HTTP{
		URL:               viper.GetString("url"),
		Method:            viper.GetString("method"),
		ContentType:       viper.GetString("content-type"),
		Accept:            viper.GetString("accept"),
		AdditionalHeaders: headers,
		Username:          viper.GetString("username"),
		Password:          viper.GetString("password"),
		AllowRedirects:    viper.GetBool("allow-redirects"),
		Timeout:           timeout,
		VerifySSL:         viper.GetBool("verify-ssl"),
		Selection:         viper.GetString("selection"),
		NativeEvent:       viper.GetBool("native-event"),
	}
	if s.URL == "" {
		return s, errors.New("--url is required")
	}
	return s, nil
}

func readPayload(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return b, nil
}

// runSend pushes one event through the same runner path a worker uses and
// collects the routed result.
func runSend(ctx context.Context, cfg httpout.Config, payload []byte, native bool) (sendResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := queue.Decode(payload, native)
	if err != nil {
		return sendResult{}, err
	}
	actor, err := httpout.New(sendActor, cfg, httpout.WithLogger(logging.Discard()))
	if err != nil {
		return sendResult{}, err
	}

	outbox, failed := make(queue.ChannelSink, 1), make(queue.ChannelSink, 1)
	r := &runner.Runner{Consumer: actor, Outbox: outbox, Failed: failed, Logger: logging.Discard()}
	if err := r.Process(ctx, e); err != nil {
		return sendResult{}, err
	}

	res := sendResult{EventID: e.ID, URL: cfg.URL, Method: cfg.Method(e)}
	select {
	case <-outbox:
		res.Delivered = true
	case <-failed:
		rec := e.Errors[sendActor]
		res.Error = &rec
	}
	if v, err := e.Get("tmp." + sendActor + "." + httpout.FieldStatusCode); err == nil {
		res.StatusCode, _ = v.(int)
	}
	if v, err := e.Get("tmp." + sendActor + "." + httpout.FieldServerResponse); err == nil {
		res.ServerResponse, _ = v.(string)
	}
	if v, err := e.Get("tmp." + sendActor + "." + httpout.FieldServerResponseJSON); err == nil {
		res.ServerResponseJSON = v
	}
	return res, nil
}

func (r sendResult) rows() [][2]string {
	rows := [][2]string{
		{"Event", r.EventID},
		{"Request", r.Method + " " + r.URL},
		{"Delivered", strconv.FormatBool(r.Delivered)},
	}
	if r.StatusCode != 0 {
		rows = append(rows, [2]string{"Status", strconv.Itoa(r.StatusCode)})
		rows = append(rows, [2]string{"Response", r.ServerResponse})
	}
	if r.Error != nil {
		rows = append(rows, [2]string{"Error class", r.Error.Class}, [2]string{"Reason", r.Error.Reason})
	}
	return rows
}
