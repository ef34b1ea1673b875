package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/httpout/internal/config"
	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/queue"
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish [payload|-]",
	Short: "Enqueue an event for running workers",
	Long: `Wrap a payload in an event and publish it to the inbox topic (NSQ) or
subject (NATS) that workers consume.

Examples:
  httpoutctl publish --nsqd localhost:4150 '{"hello":"world"}'
  httpoutctl publish --envelope --transport nats --nats-url nats://localhost:4222 --topic events -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		body, id, err := messageBody(payload, viper.GetBool("envelope"))
		if err != nil {
			return err
		}

		pub, closeFn, err := newPublisher(viper.GetString("transport"))
		if err != nil {
			return err
		}
		defer closeFn()

		topic := viper.GetString("topic")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := pub.Publish(ctx, topic, body); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}

		rows := [][2]string{{"Topic", topic}, {"Bytes", strconv.Itoa(len(body))}}
		if id != "" {
			rows = append(rows, [2]string{"Event", id})
		}
		return printOutput(cmd.OutOrStdout(),
			map[string]any{"event_id": id, "topic": topic, "bytes": len(body)},
			rows,
		)
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)

	f := publishCmd.Flags()
	f.String("transport", "nsq", "nsq or nats")
	f.String("nsqd", "localhost:4150", "nsqd TCP address")
	f.String("nats-url", "nats://localhost:4222", "NATS server URL")
	f.String("topic", "events", "inbox topic or subject")
	f.Bool("envelope", false, "wrap the payload in an event envelope, for workers with EVENT_ENVELOPE=true")

	_ = viper.BindPFlag("transport", f.Lookup("transport"))
	_ = viper.BindPFlag("nsqd", f.Lookup("nsqd"))
	_ = viper.BindPFlag("nats-url", f.Lookup("nats-url"))
	_ = viper.BindPFlag("topic", f.Lookup("topic"))
	_ = viper.BindPFlag("envelope", f.Lookup("envelope"))
}

func newPublisher(transport string) (queue.Publisher, func(), error) {
	switch transport {
	case "nsq":
		p, err := queue.NewNSQPublisher(viper.GetString("nsqd"))
		if err != nil {
			return nil, nil, err
		}
		return p, p.Stop, nil
	case "nats":
		c, err := queue.NewNATSClient(config.NATS{URL: viper.GetString("nats-url")}, "httpoutctl", logging.Discard())
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q (use nsq or nats)", transport)
}

// messageBody returns the payload untouched, or wrapped in a new event
// envelope together with the event id.
func messageBody(payload []byte, envelope bool) ([]byte, string, error) {
	if !envelope {
		if len(payload) == 0 {
			return nil, "", queue.ErrEmptyMessage
		}
		return payload, "", nil
	}
	e, err := queue.Decode(payload, false)
	if err != nil {
		return nil, "", err
	}
	b, err := queue.Encode(e)
	if err != nil {
		return nil, "", err
	}
	return b, e.ID, nil
}
