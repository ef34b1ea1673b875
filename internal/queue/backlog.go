package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/austindbirch/httpout/internal/logging"
	"github.com/austindbirch/httpout/internal/metrics"
)

// nsqStats is the subset of nsqd's /stats?format=json we read.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName string `json:"channel_name"`
			Depth       int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// BacklogMonitor polls nsqd and exports the inbox channel depth.
type BacklogMonitor struct {
	NsqdHTTPAddr string
	Topic        string
	Channel      string
	Interval     time.Duration
	Client       *http.Client
	Logger       *logging.Logger
}

// Poll reads the current depth once and updates the gauge.
func (m *BacklogMonitor) Poll(ctx context.Context) (int64, error) {
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	q := url.Values{"format": {"json"}, "topic": {m.Topic}, "channel": {m.Channel}}
	target := fmt.Sprintf("http://%s/stats?%s", m.NsqdHTTPAddr, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("nsq stats returned status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decode nsq stats: %w", err)
	}
	var depth int64
	for _, topic := range stats.Topics {
		if topic.TopicName != m.Topic {
			continue
		}
		for _, ch := range topic.Channels {
			if ch.ChannelName == m.Channel {
				depth = ch.Depth
			}
		}
	}
	metrics.UpdateInboxBacklog(m.Topic, m.Channel, float64(depth))
	return depth, nil
}

// Run polls every Interval until ctx is done.
func (m *BacklogMonitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Poll(ctx); err != nil && m.Logger != nil {
				m.Logger.Plain().WithError(err).Error("Failed to update inbox backlog")
			}
		}
	}
}
