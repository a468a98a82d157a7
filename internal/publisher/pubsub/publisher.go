// Package pubsub publishes check notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/account-tracker/internal/runlog"
	"github.com/JakeFAU/account-tracker/internal/tracker"
)

// Config names the project and topic to publish to.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether both project and topic are set.
func (c Config) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

// Notification is the JSON payload of one published check.
type Notification struct {
	Timestamp  string `json:"timestamp_utc"`
	Handle     string `json:"handle"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	PostCount  *int64 `json:"posts_count,omitempty"`
	Visible    string `json:"has_visible_posts,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NotificationFor builds the payload for rec.
func NotificationFor(rec tracker.CheckRecord) Notification {
	return Notification{
		Timestamp:  runlog.FormatTimestamp(rec.Timestamp),
		Handle:     string(rec.Target),
		URL:        rec.URL,
		Status:     string(rec.Status),
		PostCount:  rec.PostCount,
		Visible:    string(rec.Visible),
		Screenshot: rec.Screenshot,
		Error:      rec.Error,
	}
}

// Publisher implements tracker.RecordSink on a Pub/Sub topic.
type Publisher struct {
	topic   *pubsub.Topic
	timeout time.Duration
}

// New wraps topic. The caller owns the client that created it.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic, timeout: 10 * time.Second}
}

// Record publishes rec as JSON with the status as a message attribute and
// waits for the server ack.
func (p *Publisher) Record(ctx context.Context, rec tracker.CheckRecord) error {
	if p == nil || p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(NotificationFor(rec))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"status": string(rec.Status),
			"handle": string(rec.Target),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
