package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

type TokenAlertKind string

const (
	AlertRenewalNeeded TokenAlertKind = "renewal_needed"
	AlertExpired       TokenAlertKind = "expired"
	AlertInvalidated   TokenAlertKind = "invalidated"
	AlertRefreshed     TokenAlertKind = "refreshed"
	AlertRefreshFailed TokenAlertKind = "refresh_failed"
)

// TokenAlert is an operator notification emitted by the token monitor.
type TokenAlert struct {
	Kind      TokenAlertKind `json:"kind"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier delivers token alerts to operators.
type Notifier interface {
	Notify(ctx context.Context, alert TokenAlert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert TokenAlert) error {
	log.Printf("TokenAlert: [%s] %s", alert.Kind, alert.Message)
	return nil
}

// MultiNotifier fans an alert out to every notifier; one failure does not
// stop the others.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, alert TokenAlert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, alert TokenAlert) error {
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf(":warning: *Marketplace token %s*\n%s", alert.Kind, alert.Message),
	})
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// RedisNotifier publishes alerts as JSON on a pub/sub channel.
type RedisNotifier struct {
	Redis   *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{Redis: client, channel: channel}
}

func (r *RedisNotifier) Notify(ctx context.Context, alert TokenAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := r.Redis.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", r.channel, err)
	}
	return nil
}
