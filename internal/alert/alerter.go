// Package alert notifies operators about promotions and durable store
// outages through Slack incoming webhooks and generic JSON webhooks.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rchs819/leela-zero-server/internal/metrics"
)

// Kind categorizes an alert.
type Kind string

const (
	KindPromotion        Kind = "PROMOTION"
	KindPromotionFailed  Kind = "PROMOTION_FAILED"
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	KindStoreRecovered   Kind = "STORE_RECOVERED"
)

// Severity ranks the kind for receivers that route by urgency.
func (k Kind) Severity() string {
	switch k {
	case KindStoreUnavailable:
		return "critical"
	case KindPromotionFailed:
		return "error"
	default:
		return "info"
	}
}

// Alert is a single operator notification. Subject scopes the cooldown: the
// network hash for promotion events, the breaker name for store events.
type Alert struct {
	Kind    Kind
	Subject string
	Title   string
	Message string
	Fields  map[string]string
	At      time.Time
}

func (a Alert) sortedFields() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Alerter delivers alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Channel is an Alerter with a stable name for metrics and logs.
type Channel interface {
	Alerter
	Name() string
}

// MultiAlerter fans an alert out to every channel and suppresses repeats of
// the same kind and subject inside the cooldown window.
type MultiAlerter struct {
	channels []Channel
	cooldown time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewMultiAlerter returns a fan-out alerter over channels.
func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, channels ...Channel) *MultiAlerter {
	return &MultiAlerter{
		channels: channels,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// suppress reports whether alert repeats one sent within the cooldown, and
// records it as sent otherwise.
func (m *MultiAlerter) suppress(a Alert) bool {
	key := string(a.Kind) + ":" + a.Subject

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[key]; ok && a.At.Sub(last) < m.cooldown {
		return true
	}
	m.lastSent[key] = a.At
	return false
}

// Send delivers alert on every channel. A failing channel does not stop the
// others; the joined error reports every failure.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = m.now()
	}
	if m.suppress(alert) {
		m.logger.Debug("alert suppressed by cooldown", "kind", alert.Kind, "subject", alert.Subject)
		for _, ch := range m.channels {
			metrics.AlertsCooldownSkipped.WithLabelValues(ch.Name(), string(alert.Kind)).Inc()
		}
		return nil
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			m.logger.Warn("alert send failed", "channel", ch.Name(), "kind", alert.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(ch.Name(), string(alert.Kind)).Inc()
	}
	return errors.Join(errs...)
}

func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackAlerter posts alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

// NewSlackAlerter returns a Slack channel for webhookURL.
func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackAlerter) Name() string { return "slack" }

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func slackStyle(k Kind) (emoji, color string) {
	switch k {
	case KindPromotion:
		return ":trophy:", "good"
	case KindStoreRecovered:
		return ":white_check_mark:", "good"
	case KindStoreUnavailable:
		return ":rotating_light:", "danger"
	default:
		return ":warning:", "warning"
	}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji, color := slackStyle(alert.Kind)
	payload := slackPayload{
		Text: fmt.Sprintf("%s *[%s]* %s: %s\n%s", emoji, alert.Kind, alert.Subject, alert.Title, alert.Message),
	}

	att := slackAttachment{Color: color, Footer: "leelaz-server", Ts: alert.At.Unix()}
	for _, k := range alert.sortedFields() {
		att.Fields = append(att.Fields, slackField{Title: k, Value: alert.Fields[k], Short: true})
	}
	payload.Attachments = []slackAttachment{att}

	if err := postJSON(ctx, s.client, s.webhookURL, payload); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// WebhookAlerter posts alerts as flat JSON documents to an HTTP endpoint.
type WebhookAlerter struct {
	url    string
	client *http.Client
}

// NewWebhookAlerter returns a webhook channel for url.
func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookAlerter) Name() string { return "webhook" }

type webhookPayload struct {
	Kind     string            `json:"kind"`
	Severity string            `json:"severity"`
	Subject  string            `json:"subject"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Time     string            `json:"time"`
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	at := alert.At
	if at.IsZero() {
		at = time.Now()
	}
	payload := webhookPayload{
		Kind:     string(alert.Kind),
		Severity: alert.Kind.Severity(),
		Subject:  alert.Subject,
		Title:    alert.Title,
		Message:  alert.Message,
		Fields:   alert.Fields,
		Time:     at.UTC().Format(time.RFC3339),
	}
	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// NoopAlerter drops every alert. It stands in when no channel is configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
