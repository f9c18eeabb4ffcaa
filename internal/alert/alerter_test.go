package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storeDown() Alert {
	return Alert{
		Kind:    KindStoreUnavailable,
		Subject: "store",
		Title:   "Store unavailable",
		Message: "storage calls are failing fast until the store recovers",
		Fields:  map[string]string{"failures": "5", "open_for": "30s"},
	}
}

// countingServer returns a receiver that answers with status and counts hits.
func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// capturingServer returns a receiver that records the last request body.
func capturingServer(t *testing.T) (*httptest.Server, *[]byte) {
	t.Helper()
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body = b
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func TestMultiAlerter_FansOutToEveryChannel(t *testing.T) {
	slackSrv, slackHits := countingServer(t, http.StatusOK)
	hookSrv, hookHits := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(hookSrv.URL))
	require.NoError(t, multi.Send(context.Background(), storeDown()))

	assert.Equal(t, int32(1), slackHits.Load())
	assert.Equal(t, int32(1), hookHits.Load())
}

func TestMultiAlerter_Cooldown(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	multi.now = func() time.Time { return clock }

	require.NoError(t, multi.Send(context.Background(), storeDown()))
	require.NoError(t, multi.Send(context.Background(), storeDown()))
	assert.Equal(t, int32(1), hits.Load(), "repeat inside the cooldown is suppressed")

	recovered := storeDown()
	recovered.Kind = KindStoreRecovered
	require.NoError(t, multi.Send(context.Background(), recovered))
	assert.Equal(t, int32(2), hits.Load(), "a different kind has its own cooldown")

	clock = clock.Add(time.Minute)
	require.NoError(t, multi.Send(context.Background(), storeDown()))
	assert.Equal(t, int32(3), hits.Load(), "cooldown elapsed")
}

func TestMultiAlerter_CooldownPerNetwork(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, subject := range []string{"aaaa", "bbbb", "aaaa"} {
		require.NoError(t, multi.Send(context.Background(), Alert{Kind: KindPromotion, Subject: subject, At: at}))
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	failSrv, _ := countingServer(t, http.StatusInternalServerError)
	goodSrv, goodHits := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(failSrv.URL), NewSlackAlerter(goodSrv.URL))
	err := multi.Send(context.Background(), storeDown())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook")
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(1), goodHits.Load(), "healthy channel still receives the alert")
}

func TestSlackAlerter_Payload(t *testing.T) {
	srv, body := capturingServer(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := NewSlackAlerter(srv.URL).Send(context.Background(), Alert{
		Kind:    KindPromotion,
		Subject: "d645af97",
		Title:   "New best network",
		Message: "d645af97 replaces 92c658d7",
		Fields:  map[string]string{"wins": "230", "losses": "170"},
		At:      at,
	})
	require.NoError(t, err)

	var payload slackPayload
	require.NoError(t, json.Unmarshal(*body, &payload))

	assert.True(t, strings.HasPrefix(payload.Text, ":trophy: *[PROMOTION]* d645af97: New best network"), payload.Text)
	require.Len(t, payload.Attachments, 1)
	att := payload.Attachments[0]
	assert.Equal(t, "good", att.Color)
	assert.Equal(t, at.Unix(), att.Ts)
	require.Len(t, att.Fields, 2)
	assert.Equal(t, "losses", att.Fields[0].Title, "fields are sorted by key")
	assert.Equal(t, "wins", att.Fields[1].Title)
}

func TestSlackStyle(t *testing.T) {
	tests := []struct {
		kind  Kind
		emoji string
		color string
	}{
		{KindPromotion, ":trophy:", "good"},
		{KindPromotionFailed, ":warning:", "warning"},
		{KindStoreUnavailable, ":rotating_light:", "danger"},
		{KindStoreRecovered, ":white_check_mark:", "good"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			emoji, color := slackStyle(tt.kind)
			assert.Equal(t, tt.emoji, emoji)
			assert.Equal(t, tt.color, color)
		})
	}
}

func TestWebhookAlerter_Payload(t *testing.T) {
	srv, body := capturingServer(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	err := NewWebhookAlerter(srv.URL).Send(context.Background(), Alert{
		Kind:    KindPromotionFailed,
		Subject: "d645af97",
		Title:   "Promotion failed",
		Message: "rename best-network.gz: permission denied",
		Fields:  map[string]string{"match_id": "018f2c6e"},
		At:      at,
	})
	require.NoError(t, err)

	var payload webhookPayload
	require.NoError(t, json.Unmarshal(*body, &payload))
	assert.Equal(t, webhookPayload{
		Kind:     "PROMOTION_FAILED",
		Severity: "error",
		Subject:  "d645af97",
		Title:    "Promotion failed",
		Message:  "rename best-network.gz: permission denied",
		Fields:   map[string]string{"match_id": "018f2c6e"},
		Time:     "2024-03-01T11:00:00Z",
	}, payload)
}

func TestKindSeverity(t *testing.T) {
	assert.Equal(t, "critical", KindStoreUnavailable.Severity())
	assert.Equal(t, "error", KindPromotionFailed.Severity())
	assert.Equal(t, "info", KindPromotion.Severity())
	assert.Equal(t, "info", KindStoreRecovered.Severity())
}

func TestNoopAlerter(t *testing.T) {
	assert.NoError(t, (&NoopAlerter{}).Send(context.Background(), storeDown()))
}
