package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rchs819/leela-zero-server/internal/metrics"
)

// auditRecord is one decoded audit log line.
type auditRecord struct {
	Msg       string `json:"msg"`
	Level     string `json:"level"`
	RequestID string `json:"request_id"`
	Operator  string `json:"operator"`
	Route     string `json:"route"`
	Path      string `json:"path"`
	Body      string `json:"body"`
	Status    int    `json:"status"`
}

func auditHandler(t *testing.T, status int) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	mux := http.NewServeMux()
	h := func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
	}
	mux.HandleFunc("POST /admin/v1/queue/rebuild", h)
	mux.HandleFunc("POST /admin/v1/networks/rescan", h)
	mux.HandleFunc("GET /admin/v1/queue", h)
	return AuditMiddleware(logger, mux), &buf
}

func decodeAudit(t *testing.T, buf *bytes.Buffer) auditRecord {
	t.Helper()
	var rec auditRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), buf.String())
	return rec
}

func TestAuditMiddleware_RecordsOperatorAction(t *testing.T) {
	handler, buf := auditHandler(t, http.StatusAccepted)
	before := testutil.ToFloat64(metrics.AdminActions.WithLabelValues("POST /admin/v1/queue/rebuild", "ok"))

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/queue/rebuild", strings.NewReader(`{"reason":"manual"}`))
	req.SetBasicAuth("ops", "key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	got := decodeAudit(t, buf)
	assert.Equal(t, "admin action", got.Msg)
	assert.Equal(t, "ops", got.Operator)
	assert.Equal(t, "POST /admin/v1/queue/rebuild", got.Route)
	assert.Equal(t, `{"reason":"manual"}`, got.Body)
	assert.Equal(t, http.StatusAccepted, got.Status)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), got.RequestID)
	_, err := uuid.Parse(got.RequestID)
	assert.NoError(t, err)

	after := testutil.ToFloat64(metrics.AdminActions.WithLabelValues("POST /admin/v1/queue/rebuild", "ok"))
	assert.Equal(t, before+1, after)
}

func TestAuditMiddleware_KeepsCallerRequestID(t *testing.T) {
	handler, buf := auditHandler(t, http.StatusOK)
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/networks/rescan", nil)
	req.Header.Set("X-Request-ID", id)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	got := decodeAudit(t, buf)
	assert.Equal(t, id, got.RequestID)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "bearer", got.Operator)
	assert.NotContains(t, buf.String(), "secret")
}

func TestAuditMiddleware_SkipsReadOnlyRequests(t *testing.T) {
	handler, buf := auditHandler(t, http.StatusOK)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/queue", nil))

	assert.Zero(t, buf.Len())
	assert.Empty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuditMiddleware_UnroutedRequest(t *testing.T) {
	handler, buf := auditHandler(t, http.StatusOK)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/v1/nothing", nil))

	got := decodeAudit(t, buf)
	assert.Equal(t, http.StatusNotFound, got.Status)
	assert.Equal(t, "DELETE /admin/v1/nothing", got.Route)
	assert.Equal(t, "anonymous", got.Operator)
}

func TestAuditMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	handler, buf := auditHandler(t, http.StatusServiceUnavailable)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/queue/rebuild", nil))

	got := decodeAudit(t, buf)
	assert.Equal(t, "WARN", got.Level)
	assert.Equal(t, http.StatusServiceUnavailable, got.Status)
}

func TestAuditMiddleware_ForwardsWholeBody(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var forwarded int
	handler := AuditMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		forwarded = len(b)
	}))

	large := strings.Repeat("x", 3000)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/v1/networks/rescan", strings.NewReader(large)))

	assert.Equal(t, len(large), forwarded)
	assert.Contains(t, decodeAudit(t, &buf).Body, "...(truncated)")
}

func TestSummarizeBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: ""},
		{name: "whitespace", body: " \n", want: ""},
		{name: "json compacted", body: "{ \"reason\" : \"manual\" }", want: `{"reason":"manual"}`},
		{name: "secrets redacted", body: `{"Key":"k","training_key":"t","hash":"ab"}`, want: `{"Key":"[redacted]","hash":"ab","training_key":"[redacted]"}`},
		{name: "plain text", body: "rescan please", want: "rescan please"},
		{name: "truncated json", body: `{"key":"` + strings.Repeat("a", 2000) + `"}`, want: "(truncated json object)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarizeBody([]byte(tt.body)))
		})
	}
}
