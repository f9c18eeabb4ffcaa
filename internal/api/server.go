// Package api serves the worker protocol over HTTP: task polling, game and
// match result uploads, network uploads and match requests.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rchs819/leela-zero-server/internal/circuitbreaker"
	"github.com/rchs819/leela-zero-server/internal/dispatch"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/ratelimit"
	"github.com/rchs819/leela-zero-server/internal/tracing"
	"github.com/rchs819/leela-zero-server/internal/weights"
)

// LegacyClientVersion is the last worker release that reports every client
// error as 400.
const LegacyClientVersion = 15

const maxFieldBytes = 4 << 10

// defaultRetryAfter is sent with 503s, in seconds.
const defaultRetryAfter = 30

// bestHashTrailer is the second line of /best-network-hash, still parsed by
// old workers.
const bestHashTrailer = "11"

// Service is what the handlers need from the dispatcher.
type Service interface {
	GetTask(ctx context.Context, req dispatch.TaskRequest) (model.Task, error)
	SubmitGame(ctx context.Context, sub dispatch.GameSubmission) (dispatch.GameResult, error)
	SubmitMatchResult(ctx context.Context, sub dispatch.MatchSubmission) (dispatch.MatchOutcome, error)
	IngestNetwork(ctx context.Context, body io.Reader) (*dispatch.IngestedNetwork, error)
	RegisterNetwork(ctx context.Context, in *dispatch.IngestedNetwork, meta dispatch.NetworkMeta) (dispatch.NetworkResult, error)
	DiscardNetwork(in *dispatch.IngestedNetwork)
	RequestMatch(ctx context.Context, req dispatch.MatchRequest) (model.Match, error)
	BestNetworkHash() (string, error)
}

// Config bounds request sizes and guards privileged endpoints.
type Config struct {
	// Key guards network uploads and match requests. Empty disables both.
	Key               string
	UploadIdleTimeout time.Duration
	MaxNetworkBytes   int64
	MaxRecordBytes    int64
}

// Server is the worker-facing HTTP API.
type Server struct {
	cfg     Config
	svc     Service
	logger  *slog.Logger
	limiter *ratelimit.Middleware
	proxies ratelimit.TrustedProxies
}

// ServerOption configures optional dependencies.
type ServerOption func(*Server)

// WithRateLimit limits requests per client.
func WithRateLimit(m *ratelimit.Middleware) ServerOption {
	return func(s *Server) { s.limiter = m }
}

// WithTrustedProxies believes forwarding headers from the given proxies when
// identifying clients.
func WithTrustedProxies(p ratelimit.TrustedProxies) ServerOption {
	return func(s *Server) { s.proxies = p }
}

// NewServer creates the worker API.
func NewServer(cfg Config, svc Service, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the worker API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get-task/{version}", s.handleGetTask)
	mux.HandleFunc("POST /submit", s.handleSubmitGame)
	mux.HandleFunc("POST /submit-match", s.handleSubmitMatch)
	mux.HandleFunc("POST /submit-network", s.handleSubmitNetwork)
	mux.HandleFunc("POST /request-match", s.handleRequestMatch)
	mux.HandleFunc("GET /best-network-hash", s.handleBestNetworkHash)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Wrap(h)
	}
	h = s.proxies.Wrap(h)
	return Instrument("worker", h)
}

// Instrument records request counts and latency per route pattern.
func Instrument(server string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracing.StartServerSpan(r, server)
		r = r.WithContext(ctx)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		tracing.EndServerSpan(span, route, sw.status)
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(server, route, strconv.Itoa(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(server, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.written = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the connection for deadlines.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 0 {
		http.Error(w, "client version must be a non-negative integer", http.StatusBadRequest)
		return
	}

	task, err := s.svc.GetTask(r.Context(), dispatch.TaskRequest{
		ClientID:      ratelimit.ClientIP(r),
		ClientVersion: version,
	})
	if err != nil {
		s.writeError(w, r, version, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(task); err != nil {
		s.logger.Warn("write task failed", "error", err)
	}
}

func (s *Server) handleBestNetworkHash(w http.ResponseWriter, r *http.Request) {
	hash, err := s.svc.BestNetworkHash()
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, hash+"\n"+bestHashTrailer)
}

// writeError maps domain errors to status codes. Workers up to the legacy
// version treat any 4xx the same, so not-found is reported as 400 to them.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, clientVersion int, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound && clientVersion > 0 && clientVersion <= LegacyClientVersion {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Info("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(err)))
	}
	http.Error(w, message(status, err), status)
}

// retryAfterSeconds uses the breaker cool-off when the store circuit is
// open and a fixed backoff otherwise.
func retryAfterSeconds(err error) int {
	var open *circuitbreaker.OpenError
	if errors.As(err, &open) && open.RetryAfter > 0 {
		return max(1, int((open.RetryAfter+time.Second-1)/time.Second))
	}
	return defaultRetryAfter
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, weights.ErrMalformedWeights):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, os.ErrDeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, model.ErrStorage), errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, model.ErrStale), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func message(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal server error"
	case http.StatusServiceUnavailable:
		return "storage unavailable, retry later"
	case http.StatusRequestTimeout:
		return "request body stalled"
	}
	return err.Error()
}

func (s *Server) authorized(key string) bool {
	if s.cfg.Key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Key)) == 1
}

func formInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, model.Validationf("%q is not an integer", raw)
	}
	return &v, nil
}

func formInt64(name, raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, model.Validationf("%s: %q is not a non-negative integer", name, raw)
	}
	if v == 0 {
		return nil, nil
	}
	return &v, nil
}
