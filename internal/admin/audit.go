package admin

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/ratelimit"
)

const (
	maxAuditBodyBytes = 1024
	requestIDHeader   = "X-Request-ID"
	redacted          = "[redacted]"
)

// sensitiveFields are blanked out of logged request bodies.
var sensitiveFields = map[string]bool{
	"key":          true,
	"password":     true,
	"token":        true,
	"training_key": true,
}

// AuditMiddleware records every state-changing operator request: who sent
// it, which route handled it and how it ended. Read-only requests pass
// through untouched.
func AuditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	auditLogger := logger.With("component", "admin_audit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		requestID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
			if err == nil {
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			}
		}

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		// The admin mux records the matched pattern on r while routing.
		route := r.Pattern
		if route == "" {
			route = r.Method + " " + r.URL.Path
		}
		outcome := "ok"
		if sw.statusCode >= http.StatusBadRequest {
			outcome = "error"
		}
		metrics.AdminActions.WithLabelValues(route, outcome).Inc()

		level := slog.LevelInfo
		if sw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		auditLogger.Log(r.Context(), level, "admin action",
			"request_id", requestID,
			"operator", operator(r),
			"client_ip", ratelimit.ClientIP(r),
			"route", route,
			"path", r.URL.Path,
			"body", summarizeBody(body),
			"status", sw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// operator names the caller. Basic auth users name themselves; bearer
// callers share the token and are not distinguishable.
func operator(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		return user
	}
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return "bearer"
	}
	return "anonymous"
}

// summarizeBody returns a loggable form of the captured body. JSON objects
// are compacted with secrets blanked; anything else is truncated verbatim.
func summarizeBody(body []byte) string {
	truncated := len(body) > maxAuditBodyBytes
	if truncated {
		body = body[:maxAuditBodyBytes]
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	if truncated && body[0] == '{' {
		// Cannot redact a partial object.
		return "(truncated json object)"
	}
	if !truncated {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err == nil {
			for k := range fields {
				if sensitiveFields[strings.ToLower(k)] {
					fields[k] = redacted
				}
			}
			if out, err := json.Marshal(fields); err == nil {
				return string(out)
			}
		}
	}
	s := string(body)
	if truncated {
		s += "...(truncated)"
	}
	return s
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.written = true
	return sw.ResponseWriter.Write(b)
}
