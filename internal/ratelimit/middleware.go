// Package ratelimit provides per-endpoint, per-client HTTP rate limiting.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rchs819/leela-zero-server/internal/metrics"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	// cleanupInterval is how often the background goroutine sweeps stale entries.
	cleanupInterval = 1 * time.Minute
)

// Rule limits requests whose method and path prefix match. An empty Method
// matches any method and an empty Prefix any path.
type Rule struct {
	Method string
	Prefix string
	RPS    float64
	Burst  int
}

func (r Rule) key() string {
	return r.Method + ":" + r.Prefix
}

// limiterEntry wraps a rate.Limiter with a last-accessed timestamp for TTL-based eviction.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Middleware applies the first matching rule per client IP.
type Middleware struct {
	server string

	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "rule|clientIP"
	rules    []Rule
	fallback Rule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a middleware for the named server. Requests matching no rule use
// fallback. It starts a background goroutine that removes idle limiters; call
// Stop to release it.
func New(server string, rules []Rule, fallback Rule, logger *slog.Logger) *Middleware {
	fallback.Method, fallback.Prefix = "", ""
	m := &Middleware{
		server:   server,
		limiters: make(map[string]*limiterEntry),
		rules:    rules,
		fallback: fallback,
		logger:   logger.With("component", "ratelimit", "server", server),
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// Stop shuts down the background cleanup goroutine. Safe to call multiple times.
func (m *Middleware) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *Middleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *Middleware) evictStale() {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(m.limiters, key)
		}
	}
}

// LimiterCount returns the number of active limiter entries.
func (m *Middleware) LimiterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.limiters)
}

// Wrap returns an http.Handler that applies per-IP rate limiting before delegating to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ClientIP(r)
		rule := m.match(r.Method, r.URL.Path)

		if !m.limiter(rule, clientIP).Allow() {
			metrics.RateLimited.WithLabelValues(m.server).Inc()
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			m.logger.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) match(method, path string) Rule {
	for _, rule := range m.rules {
		if rule.Method != "" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		return rule
	}
	return m.fallback
}

func (m *Middleware) limiter(rule Rule, clientIP string) *rate.Limiter {
	now := m.nowFunc()
	key := rule.key() + "|" + clientIP

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rule.RPS), rule.Burst)
	m.limiters[key] = &limiterEntry{
		limiter:  limiter,
		lastSeen: now,
	}
	return limiter
}
