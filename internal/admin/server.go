package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rchs819/leela-zero-server/internal/dispatch"
	"github.com/rchs819/leela-zero-server/internal/scheduler"
)

// QueueInspector exposes the in-memory match queue.
type QueueInspector interface {
	Snapshot() []scheduler.EntryView
	Outstanding() int
}

// FastClientLister exposes the current fast-client set.
type FastClientLister interface {
	List() ([]string, time.Time)
}

// Rebuilder reloads the match queue from storage.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Operator is the part of the dispatcher the admin API drives. In production
// this is satisfied by *dispatch.Dispatcher.
type Operator interface {
	Status(ctx context.Context) (dispatch.Status, error)
	RescanArchitectures(ctx context.Context) (int, error)
}

// Server provides an HTTP-based admin API for operational management.
type Server struct {
	key       string
	queue     QueueInspector
	fast      FastClientLister
	rebuilder Rebuilder
	operator  Operator
	logger    *slog.Logger
}

// NewServer creates a new admin API server. Every request must carry key;
// an empty key rejects all requests.
func NewServer(key string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		key:    key,
		logger: logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithScheduler wires the queue, fast-client and rebuild endpoints.
func WithScheduler(s *scheduler.Scheduler) ServerOption {
	return func(srv *Server) {
		srv.queue = s.Queue()
		srv.fast = s.FastClients()
		srv.rebuilder = s
	}
}

// WithQueue sets the queue inspector.
func WithQueue(q QueueInspector) ServerOption {
	return func(s *Server) { s.queue = q }
}

// WithFastClients sets the fast-client lister.
func WithFastClients(f FastClientLister) ServerOption {
	return func(s *Server) { s.fast = f }
}

// WithRebuilder sets the queue rebuilder.
func WithRebuilder(r Rebuilder) ServerOption {
	return func(s *Server) { s.rebuilder = r }
}

// WithOperator sets the status and maintenance provider.
func WithOperator(o Operator) ServerOption {
	return func(s *Server) { s.operator = o }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/queue", s.handleQueue)
	mux.HandleFunc("POST /admin/v1/queue/rebuild", s.handleRebuild)
	mux.HandleFunc("GET /admin/v1/fast-clients", s.handleFastClients)
	mux.HandleFunc("GET /admin/v1/status", s.handleStatus)
	mux.HandleFunc("POST /admin/v1/networks/rescan", s.handleRescan)
	return s.requireKey(mux)
}

// requireKey accepts the shared key as a bearer token or as the basic auth
// password.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.key == "" {
		return false
	}
	var presented string
	if _, pass, ok := r.BasicAuth(); ok {
		presented = pass
	} else if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		presented = strings.TrimSpace(token)
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.key)) == 1
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type queueResponse struct {
	Queued      int                   `json:"queued"`
	Outstanding int                   `json:"outstanding"`
	Entries     []scheduler.EntryView `json:"entries"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		http.Error(w, `{"error":"queue not available"}`, http.StatusServiceUnavailable)
		return
	}
	entries := s.queue.Snapshot()
	if entries == nil {
		entries = []scheduler.EntryView{}
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Queued:      len(entries),
		Outstanding: s.queue.Outstanding(),
		Entries:     entries,
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.rebuilder == nil {
		http.Error(w, `{"error":"rebuild not available"}`, http.StatusServiceUnavailable)
		return
	}
	if err := s.rebuilder.Rebuild(r.Context()); err != nil {
		s.logger.Error("queue rebuild failed", "error", err)
		http.Error(w, `{"error":"rebuild failed"}`, http.StatusServiceUnavailable)
		return
	}
	resp := map[string]any{"success": true}
	if s.queue != nil {
		resp["queued"] = len(s.queue.Snapshot())
		resp["outstanding"] = s.queue.Outstanding()
	}
	writeJSON(w, http.StatusOK, resp)
}

type fastClientsResponse struct {
	Count     int       `json:"count"`
	Clients   []string  `json:"clients"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleFastClients(w http.ResponseWriter, r *http.Request) {
	if s.fast == nil {
		http.Error(w, `{"error":"fast clients not available"}`, http.StatusServiceUnavailable)
		return
	}
	ids, at := s.fast.List()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, fastClientsResponse{Count: len(ids), Clients: ids, UpdatedAt: at})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.operator == nil {
		http.Error(w, `{"error":"status not available"}`, http.StatusServiceUnavailable)
		return
	}
	status, err := s.operator.Status(r.Context())
	if err != nil {
		s.logger.Error("get status failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	if s.operator == nil {
		http.Error(w, `{"error":"rescan not available"}`, http.StatusServiceUnavailable)
		return
	}
	updated, err := s.operator.RescanArchitectures(r.Context())
	if err != nil {
		s.logger.Error("architecture rescan failed", "updated", updated, "error", err)
		http.Error(w, `{"error":"rescan failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
