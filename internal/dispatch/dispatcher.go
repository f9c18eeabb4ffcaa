// Package dispatch implements the worker protocol: handing out tasks,
// accepting uploaded networks and game records, and creating matches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rchs819/leela-zero-server/internal/alert"
	"github.com/rchs819/leela-zero-server/internal/cache"
	"github.com/rchs819/leela-zero-server/internal/circuitbreaker"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/promotion"
	"github.com/rchs819/leela-zero-server/internal/retry"
	"github.com/rchs819/leela-zero-server/internal/scheduler"
	"github.com/rchs819/leela-zero-server/internal/store"
	"github.com/rchs819/leela-zero-server/internal/store/files"
	redisstore "github.com/rchs819/leela-zero-server/internal/store/redis"
	"github.com/rchs819/leela-zero-server/internal/tracing"
)

// MatchDefaults fills in a match request that leaves fields out.
type MatchDefaults struct {
	Games       int
	Visits      int
	Resignation float64
	Noise       bool
	RandomCount int
}

// Config tunes the dispatcher.
type Config struct {
	RequiredClientVersion string
	EngineVersion         string
	SelfPlay              model.Options
	// RelaxedResignRate is the share of self-play tasks sent with resignation
	// disabled.
	RelaxedResignRate float64
	Match             MatchDefaults
	MaxRecordBytes    int64
	RescanBatch       int
	NetworkCacheSize  int
	RecordCacheSize   int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		RequiredClientVersion: "15",
		EngineVersion:         "0.13",
		SelfPlay: model.Options{
			Visits:             3201,
			ResignationPercent: 5,
			Noise:              true,
			RandomCount:        30,
		},
		RelaxedResignRate: 0.2,
		Match: MatchDefaults{
			Games:       400,
			Visits:      3200,
			Resignation: 5,
		},
		MaxRecordBytes:   64 << 20,
		RescanBatch:      100,
		NetworkCacheSize: 1024,
		RecordCacheSize:  65536,
	}
}

// Artifacts is the network file store.
type Artifacts interface {
	Stage() (*files.Staged, error)
	Open(hash string) (io.ReadCloser, error)
	Remove(hash string) error
	BestHash() (string, error)
}

// Dispatcher serves the worker protocol. Storage calls go through a circuit
// breaker; when the store is unavailable requests fail with ErrStorage and the
// scheduler state is left as it was.
type Dispatcher struct {
	cfg       Config
	repos     store.Repositories
	artifacts Artifacts
	sched     *scheduler.Scheduler
	promoter  *promotion.Promoter
	bus       redisstore.Bus
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger

	networks *cache.LRU[string, model.Network]
	records  *cache.HashSet

	seed    func() uint64
	chance  func() float64
	now     func() time.Time
	tracer  trace.Tracer
	retries retry.Policy
}

// Deps are the collaborators of a Dispatcher. Bus may be nil.
type Deps struct {
	Repos     store.Repositories
	Artifacts Artifacts
	Scheduler *scheduler.Scheduler
	Promoter  *promotion.Promoter
	Bus       redisstore.Bus
	Breaker   *circuitbreaker.Breaker
}

// New builds a dispatcher.
func New(cfg Config, deps Deps, logger *slog.Logger) *Dispatcher {
	breaker := deps.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.Config{Name: "store", IsFailure: StoreFailure})
	}
	return &Dispatcher{
		cfg:       cfg,
		repos:     deps.Repos,
		artifacts: deps.Artifacts,
		sched:     deps.Scheduler,
		promoter:  deps.Promoter,
		bus:       deps.Bus,
		breaker:   breaker,
		logger:    logger.With("component", "dispatcher"),
		networks:  cache.NewLRU[string, model.Network]("networks", cfg.NetworkCacheSize, 0),
		records:   cache.NewHashSet("records", cfg.RecordCacheSize, 0),
		seed:      rand.Uint64,
		chance:    rand.Float64,
		now:       time.Now,
		tracer:    tracing.Tracer("dispatch"),
		retries:   retry.DefaultPolicy(),
	}
}

// StoreFailure reports whether err should count against the store breaker.
// Rejected input and missing rows say nothing about store health.
func StoreFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, model.ErrValidation) &&
		!errors.Is(err, model.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}

// NewStoreBreaker returns the breaker guarding store calls. State changes are
// exported as a metric and alerted.
func NewStoreBreaker(name string, threshold int, openTimeout time.Duration, alerter alert.Alerter, logger *slog.Logger) *circuitbreaker.Breaker {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	logger = logger.With("component", "store_breaker")
	metrics.StoreBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: threshold,
		OpenTimeout:      openTimeout,
		IsFailure:        StoreFailure,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.StoreBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("store breaker state changed", "breaker", name, "from", from.String(), "to", to.String())

			var a alert.Alert
			switch {
			case to == circuitbreaker.StateOpen:
				a = alert.Alert{Kind: alert.KindStoreUnavailable, Subject: name, Title: "Store unavailable",
					Message: "storage calls are failing fast until the store recovers"}
			case to == circuitbreaker.StateClosed && from == circuitbreaker.StateHalfOpen:
				a = alert.Alert{Kind: alert.KindStoreRecovered, Subject: name, Title: "Store recovered",
					Message: "storage calls succeed again"}
			default:
				return
			}
			// State changes happen under the breaker lock; send outside it.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := alerter.Send(ctx, a); err != nil {
					logger.Warn("breaker alert failed", "error", err)
				}
			}()
		},
	})
}

// storeCall runs fn through the breaker. Open circuits and transient store
// errors are reported as ErrStorage.
func storeCall[T any](d *Dispatcher, fn func() (T, error)) (T, error) {
	out, err := circuitbreaker.Call(d.breaker, fn)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrStorage) {
		return out, err
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || StoreFailure(err) {
		return out, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return out, err
}

func storeExec(d *Dispatcher, fn func() error) error {
	_, err := storeCall(d, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// withRetry retries transient store failures of op and counts the retries.
func (d *Dispatcher) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, d.retries, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.StoreRetries.WithLabelValues(op).Inc()
		}
		return fn(ctx)
	})
}

// network returns a stored network or nil. Networks are immutable, so hits
// are served from cache.
func (d *Dispatcher) network(ctx context.Context, hash string) (*model.Network, error) {
	n, found, err := d.networks.GetOrLoad(hash, func() (model.Network, bool, error) {
		n, err := storeCall(d, func() (*model.Network, error) { return d.repos.Networks.Get(ctx, hash) })
		if err != nil || n == nil {
			return model.Network{}, false, err
		}
		return *n, true, nil
	})
	if err != nil || !found {
		return nil, err
	}
	return &n, nil
}

func (d *Dispatcher) publish(ctx context.Context, ev model.Event) {
	if d.bus == nil {
		return
	}
	ev.At = d.now().UTC()
	if _, err := d.bus.PublishJSON(ctx, model.EventStream, ev); err != nil {
		d.logger.Warn("publish event failed", "type", ev.Type, "error", err)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
