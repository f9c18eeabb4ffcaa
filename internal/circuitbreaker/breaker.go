// Package circuitbreaker guards calls to the durable store. Once the store
// fails repeatedly the breaker opens and callers fail fast instead of piling
// up on a dead connection pool. After a cool-off a limited number of probe
// calls decide whether it closes again.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen matches every rejection by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned while the breaker rejects calls. RetryAfter is the
// time left until the next probe is admitted; it is zero when probes are
// already running.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: circuit open, retry in %s", e.Name, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: circuit open, probing", e.Name)
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Default 5.
	FailureThreshold int
	// SuccessThreshold is the number of probe successes that closes it.
	// Default 2.
	SuccessThreshold int
	// OpenTimeout is the cool-off before probing. Default 30s.
	OpenTimeout time.Duration
	// MaxProbes caps concurrent calls while half-open. Default 1.
	MaxProbes int
	// IsFailure decides which errors count against the store. Rejected
	// errors count as successful calls. Nil counts every non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(name string, from, to State)
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg   Config
	nowFn func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	trips     int64
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, nowFn: time.Now}
}

func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn when the breaker admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err == nil || !b.cfg.IsFailure(err))
	return err
}

// Call is Do for functions that return a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Do(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// admit reports whether the call is a half-open probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance()
	switch b.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if b.probes >= b.cfg.MaxProbes {
			return false, &OpenError{Name: b.cfg.Name}
		}
		b.probes++
		return true, nil
	default:
		return false, &OpenError{Name: b.cfg.Name, RetryAfter: b.openedAt.Add(b.cfg.OpenTimeout).Sub(b.nowFn())}
	}
}

func (b *Breaker) record(probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probes > 0 {
		b.probes--
	}
	if ok {
		b.failures = 0
		// Late results from calls admitted before the breaker opened do
		// not count as probes.
		if probe && b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.failures++
	switch b.state {
	case StateHalfOpen:
		if probe {
			b.trip()
		}
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.nowFn()
	b.trips++
	b.transition(StateOpen)
}

// advance moves an open breaker to half-open once the cool-off has passed.
func (b *Breaker) advance() {
	if b.state == StateOpen && !b.nowFn().Before(b.openedAt.Add(b.cfg.OpenTimeout)) {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	b.probes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state, moving to half-open when due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Snapshot is a point-in-time view for operators.
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Trips               int64     `json:"trips"`
	OpenedAt            time.Time `json:"opened_at"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	s := Snapshot{
		Name:                b.cfg.Name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		Trips:               b.trips,
	}
	if b.state != StateClosed {
		s.OpenedAt = b.openedAt
	}
	return s
}
