// Package retry classifies failures as transient or terminal and retries
// transient ones with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/rchs819/leela-zero-server/internal/circuitbreaker"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/weights"
)

type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient, reason: "explicit_transient"}
}

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal, reason: "explicit_terminal"}
}

func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	case errors.Is(err, model.ErrValidation):
		return Decision{Class: ClassTerminal, Reason: "validation"}
	case errors.Is(err, model.ErrNotFound):
		return Decision{Class: ClassTerminal, Reason: "not_found"}
	case errors.Is(err, weights.ErrMalformedWeights):
		return Decision{Class: ClassTerminal, Reason: "malformed_weights"}
	case errors.Is(err, model.ErrStale):
		return Decision{Class: ClassTransient, Reason: "stale_state"}
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return Decision{Class: ClassTransient, Reason: "circuit_open"}
	case errors.Is(err, model.ErrStorage):
		return Decision{Class: ClassTransient, Reason: "storage_unavailable"}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPQ(pqErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Decision{Class: ClassTransient, Reason: "net_timeout"}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, terminalMessageTokens) {
		return Decision{Class: ClassTerminal, Reason: "message_terminal"}
	}
	if containsAny(lower, transientMessageTokens) {
		return Decision{Class: ClassTransient, Reason: "message_transient"}
	}

	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

// classifyPQ maps SQLSTATE classes: connection failures (08), serialization
// and deadlock (40), resource limits (53), operator intervention (57).
func classifyPQ(err *pq.Error) Decision {
	switch err.Code.Class() {
	case "08", "40", "53", "57":
		return Decision{Class: ClassTransient, Reason: "pq_" + err.Code.Class().Name()}
	default:
		return Decision{Class: ClassTerminal, Reason: "pq_" + err.Code.Class().Name()}
	}
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultPolicy retries three times starting at 50ms.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 2}
}

// Do calls fn until it succeeds, returns a terminal error, or the attempts
// are used up. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	delay := p.Initial

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.Attempts || !Classify(err).IsTransient() {
			return err
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var transientMessageTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
	"too many connections",
	"server closed idle connection",
}

var terminalMessageTokens = []string{
	"invalid input syntax",
	"violates foreign key constraint",
	"violates check constraint",
	"permission denied",
}
