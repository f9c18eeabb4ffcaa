package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rchs819/leela-zero-server/internal/circuitbreaker"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
)

// Status summarizes the server for operators.
type Status struct {
	BestNetwork   string    `json:"best_network"`
	Networks      int64     `json:"networks"`
	Games         int64     `json:"games"`
	ActiveMatches int64     `json:"active_matches"`
	QueuedMatches int       `json:"queued_matches"`
	Outstanding   int       `json:"outstanding_requests"`
	FastClients   int       `json:"fast_clients"`
	FastClientsAt time.Time `json:"fast_clients_at"`

	StoreBreaker circuitbreaker.Snapshot `json:"store_breaker"`
}

// Status reads the counters from the store and the scheduler.
func (d *Dispatcher) Status(ctx context.Context) (Status, error) {
	s := Status{StoreBreaker: d.breaker.Snapshot()}
	best, err := d.artifacts.BestHash()
	switch {
	case err == nil:
		s.BestNetwork = best
	case errors.Is(err, model.ErrNotFound):
	default:
		return Status{}, fmt.Errorf("best network: %w", err)
	}

	if s.Networks, err = storeCall(d, func() (int64, error) { return d.repos.Networks.Count(ctx) }); err != nil {
		return Status{}, fmt.Errorf("count networks: %w", err)
	}
	if s.Games, err = storeCall(d, func() (int64, error) { return d.repos.Games.Count(ctx) }); err != nil {
		return Status{}, fmt.Errorf("count games: %w", err)
	}
	if s.ActiveMatches, err = storeCall(d, func() (int64, error) { return d.repos.Matches.CountActive(ctx) }); err != nil {
		return Status{}, fmt.Errorf("count matches: %w", err)
	}

	q := d.sched.Queue()
	s.QueuedMatches = q.Len()
	s.Outstanding = q.Outstanding()
	ids, at := d.sched.FastClients().List()
	s.FastClients = len(ids)
	s.FastClientsAt = at
	return s, nil
}

// BestNetworkHash returns the identity of the current reference network.
func (d *Dispatcher) BestNetworkHash() (string, error) {
	return d.artifacts.BestHash()
}
