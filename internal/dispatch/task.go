package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/scheduler"
)

// TaskRequest identifies a polling worker.
type TaskRequest struct {
	ClientID      string
	ClientVersion int
}

// GetTask decides what the polling worker should do next. Fast clients get a
// match game while the queue still needs games in flight; everyone else
// plays self-play with the reference network.
func (d *Dispatcher) GetTask(ctx context.Context, req TaskRequest) (model.Task, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.GetTask",
		trace.WithAttributes(
			attribute.String("client_id", req.ClientID),
			attribute.Int("client_version", req.ClientVersion),
		),
	)
	defer span.End()

	seed := strconv.FormatUint(d.seed(), 10)

	if r := d.sched.NextMatch(req.ClientID, req.ClientVersion, seed); r != nil {
		task, err := d.matchTask(ctx, r)
		if err != nil {
			d.sched.Queue().Release(r.Match.ID, seed)
			return model.Task{}, fail(span, err)
		}
		span.SetAttributes(attribute.String("task", string(model.TaskMatch)))
		metrics.TasksDispatched.WithLabelValues(string(model.TaskMatch)).Inc()
		d.logger.Info("task dispatched",
			"client_id", req.ClientID,
			"task", model.TaskMatch,
			"match_id", r.Match.ID,
			"white", short(task.Match.WhiteHash),
			"black", short(task.Match.BlackHash),
		)
		return task, nil
	}

	best, err := d.artifacts.BestHash()
	if err != nil {
		return model.Task{}, fail(span, fmt.Errorf("best network: %w", err))
	}
	opts := d.cfg.SelfPlay
	if d.chance() < d.cfg.RelaxedResignRate {
		opts.ResignationPercent = 0
	}
	span.SetAttributes(attribute.String("task", string(model.TaskSelfPlay)))
	metrics.TasksDispatched.WithLabelValues(string(model.TaskSelfPlay)).Inc()
	d.logger.Debug("task dispatched", "client_id", req.ClientID, "task", model.TaskSelfPlay, "network_hash", short(best))
	return model.Task{
		Kind:                  model.TaskSelfPlay,
		RequiredClientVersion: d.cfg.RequiredClientVersion,
		EngineVersion:         d.cfg.EngineVersion,
		Seed:                  seed,
		Options:               opts,
		OptionsHash:           opts.Fingerprint(),
		SelfPlay:              &model.SelfPlayTask{NetworkHash: best},
	}, nil
}

// matchTask turns a reservation into a task. A match created without an
// opponent is bound to the current reference network the first time it is
// dispatched; the store keeps whichever binding was written first.
func (d *Dispatcher) matchTask(ctx context.Context, r *scheduler.Reservation) (model.Task, error) {
	m := r.Match
	if m.NetworkB == nil {
		best, err := d.artifacts.BestHash()
		if err != nil {
			return model.Task{}, fmt.Errorf("best network: %w", err)
		}
		stored, err := storeCall(d, func() (*model.Match, error) {
			return d.repos.Matches.ResolveNetworkB(ctx, m.ID, best)
		})
		if err != nil {
			return model.Task{}, fmt.Errorf("resolve opponent: %w", err)
		}
		if stored == nil || stored.NetworkB == nil {
			return model.Task{}, model.NotFoundf("match %s", m.ID)
		}
		d.sched.Queue().ResolveNetworkB(m.ID, *stored.NetworkB)
		m.NetworkB = stored.NetworkB
		d.logger.Info("match opponent resolved", "match_id", m.ID, "network_hash", short(*stored.NetworkB))
	}

	b := *m.NetworkB
	mt := &model.MatchTask{
		MatchID:  m.ID.String(),
		NetworkA: m.NetworkA,
		NetworkB: b,
	}
	if r.WhiteIsA {
		mt.WhiteHash, mt.BlackHash, mt.NetworkAIs = m.NetworkA, b, model.ColorWhite
	} else {
		mt.WhiteHash, mt.BlackHash, mt.NetworkAIs = b, m.NetworkA, model.ColorBlack
	}
	return model.Task{
		Kind:                  model.TaskMatch,
		RequiredClientVersion: d.cfg.RequiredClientVersion,
		EngineVersion:         d.cfg.EngineVersion,
		Seed:                  r.Seed,
		Options:               m.Options,
		OptionsHash:           m.OptionsHash,
		Match:                 mt,
	}, nil
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
