// Package promotion replaces the reference network when a challenger has
// beaten it convincingly.
package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rchs819/leela-zero-server/internal/alert"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/sprt"
	redisstore "github.com/rchs819/leela-zero-server/internal/store/redis"
)

// Config holds the promotion thresholds.
type Config struct {
	SPRT sprt.Config
	// FallbackWinRate promotes a finished match without a formal verdict.
	FallbackWinRate float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{SPRT: sprt.DefaultConfig(), FallbackWinRate: 0.55}
}

// Decision is the outcome of evaluating one reported result.
type Decision struct {
	Promote bool
	Winner  string
	Reason  string
	Verdict sprt.Verdict
	WinRate float64
	Wins    int
	Losses  int
}

// Decide evaluates m, as stored after the result was recorded, for a game
// that loser lost against winner. Only a loss by the reference network can
// promote, and test matches never do. The record is taken from the winner's
// side.
func Decide(cfg Config, m model.Match, winner, loser, best string) Decision {
	wins, losses := m.RecordFor(winner)
	d := Decision{
		Winner:  winner,
		Verdict: cfg.SPRT.Test(wins, losses),
		Wins:    wins,
		Losses:  losses,
	}
	if m.GamesPlayed > 0 {
		d.WinRate = float64(wins) / float64(m.GamesPlayed)
	}

	switch {
	case best == "" || loser != best:
		d.Reason = "loser is not the best network"
	case winner == best:
		d.Reason = "winner is already the best network"
	case m.IsTest:
		d.Reason = "test match"
	case d.Verdict == sprt.Accept:
		d.Promote = true
		d.Reason = "sprt accept"
	case m.Exhausted() && d.WinRate >= cfg.FallbackWinRate:
		d.Promote = true
		d.Reason = "win rate after full match"
	default:
		d.Reason = "not enough evidence"
	}
	return d
}

// Artifacts publishes the reference network.
type Artifacts interface {
	BestHash() (string, error)
	Promote(hash string) error
}

// Promoter applies promotion decisions. Evaluations are serialized so two
// results arriving together cannot both read the old reference network and
// publish conflicting replacements.
type Promoter struct {
	cfg       Config
	artifacts Artifacts
	bus       redisstore.Bus
	alerter   alert.Alerter
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewPromoter wires a promoter. bus and alerter may be nil.
func NewPromoter(cfg Config, artifacts Artifacts, bus redisstore.Bus, alerter alert.Alerter, logger *slog.Logger) *Promoter {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &Promoter{
		cfg:       cfg,
		artifacts: artifacts,
		bus:       bus,
		alerter:   alerter,
		logger:    logger.With("component", "promoter"),
		now:       time.Now,
	}
}

// Consider evaluates a recorded match result and promotes the winner when the
// evidence is sufficient.
func (p *Promoter) Consider(ctx context.Context, m model.Match, result model.MatchResult) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	best, err := p.artifacts.BestHash()
	if err != nil {
		return Decision{}, fmt.Errorf("read best network: %w", err)
	}

	d := Decide(p.cfg, m, result.WinnerHash, result.LoserHash, best)
	if !d.Promote {
		return d, nil
	}

	if err := p.artifacts.Promote(d.Winner); err != nil {
		metrics.Promotions.WithLabelValues("failed").Inc()
		p.logger.Error("promotion failed", "network_hash", d.Winner, "match_id", m.ID, "error", err)
		p.notify(ctx, alert.Alert{
			Kind:    alert.KindPromotionFailed,
			Subject: d.Winner,
			Title:   "Promotion failed",
			Message: err.Error(),
			Fields:  map[string]string{"match_id": m.ID.String()},
		})
		return d, fmt.Errorf("promote %s: %w", d.Winner, err)
	}

	metrics.Promotions.WithLabelValues("promoted").Inc()
	p.logger.Info("network promoted",
		"network_hash", d.Winner,
		"previous_hash", best,
		"match_id", m.ID,
		"reason", d.Reason,
		"wins", d.Wins,
		"losses", d.Losses,
	)

	if p.bus != nil {
		id := m.ID
		ev := model.Event{
			Type:         model.EventPromotion,
			MatchID:      &id,
			NetworkHash:  d.Winner,
			PreviousHash: best,
			Verdict:      d.Verdict.String(),
			Wins:         d.Wins,
			Losses:       d.Losses,
			GamesPlayed:  m.GamesPlayed,
			At:           p.now().UTC(),
		}
		if _, err := p.bus.PublishJSON(ctx, model.EventStream, ev); err != nil {
			p.logger.Warn("publish promotion event failed", "network_hash", d.Winner, "error", err)
		}
	}
	return d, nil
}

func (p *Promoter) notify(ctx context.Context, a alert.Alert) {
	if err := p.alerter.Send(ctx, a); err != nil {
		p.logger.Warn("alert failed", "kind", a.Kind, "error", err)
	}
}
