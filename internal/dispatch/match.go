package dispatch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
)

// MatchRequest asks for a new match. An empty NetworkB plays against whatever
// network is the reference when the match is first dispatched. Options holds
// loosely typed engine settings; missing ones take the match defaults.
type MatchRequest struct {
	NetworkA string
	NetworkB string
	Games    int
	Options  map[string]any
	IsTest   bool
}

// RequestMatch validates and stores a match and queues it for dispatch.
func (d *Dispatcher) RequestMatch(ctx context.Context, req MatchRequest) (model.Match, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.RequestMatch")
	defer span.End()
	span.SetAttributes(attribute.String("network_a", req.NetworkA), attribute.String("network_b", req.NetworkB))

	opts, err := d.matchOptions(req.Options)
	if err != nil {
		return model.Match{}, fail(span, err)
	}
	if req.NetworkA == "" {
		return model.Match{}, fail(span, model.Validationf("network_a is required"))
	}
	if req.NetworkA == req.NetworkB {
		return model.Match{}, fail(span, model.Validationf("a network cannot play itself"))
	}
	games := req.Games
	if games == 0 {
		games = d.cfg.Match.Games
	}
	if games < 0 {
		return model.Match{}, fail(span, model.Validationf("number of games must be positive"))
	}

	for _, hash := range []string{req.NetworkA, req.NetworkB} {
		if hash == "" {
			continue
		}
		n, err := d.network(ctx, hash)
		if err != nil {
			return model.Match{}, fail(span, fmt.Errorf("look up network: %w", err))
		}
		if n == nil {
			return model.Match{}, fail(span, model.NotFoundf("network %s", hash))
		}
	}

	m := model.Match{
		ID:          model.NewID(),
		NetworkA:    req.NetworkA,
		GamesTarget: games,
		IsTest:      req.IsTest,
		Options:     opts,
		OptionsHash: opts.Fingerprint(),
		CreatedAt:   d.now().UTC(),
	}
	if req.NetworkB != "" {
		b := req.NetworkB
		m.NetworkB = &b
	}
	if err := storeExec(d, func() error { return d.repos.Matches.Create(ctx, &m) }); err != nil {
		return model.Match{}, fail(span, fmt.Errorf("create match: %w", err))
	}
	d.sched.Admit(m)

	id := m.ID
	d.publish(ctx, model.Event{Type: model.EventMatchCreated, MatchID: &id, NetworkHash: m.NetworkA})
	d.logger.Info("match created",
		"match_id", m.ID,
		"network_a", short(m.NetworkA),
		"network_b", short(m.NetworkBOr("best")),
		"games", games,
		"options_hash", m.OptionsHash,
		"is_test", m.IsTest,
	)
	return m, nil
}

// matchOptions fills unset fields with the match defaults. The search budget
// defaults to visits only when neither visits nor playouts is given.
func (d *Dispatcher) matchOptions(raw map[string]any) (model.Options, error) {
	merged := make(map[string]any, 5)
	def := d.cfg.Match
	merged[model.OptionResignationPercent] = def.Resignation
	merged[model.OptionNoise] = def.Noise
	merged[model.OptionRandomCount] = def.RandomCount
	_, hasVisits := raw[model.OptionVisits]
	_, hasPlayouts := raw[model.OptionPlayouts]
	if !hasVisits && !hasPlayouts {
		merged[model.OptionVisits] = def.Visits
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		merged[k] = v
	}
	opts, err := model.NormalizeOptions(merged)
	if err != nil {
		return model.Options{}, err
	}
	if err := opts.Validate(); err != nil {
		return model.Options{}, err
	}
	return opts, nil
}
