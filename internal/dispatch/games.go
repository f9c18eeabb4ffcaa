package dispatch

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/ingest"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/sprt"
)

// GameSubmission is a finished self-play game.
type GameSubmission struct {
	ClientID      string
	ClientVersion int
	NetworkHash   string
	WinnerColor   string
	MovesCount    *int
	OptionsHash   string
	Seed          *string
	SGF           io.Reader
	TrainingData  io.Reader
}

// GameResult reports a stored self-play game.
type GameResult struct {
	RecordHash string
	// Created is false when the record had been submitted before.
	Created bool
}

// SubmitGame stores a self-play game. Records are identified by the hash of
// the decompressed SGF, so resubmitting a game is a successful no-op.
func (d *Dispatcher) SubmitGame(ctx context.Context, sub GameSubmission) (GameResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.SubmitGame",
		trace.WithAttributes(attribute.String("client_id", sub.ClientID), attribute.String("network_hash", sub.NetworkHash)),
	)
	defer span.End()

	if sub.WinnerColor != "" {
		if err := validateColor(sub.WinnerColor); err != nil {
			metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
			return GameResult{}, fail(span, err)
		}
	}
	if sub.NetworkHash == "" {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return GameResult{}, fail(span, model.Validationf("networkhash is required"))
	}
	if sub.SGF == nil || sub.TrainingData == nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return GameResult{}, fail(span, model.Validationf("sgf and trainingdata are required"))
	}

	n, err := d.network(ctx, sub.NetworkHash)
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("failed").Inc()
		return GameResult{}, fail(span, err)
	}
	if n == nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return GameResult{}, fail(span, model.NotFoundf("network %s", sub.NetworkHash))
	}

	sgf, err := ingest.Record(ctx, sub.SGF, d.cfg.MaxRecordBytes)
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return GameResult{}, fail(span, fmt.Errorf("sgf: %w", err))
	}
	span.SetAttributes(attribute.String("record_hash", sgf.Hash))
	if d.records.Seen(sgf.Hash) {
		metrics.GamesSubmitted.WithLabelValues("duplicate").Inc()
		return GameResult{RecordHash: sgf.Hash}, nil
	}
	training, err := ingest.Record(ctx, sub.TrainingData, d.cfg.MaxRecordBytes)
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return GameResult{}, fail(span, fmt.Errorf("trainingdata: %w", err))
	}

	g := &model.Game{
		ID:            model.NewID(),
		RecordHash:    sgf.Hash,
		NetworkHash:   sub.NetworkHash,
		ClientID:      sub.ClientID,
		ClientVersion: sub.ClientVersion,
		OptionsHash:   sub.OptionsHash,
		WinnerColor:   sub.WinnerColor,
		MovesCount:    sub.MovesCount,
		Seed:          sub.Seed,
		SGF:           string(sgf.Data),
		TrainingData:  string(training.Data),
		CreatedAt:     d.now().UTC(),
	}
	var created bool
	err = d.withRetry(ctx, "insert_game", func(ctx context.Context) error {
		var err error
		created, err = storeCall(d, func() (bool, error) { return d.repos.Games.Insert(ctx, g) })
		return err
	})
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("failed").Inc()
		return GameResult{}, fail(span, fmt.Errorf("store game: %w", err))
	}
	d.records.Add(sgf.Hash)

	if created {
		metrics.GamesSubmitted.WithLabelValues("created").Inc()
		d.logger.Debug("game stored", "client_id", sub.ClientID, "network_hash", short(sub.NetworkHash), "record_hash", short(sgf.Hash))
	} else {
		metrics.GamesSubmitted.WithLabelValues("duplicate").Inc()
	}
	return GameResult{RecordHash: sgf.Hash, Created: created}, nil
}

// MatchSubmission is a finished match game.
type MatchSubmission struct {
	ClientID      string
	ClientVersion int
	WinnerHash    string
	LoserHash     string
	WinnerColor   string
	MovesCount    *int
	Score         string
	OptionsHash   string
	Seed          string
	SGF           io.Reader
}

// MatchOutcome reports how a match result was applied.
type MatchOutcome struct {
	RecordHash string
	MatchID    string
	Created    bool
	Verdict    sprt.Verdict
	Promoted   bool
}

// SubmitMatchResult records a match game and updates the queue and the
// reference network. The counters are incremented by the store; the queue
// only mirrors what the store returns.
func (d *Dispatcher) SubmitMatchResult(ctx context.Context, sub MatchSubmission) (MatchOutcome, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.SubmitMatchResult",
		trace.WithAttributes(
			attribute.String("client_id", sub.ClientID),
			attribute.String("winner_hash", sub.WinnerHash),
			attribute.String("loser_hash", sub.LoserHash),
		),
	)
	defer span.End()

	if err := validateMatchSubmission(sub); err != nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return MatchOutcome{}, fail(span, err)
	}

	m, err := storeCall(d, func() (*model.Match, error) {
		return d.repos.Matches.FindByPair(ctx, sub.WinnerHash, sub.LoserHash, sub.OptionsHash)
	})
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("failed").Inc()
		return MatchOutcome{}, fail(span, fmt.Errorf("find match: %w", err))
	}
	if m == nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return MatchOutcome{}, fail(span, model.NotFoundf("match between %s and %s with options %s",
			short(sub.WinnerHash), short(sub.LoserHash), sub.OptionsHash))
	}
	span.SetAttributes(attribute.String("match_id", m.ID.String()))

	sgf, err := ingest.Record(ctx, sub.SGF, d.cfg.MaxRecordBytes)
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("rejected").Inc()
		return MatchOutcome{}, fail(span, fmt.Errorf("sgf: %w", err))
	}

	var seed *string
	if sub.Seed != "" {
		s := sub.Seed
		seed = &s
	}
	g := &model.MatchGame{
		ID:            model.NewID(),
		RecordHash:    sgf.Hash,
		MatchID:       m.ID,
		WinnerHash:    sub.WinnerHash,
		LoserHash:     sub.LoserHash,
		ClientID:      sub.ClientID,
		ClientVersion: sub.ClientVersion,
		OptionsHash:   sub.OptionsHash,
		WinnerColor:   sub.WinnerColor,
		MovesCount:    sub.MovesCount,
		Score:         sub.Score,
		Seed:          seed,
		SGF:           string(sgf.Data),
		CreatedAt:     d.now().UTC(),
	}

	var (
		stored  *model.Match
		created bool
	)
	err = d.withRetry(ctx, "record_game", func(ctx context.Context) error {
		var err error
		stored, created, err = recordGame(ctx, d, g, sub.WinnerHash == m.NetworkA)
		return err
	})
	if err != nil {
		metrics.GamesSubmitted.WithLabelValues("failed").Inc()
		return MatchOutcome{}, fail(span, fmt.Errorf("record match game: %w", err))
	}

	out := MatchOutcome{RecordHash: sgf.Hash, MatchID: m.ID.String(), Created: created}
	if !created {
		// The result was counted by an earlier submission; only the request
		// this worker held is freed.
		d.sched.Queue().Release(m.ID, sub.Seed)
		metrics.GamesSubmitted.WithLabelValues("duplicate").Inc()
		out.Verdict = d.sched.SPRT().Test(stored.Wins, stored.Losses)
		return out, nil
	}
	metrics.GamesSubmitted.WithLabelValues("created").Inc()

	applied := d.sched.Queue().Apply(*stored, sub.Seed)
	out.Verdict = applied.Verdict
	metrics.MatchResults.WithLabelValues(applied.Verdict.String()).Inc()
	span.SetAttributes(attribute.String("verdict", applied.Verdict.String()))
	d.logger.Info("match result recorded",
		"match_id", m.ID,
		"winner", short(sub.WinnerHash),
		"loser", short(sub.LoserHash),
		"wins", stored.Wins,
		"losses", stored.Losses,
		"games_played", stored.GamesPlayed,
		"verdict", applied.Verdict.String(),
	)
	if applied.Evicted {
		id := stored.ID
		d.publish(ctx, model.Event{
			Type:        model.EventMatchFinished,
			MatchID:     &id,
			NetworkHash: stored.NetworkA,
			Verdict:     applied.Verdict.String(),
			Wins:        stored.Wins,
			Losses:      stored.Losses,
			GamesPlayed: stored.GamesPlayed,
		})
	}

	if d.promoter != nil {
		decision, err := d.promoter.Consider(ctx, *stored, model.MatchResult{
			WinnerHash:  sub.WinnerHash,
			LoserHash:   sub.LoserHash,
			OptionsHash: sub.OptionsHash,
			Seed:        sub.Seed,
		})
		if err != nil {
			// The result is stored; the next reported loss re-evaluates.
			d.logger.Error("promotion check failed", "match_id", m.ID, "error", err)
		}
		out.Promoted = decision.Promote && err == nil
	}
	return out, nil
}

func recordGame(ctx context.Context, d *Dispatcher, g *model.MatchGame, networkAWon bool) (*model.Match, bool, error) {
	type recorded struct {
		match   *model.Match
		created bool
	}
	r, err := storeCall(d, func() (recorded, error) {
		m, created, err := d.repos.Matches.RecordGame(ctx, g, networkAWon)
		return recorded{m, created}, err
	})
	if err != nil {
		return nil, false, err
	}
	if r.match == nil {
		return nil, false, model.NotFoundf("match %s", g.MatchID)
	}
	return r.match, r.created, nil
}

func validateMatchSubmission(sub MatchSubmission) error {
	switch {
	case sub.WinnerHash == "" || sub.LoserHash == "":
		return model.Validationf("winnerhash and loserhash are required")
	case sub.WinnerHash == sub.LoserHash:
		return model.Validationf("winnerhash and loserhash must differ")
	case sub.OptionsHash == "":
		return model.Validationf("options_hash is required")
	case sub.SGF == nil:
		return model.Validationf("sgf is required")
	}
	return validateColor(sub.WinnerColor)
}

func validateColor(c string) error {
	switch model.Color(strings.ToLower(c)) {
	case model.ColorBlack, model.ColorWhite:
		return nil
	case "":
		return model.Validationf("winnercolor is required")
	}
	return model.Validationf("winnercolor %q is not black or white", c)
}
