package promotion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rchs819/leela-zero-server/internal/alert"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/sprt"
	redisstore "github.com/rchs819/leela-zero-server/internal/store/redis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// strictConfig needs far more games than a 400-game match provides.
func strictConfig() Config {
	return Config{
		SPRT:            sprt.Config{Elo0: 0, Elo1: 10, Alpha: 0.01, Beta: 0.01},
		FallbackWinRate: 0.55,
	}
}

func match(a, b string, wins, losses, target int) model.Match {
	return model.Match{
		ID:          model.NewID(),
		NetworkA:    a,
		NetworkB:    &b,
		Wins:        wins,
		Losses:      losses,
		GamesPlayed: wins + losses,
		GamesTarget: target,
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		m       model.Match
		winner  string
		loser   string
		best    string
		promote bool
		verdict sprt.Verdict
	}{
		{
			name: "sprt accept", cfg: DefaultConfig(),
			m: match("chal", "best", 5, 0, 400), winner: "chal", loser: "best", best: "best",
			promote: true, verdict: sprt.Accept,
		},
		{
			name: "undecided but 57.5 percent after full match", cfg: strictConfig(),
			m: match("chal", "best", 230, 170, 400), winner: "chal", loser: "best", best: "best",
			promote: true, verdict: sprt.Undecided,
		},
		{
			name: "below fallback rate", cfg: strictConfig(),
			m: match("chal", "best", 215, 185, 400), winner: "chal", loser: "best", best: "best",
			promote: false, verdict: sprt.Undecided,
		},
		{
			name: "fallback needs a finished match", cfg: strictConfig(),
			m: match("chal", "best", 120, 80, 400), winner: "chal", loser: "best", best: "best",
			promote: false, verdict: sprt.Undecided,
		},
		{
			name: "loser is not best", cfg: DefaultConfig(),
			m: match("chal", "other", 5, 0, 400), winner: "chal", loser: "other", best: "best",
			promote: false, verdict: sprt.Accept,
		},
		{
			name: "best won", cfg: DefaultConfig(),
			m: match("chal", "best", 0, 5, 400), winner: "best", loser: "chal", best: "best",
			promote: false, verdict: sprt.Accept,
		},
		{
			name: "record read from network b side", cfg: DefaultConfig(),
			m: match("best", "chal", 0, 5, 400), winner: "chal", loser: "best", best: "best",
			promote: true, verdict: sprt.Accept,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.cfg, tt.m, tt.winner, tt.loser, tt.best)
			assert.Equal(t, tt.promote, d.Promote, d.Reason)
			assert.Equal(t, tt.verdict, d.Verdict)
		})
	}
}

func TestDecide_TestMatchNeverPromotes(t *testing.T) {
	m := match("chal", "best", 5, 0, 400)
	m.IsTest = true
	d := Decide(DefaultConfig(), m, "chal", "best", "best")
	assert.False(t, d.Promote)
	assert.Equal(t, "test match", d.Reason)
}

type fakeArtifacts struct {
	mu       sync.Mutex
	best     string
	failWith error
	promoted []string
}

func (f *fakeArtifacts) BestHash() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.best, nil
}

func (f *fakeArtifacts) Promote(hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.best = hash
	f.promoted = append(f.promoted, hash)
	return nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
	ch     chan alert.Alert
}

func (r *recordingAlerter) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	if r.ch != nil {
		r.ch <- a
	}
	return nil
}

func TestPromoter_PromotesAndPublishes(t *testing.T) {
	ctx := context.Background()
	artifacts := &fakeArtifacts{best: "best"}
	bus := redisstore.NewInMemoryStream()
	defer bus.Close()

	p := NewPromoter(DefaultConfig(), artifacts, bus, nil, testLogger())
	m := match("chal", "best", 5, 0, 400)

	d, err := p.Consider(ctx, m, model.MatchResult{WinnerHash: "chal", LoserHash: "best"})
	require.NoError(t, err)
	assert.True(t, d.Promote)
	assert.Equal(t, []string{"chal"}, artifacts.promoted)

	var ev model.Event
	_, err = bus.ReadJSON(ctx, model.EventStream, "0", &ev)
	require.NoError(t, err)
	assert.Equal(t, model.EventPromotion, ev.Type)
	assert.Equal(t, "chal", ev.NetworkHash)
	assert.Equal(t, "best", ev.PreviousHash)
	require.NotNil(t, ev.MatchID)
	assert.Equal(t, m.ID, *ev.MatchID)

	// The next result against the old best no longer promotes.
	d, err = p.Consider(ctx, m, model.MatchResult{WinnerHash: "chal", LoserHash: "best"})
	require.NoError(t, err)
	assert.False(t, d.Promote)
	assert.Len(t, artifacts.promoted, 1)
}

func TestPromoter_FailureAlerts(t *testing.T) {
	artifacts := &fakeArtifacts{best: "best", failWith: errors.New("disk full")}
	alerts := &recordingAlerter{}

	p := NewPromoter(DefaultConfig(), artifacts, nil, alerts, testLogger())
	_, err := p.Consider(context.Background(), match("chal", "best", 5, 0, 400),
		model.MatchResult{WinnerHash: "chal", LoserHash: "best"})
	require.Error(t, err)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, alert.KindPromotionFailed, alerts.alerts[0].Kind)
	assert.Equal(t, "chal", alerts.alerts[0].Subject)
}

func TestNotifier_AlertsOnPromotionAndCheckpoints(t *testing.T) {
	bus := redisstore.NewInMemoryStream()
	defer bus.Close()
	alerts := &recordingAlerter{ch: make(chan alert.Alert, 4)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := bus.PublishJSON(ctx, model.EventStream, model.Event{Type: model.EventMatchCreated})
	require.NoError(t, err)
	promoID, err := bus.PublishJSON(ctx, model.EventStream, model.Event{
		Type:         model.EventPromotion,
		NetworkHash:  "0123456789abcdef",
		PreviousHash: "fedcba9876543210",
		Wins:         30,
		Losses:       10,
		GamesPlayed:  40,
		Verdict:      "accept",
	})
	require.NoError(t, err)

	n := NewNotifier(bus, alerts, testLogger())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case a := <-alerts.ch:
		assert.Equal(t, alert.KindPromotion, a.Kind)
		assert.Equal(t, "0123456789abcdef", a.Subject)
		assert.Equal(t, "01234567 replaces fedcba98", a.Message)
		assert.Equal(t, "30", a.Fields["wins"])
	case <-time.After(2 * time.Second):
		t.Fatal("no alert received")
	}

	require.Eventually(t, func() bool {
		v, err := bus.LoadStreamCheckpoint(context.Background(), NotifierCheckpoint)
		return err == nil && v == promoID
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier did not stop")
	}
}
