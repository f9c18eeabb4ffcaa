package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rchs819/leela-zero-server/internal/alert"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	redisstore "github.com/rchs819/leela-zero-server/internal/store/redis"
)

// NotifierCheckpoint is the key under which the notifier stores its stream offset.
const NotifierCheckpoint = "promotion-notifier"

// Notifier follows the event stream and turns promotions into alerts. It
// resumes from its last checkpoint after a restart.
type Notifier struct {
	bus     redisstore.Bus
	alerter alert.Alerter
	logger  *slog.Logger
	backoff time.Duration
}

// NewNotifier returns a notifier reading from bus.
func NewNotifier(bus redisstore.Bus, alerter alert.Alerter, logger *slog.Logger) *Notifier {
	return &Notifier{
		bus:     bus,
		alerter: alerter,
		logger:  logger.With("component", "promotion_notifier"),
		backoff: time.Second,
	}
}

// Run consumes events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	last, err := n.bus.LoadStreamCheckpoint(ctx, NotifierCheckpoint)
	if err != nil {
		n.logger.Warn("load notifier checkpoint failed, replaying stream", "error", err)
	}
	if last == "" {
		last = "0"
	}
	n.logger.Info("promotion notifier started", "offset", last)

	for {
		var ev model.Event
		next, err := n.bus.ReadJSON(ctx, model.EventStream, last, &ev)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Warn("read events failed", "offset", last, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff):
			}
			continue
		}
		n.handle(ctx, ev)
		last = next
		if err := n.bus.PersistStreamCheckpoint(ctx, NotifierCheckpoint, last); err != nil {
			n.logger.Warn("persist notifier checkpoint failed", "offset", last, "error", err)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev model.Event) {
	if ev.Type != model.EventPromotion {
		return
	}
	a := alert.Alert{
		Kind:    alert.KindPromotion,
		At:      ev.At,
		Subject: ev.NetworkHash,
		Title:   "New best network",
		Message: fmt.Sprintf("%s replaces %s", short(ev.NetworkHash), short(ev.PreviousHash)),
		Fields: map[string]string{
			"wins":    strconv.Itoa(ev.Wins),
			"losses":  strconv.Itoa(ev.Losses),
			"games":   strconv.Itoa(ev.GamesPlayed),
			"verdict": ev.Verdict,
		},
	}
	if ev.MatchID != nil {
		a.Fields["match_id"] = ev.MatchID.String()
	}
	if err := n.alerter.Send(ctx, a); err != nil {
		n.logger.Warn("promotion alert failed", "network_hash", ev.NetworkHash, "error", err)
	}
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
