package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/sprt"
)

// Tier is the priority band of a queued match.
type Tier string

const (
	// TierUndecided holds matches whose test has not concluded, served oldest first.
	TierUndecided Tier = "undecided"
	// TierAccepted holds matches that passed early and only play on once no
	// undecided match needs games.
	TierAccepted Tier = "accepted"
)

// QueueConfig tunes admission.
type QueueConfig struct {
	Buffer          int
	PessimisticRate float64
	RequestExpiry   time.Duration
	SPRT            sprt.Config
}

// Request is a match game handed to a worker and not yet reported.
type Request struct {
	Seed     string
	IssuedAt time.Time
}

type entry struct {
	match    model.Match
	verdict  sprt.Verdict
	requests []Request
	// whiteIsA flips on every dispatch so the two networks alternate colors.
	whiteIsA bool
}

// Reservation is a match game granted to a worker.
type Reservation struct {
	Match    model.Match
	Seed     string
	WhiteIsA bool
}

// Outcome describes how the queue reacted to a reported result.
type Outcome struct {
	Verdict sprt.Verdict
	// Tracked is false when the match was not queued.
	Tracked bool
	Evicted bool
}

// EntryView is a read-only copy of a queued match.
type EntryView struct {
	Match       model.Match `json:"match"`
	Tier        Tier        `json:"tier"`
	Verdict     string      `json:"verdict"`
	LLR         float64     `json:"llr"`
	Outstanding int         `json:"outstanding"`
	OldestAt    *time.Time  `json:"oldest_request_at,omitempty"`
}

// Queue is the in-memory mirror of matches that still need games. Storage is
// the authority for counters; the queue only orders matches and tracks
// outstanding requests, and can be rebuilt from storage at any time.
type Queue struct {
	cfg QueueConfig
	now func() time.Time

	mu        sync.Mutex
	undecided []*entry
	accepted  []*entry
	byID      map[uuid.UUID]*entry
	// version counts admissions, counter updates, opponent bindings and
	// evictions. A rebuild whose snapshot was read at an older version is stale.
	version uint64
}

// NewQueue returns an empty queue.
func NewQueue(cfg QueueConfig) *Queue {
	return &Queue{
		cfg:  cfg,
		now:  time.Now,
		byID: make(map[uuid.UUID]*entry),
	}
}

// Add queues a newly created match. Matches already queued, rejected or
// exhausted are ignored.
func (q *Queue) Add(m model.Match) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[m.ID]; ok {
		return
	}
	e := &entry{match: m, verdict: q.cfg.SPRT.Test(m.Wins, m.Losses)}
	if e.verdict == sprt.Reject || m.Exhausted() {
		return
	}
	q.byID[m.ID] = e
	if e.verdict == sprt.Accept {
		q.accepted = append(q.accepted, e)
	} else {
		q.undecided = append(q.undecided, e)
	}
	q.version++
	q.retier()
	q.publish()
}

// Reserve grants a match game if the highest-priority match still needs one.
// Expired requests of that match are dropped first. It returns nil when a
// self-play game should be issued instead.
func (q *Queue) Reserve(seed string) *Reservation {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	e := q.head()
	for e != nil && e.match.Exhausted() {
		q.remove(e)
		e = q.head()
	}
	if e == nil {
		q.publish()
		return nil
	}

	q.expire(e, now)
	needed := GamesToQueue(e.match.GamesTarget, e.match.Wins, e.match.Losses,
		q.cfg.PessimisticRate, q.cfg.Buffer, q.cfg.SPRT)
	if needed <= len(e.requests) {
		q.publish()
		return nil
	}

	e.whiteIsA = !e.whiteIsA
	e.requests = append(e.requests, Request{Seed: seed, IssuedAt: now})
	q.publish()
	return &Reservation{Match: cloneMatch(e.match), Seed: seed, WhiteIsA: e.whiteIsA}
}

// Release drops an outstanding request that could not be handed out and
// undoes the color flip of its reservation, so the next game of the match
// gets the colors the released one would have had.
func (q *Queue) Release(id uuid.UUID, seed string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[id]
	if !ok {
		return
	}
	before := len(e.requests)
	e.requests = dropRequest(e.requests, seed)
	if len(e.requests) < before {
		e.whiteIsA = !e.whiteIsA
	}
	q.publish()
}

// ResolveNetworkB records the opponent chosen for a match created without one.
func (q *Queue) ResolveNetworkB(id uuid.UUID, hash string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.byID[id]; ok && e.match.NetworkB == nil {
		h := hash
		e.match.NetworkB = &h
		q.version++
	}
}

// Apply folds the stored state of a match, read right after a result was
// recorded, into the queue and removes the reported request. Counters never
// move backwards: an older snapshot than the one already applied only removes
// the request.
func (q *Queue) Apply(stored model.Match, seed string) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[stored.ID]
	if !ok {
		return Outcome{Verdict: q.cfg.SPRT.Test(stored.Wins, stored.Losses)}
	}
	e.requests = dropRequest(e.requests, seed)

	if stored.GamesPlayed > e.match.GamesPlayed {
		e.match.Wins = stored.Wins
		e.match.Losses = stored.Losses
		e.match.GamesPlayed = stored.GamesPlayed
		if e.match.NetworkB == nil && stored.NetworkB != nil {
			e.match.NetworkB = stored.NetworkB
		}
		e.verdict = q.cfg.SPRT.Test(e.match.Wins, e.match.Losses)
		q.version++
	}

	out := Outcome{Verdict: e.verdict, Tracked: true}
	if e.verdict == sprt.Reject || e.match.Exhausted() {
		q.remove(e)
		out.Evicted = true
	} else {
		q.retier()
	}
	q.publish()
	return out
}

// Version returns the mutation counter a rebuild must present to Swap.
func (q *Queue) Version() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.version
}

// Swap replaces the queue with matches read from storage, oldest first. The
// snapshot must have been read after Version returned version; otherwise
// results applied meanwhile could be lost and ErrStale is returned. Outstanding
// requests and color alternation carry over for matches present in both.
func (q *Queue) Swap(matches []model.Match, version uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.version != version {
		return model.ErrStale
	}

	undecided := make([]*entry, 0, len(matches))
	accepted := make([]*entry, 0)
	byID := make(map[uuid.UUID]*entry, len(matches))
	for _, m := range matches {
		if _, dup := byID[m.ID]; dup || m.Exhausted() {
			continue
		}
		e := &entry{match: m}
		if old, ok := q.byID[m.ID]; ok {
			e.requests = old.requests
			e.whiteIsA = old.whiteIsA
			if old.match.GamesPlayed > m.GamesPlayed {
				e.match = old.match
			}
			if e.match.NetworkB == nil {
				e.match.NetworkB = old.match.NetworkB
			}
		}
		e.verdict = q.cfg.SPRT.Test(e.match.Wins, e.match.Losses)
		switch e.verdict {
		case sprt.Reject:
			continue
		case sprt.Accept:
			accepted = append(accepted, e)
		default:
			undecided = append(undecided, e)
		}
		byID[m.ID] = e
	}

	q.undecided = undecided
	q.accepted = accepted
	q.byID = byID
	q.version++
	q.retier()
	q.publish()
	return nil
}

// Snapshot returns the queue in dispatch order.
func (q *Queue) Snapshot() []EntryView {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]EntryView, 0, len(q.byID))
	add := func(tier Tier, entries []*entry) {
		for _, e := range entries {
			v := EntryView{
				Match:       cloneMatch(e.match),
				Tier:        tier,
				Verdict:     e.verdict.String(),
				LLR:         q.cfg.SPRT.LLR(e.match.Wins, e.match.Losses),
				Outstanding: len(e.requests),
			}
			if len(e.requests) > 0 {
				at := e.requests[0].IssuedAt
				v.OldestAt = &at
			}
			out = append(out, v)
		}
	}
	add(TierUndecided, q.undecided)
	add(TierAccepted, q.accepted)
	return out
}

// Len returns the number of queued matches.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

// Outstanding returns the number of match games in flight across the queue.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding()
}

// ExpireAll drops expired requests of every queued match.
func (q *Queue) ExpireAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for _, e := range q.byID {
		n += q.expire(e, now)
	}
	q.publish()
	return n
}

func (q *Queue) head() *entry {
	if len(q.undecided) > 0 {
		return q.undecided[0]
	}
	if len(q.accepted) > 0 {
		return q.accepted[0]
	}
	return nil
}

// retier moves accepted matches behind the undecided ones. A lone match stays
// where it is and keeps playing to its target.
func (q *Queue) retier() {
	if len(q.byID) <= 1 {
		return
	}
	kept := q.undecided[:0]
	for _, e := range q.undecided {
		if e.verdict == sprt.Accept {
			q.accepted = append(q.accepted, e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.undecided); i++ {
		q.undecided[i] = nil
	}
	q.undecided = kept
}

func (q *Queue) remove(e *entry) {
	delete(q.byID, e.match.ID)
	q.undecided = without(q.undecided, e)
	q.accepted = without(q.accepted, e)
	q.version++
}

func (q *Queue) expire(e *entry, now time.Time) int {
	if q.cfg.RequestExpiry <= 0 {
		return 0
	}
	cutoff := now.Add(-q.cfg.RequestExpiry)
	n := 0
	for n < len(e.requests) && e.requests[n].IssuedAt.Before(cutoff) {
		n++
	}
	if n > 0 {
		e.requests = append(e.requests[:0:0], e.requests[n:]...)
		metrics.ExpiredRequests.Add(float64(n))
	}
	return n
}

func (q *Queue) outstanding() int {
	n := 0
	for _, e := range q.byID {
		n += len(e.requests)
	}
	return n
}

func (q *Queue) publish() {
	metrics.QueueDepth.WithLabelValues(string(TierUndecided)).Set(float64(len(q.undecided)))
	metrics.QueueDepth.WithLabelValues(string(TierAccepted)).Set(float64(len(q.accepted)))
	metrics.OutstandingRequests.Set(float64(q.outstanding()))
}

func without(entries []*entry, target *entry) []*entry {
	for i, e := range entries {
		if e == target {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func dropRequest(reqs []Request, seed string) []Request {
	if seed == "" {
		return reqs
	}
	for i, r := range reqs {
		if r.Seed == seed {
			return append(reqs[:i:i], reqs[i+1:]...)
		}
	}
	return reqs
}

func cloneMatch(m model.Match) model.Match {
	if m.NetworkB != nil {
		b := *m.NetworkB
		m.NetworkB = &b
	}
	return m
}
