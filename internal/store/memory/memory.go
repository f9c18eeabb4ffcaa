// Package memory is an in-process implementation of the store repositories.
// It backs tests and single-node development runs; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/store"
)

// Store holds every table behind a single mutex.
type Store struct {
	mu         sync.Mutex
	networks   map[string]*model.Network
	matches    map[uuid.UUID]*model.Match
	games      map[string]*model.Game
	matchGames map[string]*model.MatchGame
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		networks:   make(map[string]*model.Network),
		matches:    make(map[uuid.UUID]*model.Match),
		games:      make(map[string]*model.Game),
		matchGames: make(map[string]*model.MatchGame),
		now:        time.Now,
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Networks: (*networkRepo)(s),
		Matches:  (*matchRepo)(s),
		Games:    (*gameRepo)(s),
	}
}

type networkRepo Store

func (r *networkRepo) Get(_ context.Context, hash string) (*model.Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.networks[hash]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (r *networkRepo) Insert(_ context.Context, n *model.Network) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.networks[n.Hash]; ok {
		return false, nil
	}
	cp := *n
	if cp.UploadedAt.IsZero() {
		cp.UploadedAt = r.now()
	}
	r.networks[n.Hash] = &cp
	return true, nil
}

func (r *networkRepo) ListMissingArchitecture(_ context.Context, limit int) ([]model.Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Network
	for _, n := range r.networks {
		if n.Filters == 0 || n.Blocks == 0 {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *networkRepo) SetArchitecture(_ context.Context, hash string, filters, blocks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.networks[hash]; ok {
		n.Filters = filters
		n.Blocks = blocks
	}
	return nil
}

func (r *networkRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.networks)), nil
}

type matchRepo Store

func (r *matchRepo) Create(_ context.Context, m *model.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = model.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	cp := cloneMatch(m)
	r.matches[m.ID] = cp
	return nil
}

func (r *matchRepo) Get(_ context.Context, id uuid.UUID) (*model.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, nil
	}
	return cloneMatch(m), nil
}

func (r *matchRepo) FindByPair(_ context.Context, hashA, hashB, optionsHash string) (*model.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *model.Match
	for _, m := range r.matches {
		if m.OptionsHash != optionsHash || m.NetworkB == nil {
			continue
		}
		b := *m.NetworkB
		if !(m.NetworkA == hashA && b == hashB) && !(m.NetworkA == hashB && b == hashA) {
			continue
		}
		if found == nil || bytes.Compare(m.ID[:], found.ID[:]) > 0 {
			found = m
		}
	}
	if found == nil {
		return nil, nil
	}
	return cloneMatch(found), nil
}

func (r *matchRepo) Pending(context.Context) ([]model.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Match
	for _, m := range r.matches {
		if m.GamesPlayed < m.GamesTarget {
			out = append(out, *cloneMatch(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

func (r *matchRepo) ResolveNetworkB(_ context.Context, id uuid.UUID, hash string) (*model.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, nil
	}
	if m.NetworkB == nil {
		h := hash
		m.NetworkB = &h
	}
	return cloneMatch(m), nil
}

func (r *matchRepo) RecordGame(_ context.Context, g *model.MatchGame, networkAWon bool) (*model.Match, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[g.MatchID]
	if !ok {
		return nil, false, model.NotFoundf("match %s", g.MatchID)
	}
	if _, dup := r.matchGames[g.RecordHash]; dup {
		return cloneMatch(m), false, nil
	}

	if g.ID == uuid.Nil {
		g.ID = model.NewID()
	}
	cp := *g
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.matchGames[g.RecordHash] = &cp

	m.GamesPlayed++
	if networkAWon {
		m.Wins++
	} else {
		m.Losses++
	}
	return cloneMatch(m), true, nil
}

func (r *matchRepo) CountActive(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.matches {
		if m.GamesPlayed < m.GamesTarget {
			n++
		}
	}
	return n, nil
}

type gameRepo Store

func (r *gameRepo) Insert(_ context.Context, g *model.Game) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.games[g.RecordHash]; dup {
		return false, nil
	}
	if g.ID == uuid.Nil {
		g.ID = model.NewID()
	}
	cp := *g
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.games[g.RecordHash] = &cp
	if n, ok := r.networks[g.NetworkHash]; ok {
		n.GameCount++
	}
	return true, nil
}

func (r *gameRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.games)), nil
}

func (r *gameRepo) ActiveClients(_ context.Context, since time.Time, minGames int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	floor := model.IDFloor(since)
	counts := make(map[string]int)
	for _, g := range r.games {
		if bytes.Compare(g.ID[:], floor[:]) >= 0 {
			counts[g.ClientID]++
		}
	}
	var out []string
	for c, n := range counts {
		if n > minGames {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out, nil
}

func cloneMatch(m *model.Match) *model.Match {
	cp := *m
	if m.NetworkB != nil {
		b := *m.NetworkB
		cp.NetworkB = &b
	}
	return &cp
}
