package store

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
)

// NetworkRepository provides access to uploaded networks. Lookups return
// (nil, nil) when the network does not exist.
type NetworkRepository interface {
	Get(ctx context.Context, hash string) (*model.Network, error)
	// Insert stores n unless a network with the same hash exists. It reports
	// whether a row was written.
	Insert(ctx context.Context, n *model.Network) (bool, error)
	ListMissingArchitecture(ctx context.Context, limit int) ([]model.Network, error)
	SetArchitecture(ctx context.Context, hash string, filters, blocks int) error
	Count(ctx context.Context) (int64, error)
}

// MatchRepository provides access to matches and their results.
type MatchRepository interface {
	Create(ctx context.Context, match *model.Match) error
	Get(ctx context.Context, id uuid.UUID) (*model.Match, error)
	// FindByPair returns the most recent match between the two networks, in
	// either order, played with the given options.
	FindByPair(ctx context.Context, hashA, hashB, optionsHash string) (*model.Match, error)
	// Pending returns matches that still need games, oldest first.
	Pending(ctx context.Context) ([]model.Match, error)
	// ResolveNetworkB sets network_b only if it is still unset and returns the
	// stored match, which may carry a value written by another caller.
	ResolveNetworkB(ctx context.Context, id uuid.UUID, hash string) (*model.Match, error)
	// RecordGame stores g and, only when it was not seen before, atomically
	// increments the match counters. It returns the match as stored after the call.
	RecordGame(ctx context.Context, g *model.MatchGame, networkAWon bool) (*model.Match, bool, error)
	CountActive(ctx context.Context) (int64, error)
}

// GameRepository provides access to self-play games.
type GameRepository interface {
	// Insert stores g and, only when it was not seen before, increments the
	// game count of its network. It reports whether a row was written.
	Insert(ctx context.Context, g *model.Game) (bool, error)
	Count(ctx context.Context) (int64, error)
	// ActiveClients returns clients with more than minGames games since the given time.
	ActiveClients(ctx context.Context, since time.Time, minGames int) ([]string, error)
}

// Repositories groups the repositories a server needs.
type Repositories struct {
	Networks NetworkRepository
	Matches  MatchRepository
	Games    GameRepository
}
