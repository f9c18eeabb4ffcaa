//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rchs819/leela-zero-server/internal/digest"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/store/postgres"
)

func seedNetwork(t *testing.T, repo *postgres.NetworkRepo, label string) string {
	t.Helper()
	hash := digest.Bytes([]byte(label + uuid.NewString()))
	inserted, err := repo.Insert(context.Background(), &model.Network{Hash: hash, Filters: 64, Blocks: 6})
	require.NoError(t, err)
	require.True(t, inserted)
	return hash
}

func TestNetworkRepo_InsertIsIdempotent(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewNetworkRepo(db)
	ctx := context.Background()

	hash := seedNetwork(t, repo, "net")

	inserted, err := repo.Insert(ctx, &model.Network{Hash: hash, Filters: 128, Blocks: 10})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Get(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 64, got.Filters, "first write wins")

	missing, err := repo.Get(ctx, digest.Bytes([]byte("missing")))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNetworkRepo_Architecture(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewNetworkRepo(db)
	ctx := context.Background()

	hash := digest.Bytes([]byte("unscanned" + uuid.NewString()))
	_, err := repo.Insert(ctx, &model.Network{Hash: hash})
	require.NoError(t, err)

	list, err := repo.ListMissingArchitecture(ctx, 100)
	require.NoError(t, err)
	var found bool
	for _, n := range list {
		found = found || n.Hash == hash
	}
	assert.True(t, found)

	require.NoError(t, repo.SetArchitecture(ctx, hash, 128, 10))
	got, err := repo.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "128x10", got.Architecture())
}

func TestMatchRepo_RecordGameIncrementsAtomically(t *testing.T) {
	db := testDB(t)
	networks := postgres.NewNetworkRepo(db)
	matches := postgres.NewMatchRepo(db)
	ctx := context.Background()

	a := seedNetwork(t, networks, "a")
	b := seedNetwork(t, networks, "b")
	opts := model.Options{Visits: 3200, ResignationPercent: 5}
	m := &model.Match{NetworkA: a, NetworkB: &b, GamesTarget: 400, Options: opts, OptionsHash: opts.Fingerprint()}
	require.NoError(t, matches.Create(ctx, m))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g := &model.MatchGame{
				RecordHash: digest.Bytes([]byte(uuid.NewString())),
				MatchID:    m.ID,
				WinnerHash: a,
				LoserHash:  b,
				ClientID:   "10.0.0.1",
				SGF:        "(;)",
			}
			_, _, err := matches.RecordGame(ctx, g, i%2 == 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := matches.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.GamesPlayed)
	assert.Equal(t, workers/2, got.Wins)
	assert.Equal(t, workers/2, got.Losses)
	assert.Equal(t, opts, got.Options)
}

func TestMatchRepo_RecordGameFirstWriteWins(t *testing.T) {
	db := testDB(t)
	networks := postgres.NewNetworkRepo(db)
	matches := postgres.NewMatchRepo(db)
	ctx := context.Background()

	a := seedNetwork(t, networks, "a")
	b := seedNetwork(t, networks, "b")
	m := &model.Match{NetworkA: a, NetworkB: &b, GamesTarget: 10, OptionsHash: "abcdef"}
	require.NoError(t, matches.Create(ctx, m))

	g := &model.MatchGame{RecordHash: digest.Bytes([]byte("same")), MatchID: m.ID, SGF: "(;)", ClientID: "c"}
	first, inserted, err := matches.RecordGame(ctx, g, true)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 1, first.Wins)

	dup := *g
	dup.ID = uuid.Nil
	second, inserted, err := matches.RecordGame(ctx, &dup, false)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, second.GamesPlayed)
	assert.Equal(t, 0, second.Losses)
}

func TestMatchRepo_PairPendingAndResolve(t *testing.T) {
	db := testDB(t)
	networks := postgres.NewNetworkRepo(db)
	matches := postgres.NewMatchRepo(db)
	ctx := context.Background()

	a := seedNetwork(t, networks, "a")
	best := seedNetwork(t, networks, "best")
	other := seedNetwork(t, networks, "other")

	lazy := &model.Match{NetworkA: a, GamesTarget: 2, OptionsHash: "aaaaaa"}
	require.NoError(t, matches.Create(ctx, lazy))

	resolved, err := matches.ResolveNetworkB(ctx, lazy.ID, best)
	require.NoError(t, err)
	require.NotNil(t, resolved.NetworkB)
	assert.Equal(t, best, *resolved.NetworkB)

	again, err := matches.ResolveNetworkB(ctx, lazy.ID, other)
	require.NoError(t, err)
	assert.Equal(t, best, *again.NetworkB, "conditional update keeps the first resolution")

	found, err := matches.FindByPair(ctx, best, a, "aaaaaa")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, lazy.ID, found.ID)

	none, err := matches.FindByPair(ctx, best, a, "bbbbbb")
	require.NoError(t, err)
	assert.Nil(t, none)

	pending, err := matches.Pending(ctx)
	require.NoError(t, err)
	assert.Contains(t, matchIDs(pending), lazy.ID)

	for i := 0; i < 2; i++ {
		_, _, err := matches.RecordGame(ctx, &model.MatchGame{
			RecordHash: digest.Bytes([]byte(uuid.NewString())), MatchID: lazy.ID, SGF: "(;)", ClientID: "c",
		}, false)
		require.NoError(t, err)
	}
	pending, err = matches.Pending(ctx)
	require.NoError(t, err)
	assert.NotContains(t, matchIDs(pending), lazy.ID)
}

func TestGameRepo_InsertAndActiveClients(t *testing.T) {
	db := testDB(t)
	networks := postgres.NewNetworkRepo(db)
	games := postgres.NewGameRepo(db)
	ctx := context.Background()

	hash := seedNetwork(t, networks, "selfplay")
	client := "client-" + uuid.NewString()[:8]
	slow := "slow-" + uuid.NewString()[:8]

	for i := 0; i < 5; i++ {
		inserted, err := games.Insert(ctx, &model.Game{
			RecordHash: digest.Bytes([]byte(uuid.NewString())), NetworkHash: hash, ClientID: client, SGF: "(;)",
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	record := digest.Bytes([]byte(uuid.NewString()))
	_, err := games.Insert(ctx, &model.Game{RecordHash: record, NetworkHash: hash, ClientID: slow, SGF: "(;)"})
	require.NoError(t, err)
	inserted, err := games.Insert(ctx, &model.Game{RecordHash: record, NetworkHash: hash, ClientID: slow, SGF: "(;)"})
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := networks.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n.GameCount)

	active, err := games.ActiveClients(ctx, time.Now().Add(-time.Hour), 4)
	require.NoError(t, err)
	assert.Contains(t, active, client)
	assert.NotContains(t, active, slow)

	later, err := games.ActiveClients(ctx, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	assert.NotContains(t, later, client)
}

func matchIDs(ms []model.Match) []uuid.UUID {
	ids := make([]uuid.UUID, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

func TestMigrate_ConcurrentServers(t *testing.T) {
	url := databaseURL(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := postgres.New(postgres.Config{URL: url, MaxOpenConns: 2})
			if err != nil {
				errs[i] = err
				return
			}
			defer db.Close()
			errs[i] = db.Migrate(ctx)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	db := testDB(t)
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStatementTimeoutApplies(t *testing.T) {
	db, err := postgres.New(postgres.Config{URL: databaseURL(t), StatementTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(context.Background(), "SELECT pg_sleep(1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")

	var app string
	require.NoError(t, db.QueryRowContext(context.Background(), "SHOW application_name").Scan(&app))
	assert.Equal(t, "leelaz-server", app)
	require.NoError(t, db.Ready(context.Background(), time.Second))
}
