package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rchs819/leela-zero-server/internal/alert"
	"github.com/rchs819/leela-zero-server/internal/config"
	"github.com/rchs819/leela-zero-server/internal/store/files"
	redisstore "github.com/rchs819/leela-zero-server/internal/store/redis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDBStatsProvider struct {
	stats sql.DBStats
}

func (f fakeDBStatsProvider) Stats() sql.DBStats {
	return f.stats
}

type panicDBStatsProvider struct{}

func (panicDBStatsProvider) Stats() sql.DBStats {
	panic("db stats temporarily unavailable")
}

func newTestGauges(prefix string) dbPoolStatsGauges {
	return dbPoolStatsGauges{
		open:         prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_open"}),
		inUse:        prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_in_use"}),
		idle:         prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_idle"}),
		waitCount:    prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_wait_count"}),
		waitDuration: prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_wait_duration_seconds"}),
	}
}

func TestCollectDBPoolStats_RecordsMetrics(t *testing.T) {
	provider := fakeDBStatsProvider{
		stats: sql.DBStats{
			OpenConnections: 10,
			InUse:           3,
			Idle:            7,
			WaitCount:       13,
			WaitDuration:    1500 * time.Millisecond,
		},
	}
	gauges := newTestGauges("test_db_pool")

	require.NoError(t, collectDBPoolStats(provider, gauges))

	assert.Equal(t, 10.0, testutil.ToFloat64(gauges.open))
	assert.Equal(t, 3.0, testutil.ToFloat64(gauges.inUse))
	assert.Equal(t, 7.0, testutil.ToFloat64(gauges.idle))
	assert.Equal(t, 13.0, testutil.ToFloat64(gauges.waitCount))
	assert.Equal(t, 1.5, testutil.ToFloat64(gauges.waitDuration))
}

func TestCollectDBPoolStats_ReturnsErrorOnPanic(t *testing.T) {
	err := collectDBPoolStats(panicDBStatsProvider{}, newTestGauges("test_db_pool_panic"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestCollectDBPoolStats_NilProvider(t *testing.T) {
	err := collectDBPoolStats(nil, newTestGauges("test_db_pool_nil"))
	require.Error(t, err)
}

func TestResolveEventBus_InMemoryWithoutRedisURL(t *testing.T) {
	cfg := &config.Config{}
	bus, redisEnabled, err := resolveEventBus(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer bus.Close()

	assert.False(t, redisEnabled)
	_, ok := bus.(*redisstore.InMemoryStream)
	assert.True(t, ok, "expected in-memory stream, got %T", bus)
}

func TestResolveEventBus_UsesRedisFactory(t *testing.T) {
	orig := newStreamFactory
	t.Cleanup(func() { newStreamFactory = orig })

	var gotURL string
	var gotMaxLen int64
	newStreamFactory = func(_ context.Context, url string, maxLen int64) (redisstore.Bus, error) {
		gotURL, gotMaxLen = url, maxLen
		return redisstore.NewInMemoryStream(), nil
	}

	cfg := &config.Config{Redis: config.RedisConfig{URL: " redis://cache:6379/0 ", MaxLen: 500}}
	bus, redisEnabled, err := resolveEventBus(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer bus.Close()

	assert.True(t, redisEnabled)
	assert.Equal(t, "redis://cache:6379/0", gotURL)
	assert.Equal(t, int64(500), gotMaxLen)
}

func TestResolveEventBus_FactoryFailure(t *testing.T) {
	orig := newStreamFactory
	t.Cleanup(func() { newStreamFactory = orig })
	newStreamFactory = func(context.Context, string, int64) (redisstore.Bus, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	cfg := &config.Config{Redis: config.RedisConfig{URL: "redis://cache:6379/0"}}
	_, _, err := resolveEventBus(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := &config.Config{DB: config.DBConfig{URL: config.MemoryDBURL}}
	st, err := openStore(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	assert.Nil(t, st.close)
	assert.Nil(t, st.stats)
	assert.Nil(t, st.ready)
	require.NotNil(t, st.repos.Networks)
	require.NotNil(t, st.repos.Matches)
	require.NotNil(t, st.repos.Games)

	n, err := st.repos.Networks.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuildAlerter(t *testing.T) {
	_, noop := buildAlerter(config.AlertConfig{}, testLogger()).(*alert.NoopAlerter)
	assert.True(t, noop)

	_, multi := buildAlerter(config.AlertConfig{
		SlackWebhookURL: "https://hooks.slack.test/x",
		Cooldown:        time.Minute,
	}, testLogger()).(*alert.MultiAlerter)
	assert.True(t, multi)
}

func TestConfigMapping(t *testing.T) {
	t.Setenv("DB_URL", config.MemoryDBURL)
	t.Setenv("QUEUE_BUFFER", "40")
	t.Setenv("SPRT_ELO1", "20")
	t.Setenv("SELFPLAY_VISITS", "1601")
	t.Setenv("MATCH_DEFAULT_GAMES", "200")
	t.Setenv("MAX_RECORD_BYTES", "1048576")
	cfg, err := config.Load()
	require.NoError(t, err)

	sc := schedulerConfig(cfg)
	assert.Equal(t, 40, sc.Queue.Buffer)
	assert.Equal(t, 20.0, sc.Queue.SPRT.Elo1)
	assert.Equal(t, cfg.Scheduler.QueueRebuildInterval, sc.RebuildInterval)
	assert.Positive(t, sc.RebuildPolicy.Attempts, "rebuild retries keep their defaults")

	dc := dispatchConfig(cfg)
	assert.Equal(t, 1601, dc.SelfPlay.Visits)
	assert.Equal(t, 200, dc.Match.Games)
	assert.Equal(t, int64(1<<20), dc.MaxRecordBytes)
	assert.Equal(t, cfg.Scheduler.RequiredClientVersion, dc.RequiredClientVersion)
}

func TestAdminMux(t *testing.T) {
	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux := adminMux(adminHandler, nil, testLogger())

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/admin/v1/queue", http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAdminMux_ReadyzReportsStoreFailure(t *testing.T) {
	storeUp := true
	ready := func(context.Context) error {
		if storeUp {
			return nil
		}
		return errors.New("dial tcp: connection refused")
	}
	mux := adminMux(http.NotFoundHandler(), ready, testLogger())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	storeUp = false
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness ignores the store")
}

func TestSweepStaleUploads_RemovesOldTempFiles(t *testing.T) {
	dir := t.TempDir()
	artifacts, err := files.New(dir, testLogger())
	require.NoError(t, err)

	stale := filepath.Join(dir, ".upload-old.tmp")
	fresh := filepath.Join(dir, ".upload-new.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-2 * staleUploadAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sweepStaleUploads(ctx, artifacts, testLogger()))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
