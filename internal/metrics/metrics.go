package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch
	TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "dispatch",
		Name:      "tasks_dispatched_total",
		Help:      "Total tasks handed to workers",
	}, []string{"kind"})

	GamesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "dispatch",
		Name:      "games_submitted_total",
		Help:      "Total self-play game submissions by outcome",
	}, []string{"outcome"})

	MatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "dispatch",
		Name:      "match_results_total",
		Help:      "Total match game results by resulting verdict",
	}, []string{"verdict"})

	NetworksUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "dispatch",
		Name:      "networks_uploaded_total",
		Help:      "Total network uploads by outcome",
	}, []string{"outcome"})

	NetworkUploadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "leelaz",
		Subsystem: "dispatch",
		Name:      "network_upload_duration_seconds",
		Help:      "Duration of streaming network ingestion",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// Scheduler
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Current number of queued matches per tier",
	}, []string{"tier"})

	OutstandingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "scheduler",
		Name:      "outstanding_requests",
		Help:      "Match games handed out and not yet reported",
	})

	ExpiredRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "scheduler",
		Name:      "expired_requests_total",
		Help:      "Total outstanding match requests dropped after expiry",
	})

	FastClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "scheduler",
		Name:      "fast_clients",
		Help:      "Clients currently eligible for match games",
	})

	QueueRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "leelaz",
		Subsystem: "scheduler",
		Name:      "queue_rebuild_duration_seconds",
		Help:      "Duration of match queue rebuilds from storage",
		Buckets:   prometheus.DefBuckets,
	})

	QueueRebuildErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "scheduler",
		Name:      "queue_rebuild_errors_total",
		Help:      "Total failed match queue rebuilds",
	})

	// Promotion
	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "promotion",
		Name:      "promotions_total",
		Help:      "Total best-network promotions by outcome",
	}, []string{"outcome"})

	// Store
	StoreBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "store",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "store",
		Name:      "retries_total",
		Help:      "Total retried store operations",
	}, []string{"op"})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by server, route and status code",
	}, []string{"server", "route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leelaz",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by server and route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"server", "route"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the per-client rate limiter",
	}, []string{"server"})

	// Database pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "postgres",
		Name:      "db_pool_open",
		Help:      "Current number of open PostgreSQL connections in the pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "postgres",
		Name:      "db_pool_in_use",
		Help:      "Current number of in-use PostgreSQL connections in the pool",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "postgres",
		Name:      "db_pool_idle",
		Help:      "Current number of idle PostgreSQL connections in the pool",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "postgres",
		Name:      "db_pool_wait_count",
		Help:      "Cumulative count of waits for PostgreSQL connections from pool",
	})

	DBPoolWaitDurationSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "leelaz",
		Subsystem: "postgres",
		Name:      "db_pool_wait_duration_seconds",
		Help:      "Cumulative PostgreSQL pool wait duration in seconds",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent by channel and kind",
	}, []string{"channel", "kind"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "kind"})

	// Caches
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Total in-process cache lookups by cache and result",
	}, []string{"cache", "result"})

	// Operator audit
	AdminActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leelaz",
		Subsystem: "admin",
		Name:      "actions_total",
		Help:      "Total mutating admin requests by route and outcome",
	}, []string{"route", "outcome"})
)
