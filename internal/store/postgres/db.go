package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/lib/pq"
)

const (
	// DefaultQueryTimeout bounds individual queries and short transactions.
	DefaultQueryTimeout = 30 * time.Second

	// LongQueryTimeout bounds a single migration.
	LongQueryTimeout = 5 * time.Minute

	defaultStatementTimeout = 30 * time.Second
	maxStatementTimeout     = time.Hour

	// migrationLockID serializes migrations across replicas starting at once.
	migrationLockID int64 = 0x6c65656c617a // "leelaz"

	applicationName = "leelaz-server"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// withTimeout returns a child context that will be cancelled after d.
// Callers must defer the returned CancelFunc.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// DB is the connection pool shared by the repositories.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatementTimeout is enforced server-side on every pooled connection.
	// Zero selects the default; negative disables it.
	StatementTimeout time.Duration
	Logger           *slog.Logger
}

func New(cfg Config) (*DB, error) {
	dsn, err := sessionDSN(cfg.URL, cfg.StatementTimeout)
	if err != nil {
		return nil, err
	}
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(2 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{DB: db, logger: logger.With("component", "postgres")}, nil
}

// sessionDSN adds the statement timeout and an application name to a
// postgres:// URL so they apply to every connection the pool opens.
func sessionDSN(raw string, statementTimeout time.Duration) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse db url: %w", err)
	}
	if statementTimeout == 0 {
		statementTimeout = defaultStatementTimeout
	}
	if statementTimeout > maxStatementTimeout {
		return "", fmt.Errorf("statement timeout %s exceeds %s", statementTimeout, maxStatementTimeout)
	}

	q := u.Query()
	if statementTimeout > 0 {
		q.Set("options", "-c statement_timeout="+strconv.FormatInt(statementTimeout.Milliseconds(), 10))
	}
	if q.Get("application_name") == "" {
		q.Set("application_name", applicationName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Ready pings the database within timeout.
func (db *DB) Ready(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate applies the embedded schema migrations.
func (db *DB) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	return db.RunMigrations(ctx, sub)
}

// RunMigrations executes *.up.sql files from fsys in sorted order. Applied
// versions are tracked in schema_migrations; each file runs at most once even
// when several servers start together.
func (db *DB) RunMigrations(ctx context.Context, fsys fs.FS) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		version := path.Base(f)

		start := time.Now()
		applied, err := db.applyMigration(ctx, version, string(content))
		if err != nil {
			return err
		}
		if applied {
			db.logger.Info("migration applied", "version", version, "elapsed", time.Since(start).String())
		}
	}
	return nil
}

// applyMigration runs one migration under a transaction-scoped advisory
// lock. It reports false when another server already applied it.
func (db *DB) applyMigration(ctx context.Context, version, content string) (bool, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("lock migration %s: %w", version, err)
	}
	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if exists {
		return false, nil
	}

	// Fail instead of waiting indefinitely on locks held by a running server.
	if _, err := tx.ExecContext(ctx, "SET LOCAL lock_timeout = '10s'"); err != nil {
		return false, fmt.Errorf("set lock_timeout for migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, content); err != nil {
		return false, fmt.Errorf("exec migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}
