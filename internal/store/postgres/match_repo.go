package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
)

const matchColumns = `id, network_a, network_b, wins, losses, games_played, games_target, is_test, options, options_hash, created_at`

type MatchRepo struct {
	db *DB
}

func NewMatchRepo(db *DB) *MatchRepo {
	return &MatchRepo{db: db}
}

func scanMatch(row interface{ Scan(...any) error }) (*model.Match, error) {
	var m model.Match
	err := row.Scan(
		&m.ID, &m.NetworkA, &m.NetworkB, &m.Wins, &m.Losses,
		&m.GamesPlayed, &m.GamesTarget, &m.IsTest, &m.Options, &m.OptionsHash, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MatchRepo) Create(ctx context.Context, m *model.Match) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if m.ID == uuid.Nil {
		m.ID = model.NewID()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO matches (id, network_a, network_b, games_target, is_test, options, options_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, m.ID, m.NetworkA, m.NetworkB, m.GamesTarget, m.IsTest, m.Options, m.OptionsHash).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	return nil
}

func (r *MatchRepo) Get(ctx context.Context, id uuid.UUID) (*model.Match, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	m, err := scanMatch(r.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

func (r *MatchRepo) FindByPair(ctx context.Context, hashA, hashB, optionsHash string) (*model.Match, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	m, err := scanMatch(r.db.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE options_hash = $3
		  AND ((network_a = $1 AND network_b = $2) OR (network_a = $2 AND network_b = $1))
		ORDER BY id DESC
		LIMIT 1
	`, hashA, hashB, optionsHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find match by pair: %w", err)
	}
	return m, nil
}

func (r *MatchRepo) Pending(ctx context.Context) ([]model.Match, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE games_played < games_target
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending matches: %w", err)
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

func (r *MatchRepo) ResolveNetworkB(ctx context.Context, id uuid.UUID, hash string) (*model.Match, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx,
		`UPDATE matches SET network_b = $2 WHERE id = $1 AND network_b IS NULL`, id, hash,
	); err != nil {
		return nil, fmt.Errorf("resolve match network_b: %w", err)
	}

	m, err := scanMatch(r.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reload match: %w", err)
	}
	return m, nil
}

func (r *MatchRepo) RecordGame(ctx context.Context, g *model.MatchGame, networkAWon bool) (*model.Match, bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if g.ID == uuid.Nil {
		g.ID = model.NewID()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO match_games (id, record_hash, match_id, winner_hash, loser_hash, client_id, client_version,
			options_hash, winner_color, moves_count, score, seed, sgf)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (record_hash) DO NOTHING
	`, g.ID, g.RecordHash, g.MatchID, g.WinnerHash, g.LoserHash, g.ClientID, g.ClientVersion,
		g.OptionsHash, g.WinnerColor, g.MovesCount, g.Score, g.Seed, g.SGF)
	if err != nil {
		return nil, false, fmt.Errorf("insert match game: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert match game rows affected: %w", err)
	}
	inserted := affected == 1

	var row *sql.Row
	if inserted {
		row = tx.QueryRowContext(ctx, `
			UPDATE matches SET
				games_played = games_played + 1,
				wins = wins + CASE WHEN $2 THEN 1 ELSE 0 END,
				losses = losses + CASE WHEN $2 THEN 0 ELSE 1 END
			WHERE id = $1
			RETURNING `+matchColumns, g.MatchID, networkAWon)
	} else {
		row = tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, g.MatchID)
	}
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, model.NotFoundf("match %s", g.MatchID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("update match counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit match game: %w", err)
	}
	return m, inserted, nil
}

func (r *MatchRepo) CountActive(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM matches WHERE games_played < games_target`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active matches: %w", err)
	}
	return n, nil
}
