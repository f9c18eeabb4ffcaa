package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
)

type GameRepo struct {
	db *DB
}

func NewGameRepo(db *DB) *GameRepo {
	return &GameRepo{db: db}
}

func (r *GameRepo) Insert(ctx context.Context, g *model.Game) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if g.ID == uuid.Nil {
		g.ID = model.NewID()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO games (id, record_hash, network_hash, client_id, client_version, options_hash,
			winner_color, moves_count, seed, sgf, training_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (record_hash) DO NOTHING
	`, g.ID, g.RecordHash, g.NetworkHash, g.ClientID, g.ClientVersion, g.OptionsHash,
		g.WinnerColor, g.MovesCount, g.Seed, g.SGF, g.TrainingData)
	if err != nil {
		return false, fmt.Errorf("insert game: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert game rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE networks SET game_count = game_count + 1 WHERE hash = $1`, g.NetworkHash,
	); err != nil {
		return false, fmt.Errorf("increment network game count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit game: %w", err)
	}
	return true, nil
}

func (r *GameRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM games`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

// ActiveClients scans the trailing window by id. Ids are time ordered, so the
// floor id for since bounds the range without a timestamp index.
func (r *GameRepo) ActiveClients(ctx context.Context, since time.Time, minGames int) ([]string, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT client_id
		FROM games
		WHERE id >= $1
		GROUP BY client_id
		HAVING count(*) > $2
		ORDER BY client_id
	`, model.IDFloor(since), minGames)
	if err != nil {
		return nil, fmt.Errorf("query active clients: %w", err)
	}
	defer rows.Close()

	var clients []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
