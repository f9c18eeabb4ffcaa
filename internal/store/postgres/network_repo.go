package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
)

const networkColumns = `hash, filters, blocks, training_count, training_steps, description, uploader_id, game_count, uploaded_at`

type NetworkRepo struct {
	db *DB
}

func NewNetworkRepo(db *DB) *NetworkRepo {
	return &NetworkRepo{db: db}
}

func scanNetwork(row interface{ Scan(...any) error }) (*model.Network, error) {
	var n model.Network
	err := row.Scan(
		&n.Hash, &n.Filters, &n.Blocks, &n.TrainingCount, &n.TrainingSteps,
		&n.Description, &n.UploaderID, &n.GameCount, &n.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NetworkRepo) Get(ctx context.Context, hash string) (*model.Network, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	n, err := scanNetwork(r.db.QueryRowContext(ctx,
		`SELECT `+networkColumns+` FROM networks WHERE hash = $1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get network: %w", err)
	}
	return n, nil
}

func (r *NetworkRepo) Insert(ctx context.Context, n *model.Network) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO networks (hash, filters, blocks, training_count, training_steps, description, uploader_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hash) DO NOTHING
	`, n.Hash, n.Filters, n.Blocks, n.TrainingCount, n.TrainingSteps, n.Description, n.UploaderID)
	if err != nil {
		return false, fmt.Errorf("insert network: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert network rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *NetworkRepo) ListMissingArchitecture(ctx context.Context, limit int) ([]model.Network, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+networkColumns+`
		FROM networks
		WHERE filters = 0 OR blocks = 0
		ORDER BY uploaded_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query networks missing architecture: %w", err)
	}
	defer rows.Close()

	var networks []model.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		networks = append(networks, *n)
	}
	return networks, rows.Err()
}

func (r *NetworkRepo) SetArchitecture(ctx context.Context, hash string, filters, blocks int) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE networks SET filters = $2, blocks = $3 WHERE hash = $1`, hash, filters, blocks)
	if err != nil {
		return fmt.Errorf("set network architecture: %w", err)
	}
	return nil
}

func (r *NetworkRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM networks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count networks: %w", err)
	}
	return n, nil
}
