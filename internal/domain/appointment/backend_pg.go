package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the backend needs. pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBackend is the durable copy of the log, one row per key in
// appointment_log.
type PostgresBackend struct {
	pool PgxPool
}

func NewPostgresBackend(pool PgxPool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := b.pool.QueryRow(ctx,
		`SELECT payload FROM appointment_log WHERE storage_key = $1`, key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load appointment log %s: %w", key, err)
	}
	return payload, true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, key string, data []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO appointment_log (storage_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (storage_key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = now()`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("save appointment log %s: %w", key, err)
	}
	return nil
}

func (b *PostgresBackend) Remove(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM appointment_log WHERE storage_key = $1`, key); err != nil {
		return fmt.Errorf("remove appointment log %s: %w", key, err)
	}
	return nil
}
