// Package pgkv implements kv.Store directly on PostgreSQL through pgx.
// Multi-path writes run inside one transaction; the conditional create uses
// INSERT ... ON CONFLICT DO NOTHING on the guard path so two racing creates
// are serialized by the database.
package pgkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diamondstd/cycles/pkg/kv"
)

const (
	sqlCreateTable = `
		create table if not exists kv_records (
			path text primary key,
			value jsonb not null,
			updated_at timestamptz not null default now()
		)
	`

	sqlSelectValue = `
		select value from kv_records where path = $1
	`

	sqlUpsertValue = `
		insert into kv_records(path, value, updated_at) values($1, $2, now())
		on conflict (path) do update set value = excluded.value, updated_at = now()
	`

	sqlInsertGuard = `
		insert into kv_records(path, value, updated_at) values($1, $2, now())
		on conflict (path) do nothing
	`
)

// Store implements kv.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the kv_records table if missing.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("create kv_records: %w", err)
	}
	return nil
}

func (store *Store) Read(ctx context.Context, path string, value any) error {
	var raw []byte
	err := store.pool.QueryRow(ctx, sqlSelectValue, path).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return kv.ErrPathNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (store *Store) AtomicUpdate(ctx context.Context, updates map[string]any) error {
	encoded, err := encodeValues(updates)
	if err != nil {
		return err
	}
	return store.withTx(ctx, func(tx pgx.Tx) error {
		for path, raw := range encoded {
			if _, err := tx.Exec(ctx, sqlUpsertValue, path, raw); err != nil {
				return fmt.Errorf("upsert %s: %w", path, err)
			}
		}
		return nil
	})
}

func (store *Store) AtomicCreate(ctx context.Context, guardPath string, updates map[string]any) error {
	encoded, err := encodeValues(updates)
	if err != nil {
		return err
	}
	guardValue, ok := encoded[guardPath]
	if !ok {
		return fmt.Errorf("guard path %s missing from updates", guardPath)
	}
	return store.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, sqlInsertGuard, guardPath, guardValue)
		if err != nil {
			return fmt.Errorf("create %s: %w", guardPath, err)
		}
		if tag.RowsAffected() == 0 {
			return kv.ErrPathExists
		}
		for path, raw := range encoded {
			if path == guardPath {
				continue
			}
			if _, err := tx.Exec(ctx, sqlUpsertValue, path, raw); err != nil {
				return fmt.Errorf("upsert %s: %w", path, err)
			}
		}
		return nil
	})
}

func (store *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func encodeValues(updates map[string]any) (map[string][]byte, error) {
	encoded := make(map[string][]byte, len(updates))
	for path, value := range updates {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", path, err)
		}
		encoded[path] = raw
	}
	return encoded, nil
}
