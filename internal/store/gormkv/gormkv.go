// Package gormkv implements kv.Store on a relational database through GORM.
// Paths live in a single kv_records table; multi-path writes run inside one
// database transaction, and the conditional create leans on the primary-key
// constraint so concurrent guards race at the database, not in memory.
package gormkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diamondstd/cycles/pkg/kv"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
)

// Store implements kv.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the kv_records table if missing.
func (store *Store) Migrate() error {
	if err := store.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (store *Store) Read(ctx context.Context, path string, value any) error {
	var record Record
	err := store.db.WithContext(ctx).Take(&record, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kv.ErrPathNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(record.Value, value); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (store *Store) AtomicUpdate(ctx context.Context, updates map[string]any) error {
	records, err := encodeRecords(updates)
	if err != nil {
		return err
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		for index := range records {
			if err := upsertRecord(transaction, &records[index]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (store *Store) AtomicCreate(ctx context.Context, guardPath string, updates map[string]any) error {
	records, err := encodeRecords(updates)
	if err != nil {
		return err
	}
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		for index := range records {
			record := &records[index]
			if record.Path == guardPath {
				if err := transaction.Create(record).Error; err != nil {
					if isUniqueViolation(err) {
						return kv.ErrPathExists
					}
					return fmt.Errorf("create %s: %w", record.Path, err)
				}
				continue
			}
			if err := upsertRecord(transaction, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertRecord(transaction *gorm.DB, record *Record) error {
	err := transaction.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", record.Path, err)
	}
	return nil
}

func encodeRecords(updates map[string]any) ([]Record, error) {
	now := time.Now().UTC()
	records := make([]Record, 0, len(updates))
	for path, value := range updates {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", path, err)
		}
		records = append(records, Record{
			Path:      path,
			Value:     datatypes.JSON(raw),
			UpdatedAt: now,
		})
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
