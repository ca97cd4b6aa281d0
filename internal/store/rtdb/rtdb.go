// Package rtdb implements kv.Store on the Firebase Realtime Database.
// A multi-path update on the root reference is atomic on the RTDB side, which
// is what AtomicUpdate relies on. RTDB offers no multi-path compare-and-swap,
// so AtomicCreate checks the guard path first and then issues the atomic
// update; the narrow window between check and write remains (the SQL stores
// close it). See the gormkv and pgkv packages for strict conditional creates.
package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"github.com/diamondstd/cycles/pkg/kv"
)

var jsonNull = []byte("null")

// Store implements kv.Store using the Firebase Admin database client.
type Store struct {
	client *db.Client
}

// New connects to the Realtime Database at databaseURL. credentialsFile may
// be empty, in which case application-default credentials are used.
func New(ctx context.Context, databaseURL string, credentialsFile string) (*Store, error) {
	config := &firebase.Config{DatabaseURL: databaseURL}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("database client: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing database client.
func NewWithClient(client *db.Client) *Store {
	return &Store{client: client}
}

func (store *Store) Read(ctx context.Context, path string, value any) error {
	var raw json.RawMessage
	if err := store.client.NewRef(path).Get(ctx, &raw); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return kv.ErrPathNotFound
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (store *Store) AtomicUpdate(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	payload := make(map[string]interface{}, len(updates))
	for path, value := range updates {
		payload[path] = value
	}
	if err := store.client.NewRef("").Update(ctx, payload); err != nil {
		return fmt.Errorf("atomic update: %w", err)
	}
	return nil
}

func (store *Store) AtomicCreate(ctx context.Context, guardPath string, updates map[string]any) error {
	var existing json.RawMessage
	if err := store.client.NewRef(guardPath).Get(ctx, &existing); err != nil {
		return fmt.Errorf("guard read %s: %w", guardPath, err)
	}
	if len(existing) != 0 && !bytes.Equal(existing, jsonNull) {
		return kv.ErrPathExists
	}
	return store.AtomicUpdate(ctx, updates)
}
