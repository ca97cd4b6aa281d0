// Package kv defines the hierarchical key-value store contract consumed by
// the provisioning and usage services. Paths are slash-separated, for example
// "accounts/diam-a1b2-c3d4-e5f6".
package kv

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations.
var (
	ErrPathNotFound = errors.New("path not found")
	ErrPathExists   = errors.New("path already exists")
)

// Store is the persistence contract shared by all backends.
type Store interface {
	// Read unmarshals the value stored at path into value.
	// Returns ErrPathNotFound when nothing is stored there.
	Read(ctx context.Context, path string, value any) error

	// AtomicUpdate writes every path in updates as one all-or-nothing unit.
	AtomicUpdate(ctx context.Context, updates map[string]any) error

	// AtomicCreate behaves like AtomicUpdate but fails with ErrPathExists when
	// guardPath already holds a value. guardPath must be a key of updates.
	AtomicCreate(ctx context.Context, guardPath string, updates map[string]any) error
}
