package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/diamondstd/cycles/pkg/kv"
)

// TransactionLedger answers whether a payment transaction has already been
// processed, with the store as the single source of truth.
type TransactionLedger struct {
	store kv.Store
}

// NewTransactionLedger wires a ledger over a store.
func NewTransactionLedger(store kv.Store) (*TransactionLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &TransactionLedger{store: store}, nil
}

// IsProcessed reports whether a transaction record exists for transactionID.
// A store failure is surfaced, never folded into "not processed": guessing
// here could re-provision an already paid transaction.
func (ledger *TransactionLedger) IsProcessed(ctx context.Context, transactionID string) (bool, error) {
	var record TransactionRecord
	err := ledger.store.Read(ctx, TransactionPath(transactionID), &record)
	if errors.Is(err, kv.ErrPathNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: ledger lookup: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}
