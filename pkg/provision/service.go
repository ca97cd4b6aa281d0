package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diamondstd/cycles/pkg/kv"
)

// Service provisions accounts from verified payment events.
//
// Exactly-once account creation is enforced in two layers: the transaction
// ledger lookup short-circuits redelivered webhooks, and the final write is a
// conditional atomic multi-path create guarded on the ledger path, so two
// deliveries racing each other cannot both land.
type Service struct {
	store       kv.Store
	nowFn       func() time.Time
	generate    func() string
	maxAttempts int
	logger      OperationLogger

	ledger    *TransactionLedger
	allocator *Allocator
}

// NewService wires a Service.
func NewService(store kv.Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:       store,
		nowFn:       now,
		generate:    NewAccountIdentifier,
		maxAttempts: DefaultMaxAllocationAttempts,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	ledger, err := NewTransactionLedger(store)
	if err != nil {
		return nil, err
	}
	allocator, err := NewAllocator(service.generate, service.maxAttempts)
	if err != nil {
		return nil, err
	}
	service.ledger = ledger
	service.allocator = allocator
	return service, nil
}

// Provision creates one account for event, at most once per transaction id.
// Failed writes are not retried here: the webhook caller reports failure to
// the payment provider and provider redelivery drives the retry, which is
// safe because the write is atomic and the ledger lookup makes redelivery a
// no-op once the write has landed.
func (service *Service) Provision(ctx context.Context, event PaymentEvent) (Result, error) {
	result, operationError := service.provision(ctx, event)
	service.logOperation(ctx, OperationLog{
		Operation:     operationProvision,
		TransactionID: strings.TrimSpace(event.TransactionID),
		AccountID:     result.AccountID,
		Origin:        event.Origin,
		Outcome:       result.Outcome,
		Error:         operationError,
	})
	return result, operationError
}

func (service *Service) provision(ctx context.Context, event PaymentEvent) (Result, error) {
	transactionID := strings.TrimSpace(event.TransactionID)
	email := strings.TrimSpace(event.Email)
	if transactionID == "" || email == "" {
		return Result{}, WrapError(operationProvision, "event", "malformed", ErrMalformedEvent)
	}

	processed, err := service.ledger.IsProcessed(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	if processed {
		return Result{Outcome: OutcomeAlreadyProcessed}, nil
	}

	accountID, err := service.allocator.Allocate(ctx, service.accountExists)
	if err != nil {
		return Result{}, err
	}

	now := service.nowFn().UTC()
	account := Account{
		Active:    true,
		Cycles:    InitialCycleGrant,
		Email:     email,
		Origin:    event.Origin,
		CreatedAt: now,
	}
	record := TransactionRecord{
		UserID:    accountID,
		Email:     email,
		Product:   event.Product,
		Amount:    event.Amount,
		Currency:  event.Currency,
		CreatedAt: now,
	}

	guardPath := TransactionPath(transactionID)
	updates := map[string]any{
		AccountPath(accountID): account,
		guardPath:              record,
	}
	if err := service.store.AtomicCreate(ctx, guardPath, updates); err != nil {
		if errors.Is(err, kv.ErrPathExists) {
			// Lost the race against a concurrent delivery of the same
			// transaction; the winner's account stands.
			return Result{Outcome: OutcomeConcurrentDuplicate}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	return Result{Outcome: OutcomeProvisioned, AccountID: accountID}, nil
}

func (service *Service) accountExists(ctx context.Context, candidate string) (bool, error) {
	var account Account
	err := service.store.Read(ctx, AccountPath(candidate), &account)
	if errors.Is(err, kv.ErrPathNotFound) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return true, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
