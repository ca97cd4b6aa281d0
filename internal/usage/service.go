// Package usage burns and reports per-account cycle balances. Accounts are
// created by the provisioning service; this package only reads and decrements
// them.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diamondstd/cycles/pkg/kv"
	"github.com/diamondstd/cycles/pkg/provision"
)

const usageLogPathPrefix = "logs/"

// BalanceView is the read-only account summary returned to callers.
type BalanceView struct {
	UserID     string
	Cycles     int64
	Active     bool
	LastUsedAt *time.Time
}

// Receipt describes one successfully consumed cycle.
type Receipt struct {
	UserID    string
	Remaining int64
	LogID     string
}

// LogEntry is the audit record appended for every consumed cycle.
type LogEntry struct {
	UserID       string    `json:"userId"`
	CyclesBefore int64     `json:"cyclesBefore"`
	CyclesAfter  int64     `json:"cyclesAfter"`
	Timestamp    time.Time `json:"timestamp"`
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogIDGenerator overrides the usage-log key generator.
func WithLogIDGenerator(newLogID func() string) Option {
	return func(service *Service) {
		service.newLogID = newLogID
	}
}

// Service contains the usage domain logic over a Store.
type Service struct {
	store    kv.Store
	nowFn    func() time.Time
	newLogID func() string
}

// NewService wires a Service.
func NewService(store kv.Store, now func() time.Time, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newLogID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the current cycle balance without consuming anything.
func (service *Service) Balance(ctx context.Context, userID string) (BalanceView, error) {
	trimmed, account, err := service.readAccount(ctx, userID)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		UserID:     trimmed,
		Cycles:     account.Cycles,
		Active:     account.Active,
		LastUsedAt: account.LastUsedAt,
	}, nil
}

// Consume burns one cycle and appends an audit log entry in the same atomic
// write. The decrement is read-modify-write without a compare-and-swap;
// concurrent consumers can interleave, so the balance is a soft quota rather
// than a hard one.
func (service *Service) Consume(ctx context.Context, userID string) (Receipt, error) {
	trimmed, account, err := service.readAccount(ctx, userID)
	if err != nil {
		return Receipt{}, err
	}
	if account.Cycles <= 0 {
		return Receipt{}, fmt.Errorf("%w: user %s has no cycles left", ErrInsufficientCycles, trimmed)
	}

	now := service.nowFn().UTC()
	before := account.Cycles
	account.Cycles--
	account.LastUsedAt = &now

	logID := service.newLogID()
	entry := LogEntry{
		UserID:       trimmed,
		CyclesBefore: before,
		CyclesAfter:  account.Cycles,
		Timestamp:    now,
	}
	updates := map[string]any{
		provision.AccountPath(trimmed): account,
		usageLogPathPrefix + logID:     entry,
	}
	if err := service.store.AtomicUpdate(ctx, updates); err != nil {
		return Receipt{}, fmt.Errorf("%w: consume write: %v", ErrStoreUnavailable, err)
	}
	return Receipt{UserID: trimmed, Remaining: account.Cycles, LogID: logID}, nil
}

func (service *Service) readAccount(ctx context.Context, userID string) (string, provision.Account, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", provision.Account{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	var account provision.Account
	err := service.store.Read(ctx, provision.AccountPath(trimmed), &account)
	if errors.Is(err, kv.ErrPathNotFound) {
		return "", provision.Account{}, fmt.Errorf("%w: %s", ErrUnknownUser, trimmed)
	}
	if err != nil {
		return "", provision.Account{}, fmt.Errorf("%w: account read: %v", ErrStoreUnavailable, err)
	}
	return trimmed, account, nil
}
