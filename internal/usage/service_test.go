package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diamondstd/cycles/internal/store/memkv"
	"github.com/diamondstd/cycles/pkg/kv"
	"github.com/diamondstd/cycles/pkg/provision"
)

func seedAccount(test *testing.T, store *memkv.Store, userID string, cycles int64) {
	test.Helper()
	account := provision.Account{
		Active:    true,
		Cycles:    cycles,
		Email:     "a@b.com",
		Origin:    "hotmart",
		CreatedAt: time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := store.AtomicUpdate(context.Background(), map[string]any{provision.AccountPath(userID): account}); err != nil {
		test.Fatalf("seed account: %v", err)
	}
}

func mustNewService(test *testing.T, store kv.Store, options ...Option) *Service {
	test.Helper()
	now := func() time.Time { return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC) }
	service, err := NewService(store, now, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func TestBalanceReturnsAccountView(test *testing.T) {
	test.Parallel()
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 42)
	service := mustNewService(test, store)

	view, err := service.Balance(context.Background(), "diam-aaaa-bbbb-cccc")
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if view.Cycles != 42 || !view.Active {
		test.Fatalf("unexpected view: %+v", view)
	}
	if view.LastUsedAt != nil {
		test.Fatalf("expected never-used account, got %v", view.LastUsedAt)
	}
}

func TestBalanceUnknownUser(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, memkv.New())
	if _, err := service.Balance(context.Background(), "diam-0000-0000-0000"); !errors.Is(err, ErrUnknownUser) {
		test.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestBalanceRejectsEmptyUserID(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, memkv.New())
	if _, err := service.Balance(context.Background(), "  "); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestConsumeDecrementsAndLogs(test *testing.T) {
	test.Parallel()
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 5)
	service := mustNewService(test, store, WithLogIDGenerator(func() string { return "log-1" }))

	receipt, err := service.Consume(context.Background(), "diam-aaaa-bbbb-cccc")
	if err != nil {
		test.Fatalf("consume: %v", err)
	}
	if receipt.Remaining != 4 || receipt.LogID != "log-1" {
		test.Fatalf("unexpected receipt: %+v", receipt)
	}

	var account provision.Account
	if err := store.Read(context.Background(), provision.AccountPath("diam-aaaa-bbbb-cccc"), &account); err != nil {
		test.Fatalf("read account: %v", err)
	}
	if account.Cycles != 4 {
		test.Fatalf("expected 4 cycles left, got %d", account.Cycles)
	}
	if account.LastUsedAt == nil {
		test.Fatalf("expected lastUsedAt to be stamped")
	}

	var entry LogEntry
	if err := store.Read(context.Background(), "logs/log-1", &entry); err != nil {
		test.Fatalf("read log entry: %v", err)
	}
	if entry.CyclesBefore != 5 || entry.CyclesAfter != 4 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
}

func TestConsumeRefusesEmptyBalance(test *testing.T) {
	test.Parallel()
	store := memkv.New()
	seedAccount(test, store, "diam-aaaa-bbbb-cccc", 0)
	service := mustNewService(test, store)

	_, err := service.Consume(context.Background(), "diam-aaaa-bbbb-cccc")
	if !errors.Is(err, ErrInsufficientCycles) {
		test.Fatalf("expected ErrInsufficientCycles, got %v", err)
	}

	var account provision.Account
	if err := store.Read(context.Background(), provision.AccountPath("diam-aaaa-bbbb-cccc"), &account); err != nil {
		test.Fatalf("read account: %v", err)
	}
	if account.Cycles != 0 || account.LastUsedAt != nil {
		test.Fatalf("refused consume must not mutate the account: %+v", account)
	}
}

func TestConsumeUnknownUser(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, memkv.New())
	if _, err := service.Consume(context.Background(), "diam-0000-0000-0000"); !errors.Is(err, ErrUnknownUser) {
		test.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}
