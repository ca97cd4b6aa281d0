package provision

import (
	"context"
	"fmt"
)

// ExistsFunc reports whether a candidate identifier is already taken.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// Allocator finds a free account identifier by probing generated candidates
// against the store.
type Allocator struct {
	generate    func() string
	maxAttempts int
}

// NewAllocator wires an Allocator around a candidate generator.
func NewAllocator(generate func() string, maxAttempts int) (*Allocator, error) {
	if generate == nil {
		return nil, fmt.Errorf("%w: generator dependency is nil", ErrInvalidServiceConfig)
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be positive", ErrInvalidServiceConfig)
	}
	return &Allocator{generate: generate, maxAttempts: maxAttempts}, nil
}

// Allocate returns the first generated candidate the store does not know yet.
// The identifier space is large enough that collisions are practically
// impossible; the bounded loop turns the residual risk into
// ErrAllocationExhausted instead of handing out a colliding identifier.
// A failed probe aborts immediately: an unknown answer must never be treated
// as "free".
func (allocator *Allocator) Allocate(ctx context.Context, exists ExistsFunc) (string, error) {
	if exists == nil {
		return "", fmt.Errorf("%w: exists predicate is nil", ErrInvalidServiceConfig)
	}
	for attempt := 0; attempt < allocator.maxAttempts; attempt++ {
		candidate := allocator.generate()
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("%w: identifier probe: %v", ErrStoreUnavailable, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free identifier within %d attempts", ErrAllocationExhausted, allocator.maxAttempts)
}

// MaxAttempts returns the configured attempt budget.
func (allocator *Allocator) MaxAttempts() int {
	return allocator.maxAttempts
}
