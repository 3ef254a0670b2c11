// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces, not on a database driver.
package tx

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by a Manager that cannot open a multi-statement
// transaction (for example a read replica or a degraded connection mode).
// Callers that have a single-statement fallback should use it.
var ErrUnavailable = errors.New("transactions are not available")

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Nop runs fn directly without a transaction. Used by tests and by
// components that were configured without a database.
type Nop struct{}

// RunInTransaction implements Manager.
func (Nop) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ Manager = Nop{}
