// Package numerator provides domain contracts for document auto-numbering.
// Implementations live in infrastructure layer.
package numerator

import (
	"context"

	"fiscalcore/internal/core/id"
)

// Generator hands out the next formatted number of a series.
//
// Numbering is not idempotent: every successful call consumes a number, and a
// caller retrying after a timeout receives a new one.
type Generator interface {
	// NextNumber fails with LOCK_UNAVAILABLE when the series could not be locked
	// and SEQUENCE_EXHAUSTED when it is not active or its range is used up.
	NextNumber(ctx context.Context, seq *Sequence, tenantID string) (string, error)
}

// CounterStore performs the guarded increment of a series counter.
type CounterStore interface {
	// Increment adds 1 to current_number only when the series is active and
	// current_number < limit. ok=false means no row matched the predicate.
	Increment(ctx context.Context, tenantID string, seriesID id.ID, limit int64) (next int64, ok bool, err error)
}
