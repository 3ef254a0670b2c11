package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"fiscalcore/internal/core/tx"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: serializationFailure}))
	assert.True(t, isRetryable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: deadlockDetected})))
	assert.False(t, isRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isRetryable(errors.New("boom")))
}

func TestTxManager_WithoutPoolIsUnavailable(t *testing.T) {
	m := &TxManager{}
	called := false
	err := m.RunInTransaction(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, tx.ErrUnavailable)
	assert.False(t, called)
}
