package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	corelock "fiscalcore/internal/core/lock"
)

// failedDocument creates a draft whose first issuance attempt failed.
func failedDocument(t *testing.T, h *harness) (*Document, *Failure) {
	t.Helper()
	ctx := context.Background()

	doc, err := h.pipeline.Create(ctx, tenant, invoiceInput())
	require.NoError(t, err)

	h.provider.setFailure(errors.New("imprenta unavailable"))
	_, err = h.pipeline.Issue(ctx, tenant, doc.ID)
	require.Error(t, err)
	h.provider.setFailure(nil)

	failures, err := memFailures{h.store}.List(ctx, tenant)
	require.NoError(t, err)
	for _, f := range failures {
		if f.DocumentID == doc.ID {
			return doc, f
		}
	}
	t.Fatalf("no failure recorded for %s", doc.ID)
	return nil, nil
}

func TestRetry_ConvergesToIssued(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 2)
	ctx := context.Background()

	doc, f := failedDocument(t, h)

	outcomes, err := rc.RetryMany(ctx, tenant, []id.ID{f.ID})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	assert.NotEmpty(t, outcomes[0].ControlNumber)

	stored, err := h.pipeline.Get(ctx, tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, stored.Status)
	assert.Equal(t, outcomes[0].ControlNumber, stored.ControlNumber)

	assert.Empty(t, h.store.failures)
	assert.Len(t, h.store.events, 1)
	assert.Contains(t, h.auditEvents(doc.ID), AuditRetrySuccess)
}

func TestRetry_FailureIncrementsAttempts(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 2)
	ctx := context.Background()

	doc, f := failedDocument(t, h)
	h.provider.setFailure(errors.New("still down"))

	for want := 2; want <= 3; want++ {
		outcomes, err := rc.RetryMany(ctx, tenant, []id.ID{f.ID})
		require.NoError(t, err)
		assert.False(t, outcomes[0].OK)
		assert.NotEmpty(t, outcomes[0].Error)

		row, err := memFailures{h.store}.Get(ctx, tenant, f.ID)
		require.NoError(t, err)
		assert.Equal(t, want, row.Attempts)
	}

	stored, err := h.pipeline.Get(ctx, tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Contains(t, h.auditEvents(doc.ID), AuditRetryFailed)
}

func TestRetry_PartialBatch(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 4)
	ctx := context.Background()

	_, first := failedDocument(t, h)
	_, second := failedDocument(t, h)
	unknown := id.New()

	outcomes, err := rc.RetryMany(ctx, tenant, []id.ID{first.ID, unknown, second.ID})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, first.ID, outcomes[0].ID)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, unknown, outcomes[1].ID)
	assert.False(t, outcomes[1].OK)
	assert.NotEmpty(t, outcomes[1].Error)
	assert.Equal(t, second.ID, outcomes[2].ID)
	assert.True(t, outcomes[2].OK)
	assert.NotEqual(t, outcomes[0].ControlNumber, outcomes[2].ControlNumber)
}

func TestRetry_EmptyBatch(t *testing.T) {
	h := newHarness(t, nil)
	_, err := NewRetryCoordinator(h.pipeline, 1).RetryMany(context.Background(), tenant, nil)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestRetry_StaleRowForIssuedDocument(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 1)
	ctx := context.Background()

	doc, f := failedDocument(t, h)
	issued, err := h.pipeline.Issue(ctx, tenant, doc.ID)
	require.NoError(t, err)
	calls := h.provider.callCount()

	outcomes, err := rc.RetryMany(ctx, tenant, []id.ID{f.ID})
	require.NoError(t, err)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, issued.ControlNumber, outcomes[0].ControlNumber)
	assert.Equal(t, calls, h.provider.callCount(), "an issued document is never resubmitted")
	assert.Empty(t, h.store.failures)
}

func TestRetry_LockBusyIsNotAnAttempt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, f := failedDocument(t, h)

	h.pipeline.d.Locker = &corelock.MockLocker{
		AcquireFunc: func(_ context.Context, key corelock.Key, opts corelock.Options) (*corelock.Lease, error) {
			return nil, apperror.NewLockUnavailable(key.TenantID, key.Resource, opts.MaxAttempts)
		},
	}
	outcomes, err := NewRetryCoordinator(h.pipeline, 1).RetryMany(ctx, tenant, []id.ID{f.ID})
	require.NoError(t, err)
	assert.False(t, outcomes[0].OK)

	row, err := memFailures{h.store}.Get(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, row.Attempts)
}

func TestRetry_RetryPendingRespectsMaxAttempts(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 2)
	ctx := context.Background()

	_, exhausted := failedDocument(t, h)
	_, pending := failedDocument(t, h)
	h.store.failures[exhausted.ID].Attempts = 5

	outcomes, err := rc.RetryPending(ctx, tenant, 5, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, pending.ID, outcomes[0].ID)
	assert.True(t, outcomes[0].OK)

	tenants, err := rc.Tenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{tenant}, tenants)
}

func TestRetry_Delete(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 1)
	ctx := context.Background()
	_, f := failedDocument(t, h)

	require.NoError(t, rc.Delete(ctx, tenant, f.ID))
	rows, err := rc.ListFailures(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.True(t, apperror.IsNotFound(rc.Delete(ctx, tenant, f.ID)))
}

func TestRetry_DocumentChangedSinceFailureIsNotReplayed(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 1)
	ctx := context.Background()

	doc, f := failedDocument(t, h)
	h.store.mu.Lock()
	h.store.docs[doc.ID].Totals.GrandTotal = decimal.NewFromInt(999)
	h.store.mu.Unlock()
	calls := h.provider.callCount()

	outcomes, err := rc.RetryMany(ctx, tenant, []id.ID{f.ID})
	require.NoError(t, err)
	assert.False(t, outcomes[0].OK)
	assert.NotEmpty(t, outcomes[0].Error)
	assert.Equal(t, calls, h.provider.callCount())
	assert.Empty(t, h.store.evidence)

	row, err := memFailures{h.store}.Get(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, row.Attempts)
}

func TestRetry_RepeatedIDReplayedOnce(t *testing.T) {
	h := newHarness(t, nil)
	rc := NewRetryCoordinator(h.pipeline, 2)
	ctx := context.Background()

	doc, f := failedDocument(t, h)
	calls := h.provider.callCount()

	outcomes, err := rc.RetryMany(ctx, tenant, []id.ID{f.ID, f.ID})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].OK)
	assert.Equal(t, outcomes[0], outcomes[1])
	assert.Equal(t, calls+1, h.provider.callCount())

	successes := 0
	for _, e := range h.auditEvents(doc.ID) {
		if e == AuditRetrySuccess {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}
