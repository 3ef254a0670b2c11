package billing

import (
	"context"

	"github.com/sourcegraph/conc/iter"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/pkg/logger"
)

// RetryOutcome is the per-item result of a retry batch.
type RetryOutcome struct {
	ID            id.ID  `json:"id"`
	OK            bool   `json:"ok"`
	ControlNumber string `json:"controlNumber,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RetryCoordinator replays dead-lettered provider calls.
//
// Failures of different documents run concurrently. Failures of the same
// document run one after another, so at most one control number request per
// document is in flight.
type RetryCoordinator struct {
	p           *Pipeline
	concurrency int
}

// NewRetryCoordinator creates a coordinator. concurrency <= 0 means GOMAXPROCS.
func NewRetryCoordinator(p *Pipeline, concurrency int) *RetryCoordinator {
	return &RetryCoordinator{p: p, concurrency: concurrency}
}

// ListFailures returns the dead-letter rows of a tenant, oldest first.
func (c *RetryCoordinator) ListFailures(ctx context.Context, tenantID string) ([]*Failure, error) {
	return c.p.d.Failures.List(ctx, tenantID)
}

// Delete drops a dead-letter row without retrying it.
func (c *RetryCoordinator) Delete(ctx context.Context, tenantID string, failureID id.ID) error {
	f, err := c.p.d.Failures.Get(ctx, tenantID, failureID)
	if err != nil {
		return err
	}
	if err := c.p.d.Failures.Delete(ctx, tenantID, failureID); err != nil {
		return err
	}
	logger.Info(ctx, "dead-letter row discarded",
		"failure_id", failureID,
		"document_id", f.DocumentID,
		"attempts", f.Attempts,
	)
	return nil
}

type retryJob struct {
	idx     int
	failure *Failure
}

// RetryMany retries the given rows and reports one outcome per requested ID,
// in request order. A failed item never aborts the batch. A repeated ID is
// replayed once and every occurrence reports that outcome.
func (c *RetryCoordinator) RetryMany(ctx context.Context, tenantID string, failureIDs []id.ID) ([]RetryOutcome, error) {
	if len(failureIDs) == 0 {
		return nil, apperror.NewValidation("no failure ids given")
	}

	outcomes := make([]RetryOutcome, len(failureIDs))
	var groups [][]retryJob
	byDocument := make(map[id.ID]int)
	first := make(map[id.ID]int, len(failureIDs))
	duplicates := make(map[int]int)

	for i, fid := range failureIDs {
		if j, seen := first[fid]; seen {
			duplicates[i] = j
			continue
		}
		first[fid] = i

		f, err := c.p.d.Failures.Get(ctx, tenantID, fid)
		if err != nil {
			outcomes[i] = RetryOutcome{ID: fid, Error: errorMessage(err)}
			continue
		}
		g, ok := byDocument[f.DocumentID]
		if !ok {
			g = len(groups)
			byDocument[f.DocumentID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], retryJob{idx: i, failure: f})
	}

	mapper := iter.Mapper[[]retryJob, []RetryOutcome]{MaxGoroutines: c.concurrency}
	results := mapper.Map(groups, func(group *[]retryJob) []RetryOutcome {
		out := make([]RetryOutcome, len(*group))
		for j, job := range *group {
			out[j] = c.retryOne(ctx, tenantID, job.failure)
		}
		return out
	})

	for gi, group := range groups {
		for j, job := range group {
			outcomes[job.idx] = results[gi][j]
		}
	}
	for i, j := range duplicates {
		outcomes[i] = outcomes[j]
	}
	return outcomes, nil
}

// RetryPending retries up to limit rows that have not yet reached maxAttempts.
func (c *RetryCoordinator) RetryPending(ctx context.Context, tenantID string, maxAttempts, limit int) ([]RetryOutcome, error) {
	failures, err := c.p.d.Failures.ListRetryable(ctx, tenantID, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	if len(failures) == 0 {
		return nil, nil
	}
	ids := make([]id.ID, len(failures))
	for i, f := range failures {
		ids[i] = f.ID
	}
	return c.RetryMany(ctx, tenantID, ids)
}

// Tenants lists tenants with pending dead-letter rows.
func (c *RetryCoordinator) Tenants(ctx context.Context) ([]string, error) {
	return c.p.d.Failures.TenantsWithFailures(ctx)
}

func (c *RetryCoordinator) retryOne(ctx context.Context, tenantID string, f *Failure) RetryOutcome {
	release, err := c.p.lockDocument(ctx, tenantID, f.DocumentID)
	if err != nil {
		// Someone else is issuing this document right now. Not an attempt.
		return RetryOutcome{ID: f.ID, Error: errorMessage(err)}
	}
	defer release()

	doc, err := c.p.d.Documents.GetByID(ctx, tenantID, f.DocumentID)
	if err != nil {
		return c.fail(ctx, f, err)
	}
	if !doc.Status.CanIssue() {
		// Issued by a later direct call; the row is stale.
		return c.succeed(ctx, f, doc)
	}
	if !f.Request.Describes(doc) {
		// Replaying would certify content that differs from the document.
		return c.fail(ctx, f, apperror.NewConflict("document changed after the failed submission").
			WithDetail("document_id", doc.ID.String()))
	}

	res, provider, err := c.p.requestControl(ctx, f.Request)
	if err != nil {
		return c.fail(ctx, f, apperror.NewProviderError(provider, err))
	}
	issued, err := c.p.complete(ctx, doc, f.Request, *res)
	if err != nil {
		return c.fail(ctx, f, err)
	}
	return c.succeed(ctx, f, issued)
}

func (c *RetryCoordinator) succeed(ctx context.Context, f *Failure, doc *Document) RetryOutcome {
	if err := c.p.d.Failures.Delete(ctx, f.TenantID, f.ID); err != nil {
		// Harmless: the next retry sees the document issued and drops the row.
		logger.Warn(ctx, "failed to delete retried dead-letter row", "failure_id", f.ID, "error", err)
	}
	c.p.appendAudit(ctx, f.TenantID, f.DocumentID, AuditRetrySuccess, map[string]any{
		"failureId":     f.ID.String(),
		"controlNumber": doc.ControlNumber,
		"attempts":      f.Attempts,
	})
	logger.Info(ctx, "dead-letter retry succeeded",
		"failure_id", f.ID,
		"document_id", f.DocumentID,
		"control_number", doc.ControlNumber,
	)
	return RetryOutcome{ID: f.ID, OK: true, ControlNumber: doc.ControlNumber}
}

func (c *RetryCoordinator) fail(ctx context.Context, f *Failure, cause error) RetryOutcome {
	msg := errorMessage(cause)
	attempts, err := c.p.d.Failures.MarkFailed(context.WithoutCancel(ctx), f.TenantID, f.ID, msg)
	if err != nil {
		logger.Error(ctx, "failed to update dead-letter row", "failure_id", f.ID, "error", err)
		attempts = f.Attempts + 1
	}
	c.p.appendAudit(ctx, f.TenantID, f.DocumentID, AuditRetryFailed, map[string]any{
		"failureId": f.ID.String(),
		"attempts":  attempts,
		"error":     msg,
	})
	logger.Warn(ctx, "dead-letter retry failed",
		"failure_id", f.ID,
		"document_id", f.DocumentID,
		"attempts", attempts,
		"error", msg,
	)
	return RetryOutcome{ID: f.ID, Error: msg}
}

func errorMessage(err error) string {
	if appErr, ok := apperror.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
