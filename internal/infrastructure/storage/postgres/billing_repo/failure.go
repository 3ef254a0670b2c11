package billing_repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/storage/postgres"
)

const failuresTable = "billing_imprenta_failures"

var failureColumns = []string{
	"id", "tenant_id", "document_id", "series_id", "request_payload",
	"last_error", "attempts", "created_at", "updated_at",
}

type failureRow struct {
	ID         id.ID                  `db:"id"`
	TenantID   string                 `db:"tenant_id"`
	DocumentID id.ID                  `db:"document_id"`
	SeriesID   id.ID                  `db:"series_id"`
	Request    billing.ControlRequest `db:"request_payload"`
	LastError  string                 `db:"last_error"`
	Attempts   int                    `db:"attempts"`
	CreatedAt  time.Time              `db:"created_at"`
	UpdatedAt  time.Time              `db:"updated_at"`
}

func (r failureRow) toDomain() *billing.Failure {
	return &billing.Failure{
		ID:         r.ID,
		TenantID:   r.TenantID,
		DocumentID: r.DocumentID,
		SeriesID:   r.SeriesID,
		Request:    r.Request,
		LastError:  r.LastError,
		Attempts:   r.Attempts,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// FailureRepo implements billing.FailureStore.
type FailureRepo struct {
	base
}

// NewFailureRepo creates the dead-letter repository.
func NewFailureRepo(txManager *postgres.TxManager) *FailureRepo {
	return &FailureRepo{base{txManager: txManager}}
}

func (r *FailureRepo) selectFailures(tenantID string) squirrel.SelectBuilder {
	return builder().
		Select(failureColumns...).
		From(failuresTable).
		Where(squirrel.Eq{"tenant_id": tenantID})
}

func (r *FailureRepo) selectMany(ctx context.Context, q squirrel.SelectBuilder) ([]*billing.Failure, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []failureRow
	if err := pgxscan.Select(ctx, r.querier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	out := make([]*billing.Failure, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// Record inserts a dead-letter row.
func (r *FailureRepo) Record(ctx context.Context, f *billing.Failure) error {
	sql, args, err := builder().
		Insert(failuresTable).
		SetMap(map[string]any{
			"id":              f.ID,
			"tenant_id":       f.TenantID,
			"document_id":     f.DocumentID,
			"series_id":       f.SeriesID,
			"request_payload": f.Request,
			"last_error":      f.LastError,
			"attempts":        f.Attempts,
			"created_at":      f.CreatedAt,
			"updated_at":      f.UpdatedAt,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", failuresTable, err)
	}
	return nil
}

// Get returns one row.
func (r *FailureRepo) Get(ctx context.Context, tenantID string, failureID id.ID) (*billing.Failure, error) {
	sql, args, err := r.selectFailures(tenantID).Where(squirrel.Eq{"id": failureID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row failureRow
	if err := pgxscan.Get(ctx, r.querier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("failure", failureID.String())
		}
		return nil, fmt.Errorf("get failure: %w", err)
	}
	return row.toDomain(), nil
}

// List returns all rows of a tenant, oldest first.
func (r *FailureRepo) List(ctx context.Context, tenantID string) ([]*billing.Failure, error) {
	return r.selectMany(ctx, r.selectFailures(tenantID).OrderBy("created_at"))
}

func retryableQuery(tenantID string, maxAttempts, limit int) squirrel.SelectBuilder {
	return builder().
		Select(failureColumns...).
		From(failuresTable).
		Where(squirrel.Eq{"tenant_id": tenantID}).
		Where(squirrel.Lt{"attempts": maxAttempts}).
		OrderBy("created_at").
		Limit(uint64(limit))
}

// ListRetryable returns rows below maxAttempts, oldest first.
func (r *FailureRepo) ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]*billing.Failure, error) {
	return r.selectMany(ctx, retryableQuery(tenantID, maxAttempts, limit))
}

// CountByDocument returns the number of rows for one document.
func (r *FailureRepo) CountByDocument(ctx context.Context, tenantID string, docID id.ID) (int, error) {
	var n int
	err := r.querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM billing_imprenta_failures WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, docID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// TenantsWithFailures lists tenants with at least one row.
func (r *FailureRepo) TenantsWithFailures(ctx context.Context) ([]string, error) {
	var tenants []string
	if err := pgxscan.Select(ctx, r.querier(ctx), &tenants,
		`SELECT DISTINCT tenant_id FROM billing_imprenta_failures ORDER BY tenant_id`); err != nil {
		return nil, fmt.Errorf("list tenants with failures: %w", err)
	}
	return tenants, nil
}

// MarkFailed increments attempts and returns the new count.
func (r *FailureRepo) MarkFailed(ctx context.Context, tenantID string, failureID id.ID, lastError string) (int, error) {
	sql, args, err := builder().
		Update(failuresTable).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("last_error", lastError).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": failureID}).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}
	var attempts int
	err = r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperror.NewNotFound("failure", failureID.String())
	}
	if err != nil {
		return 0, fmt.Errorf("mark failure: %w", err)
	}
	return attempts, nil
}

// Delete removes a row.
func (r *FailureRepo) Delete(ctx context.Context, tenantID string, failureID id.ID) error {
	tag, err := r.querier(ctx).Exec(ctx,
		`DELETE FROM billing_imprenta_failures WHERE tenant_id = $1 AND id = $2`, tenantID, failureID)
	if err != nil {
		return fmt.Errorf("delete failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("failure", failureID.String())
	}
	return nil
}

var _ billing.FailureStore = (*FailureRepo)(nil)
