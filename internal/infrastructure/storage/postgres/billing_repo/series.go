package billing_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/internal/core/numerator"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/storage/postgres"
)

const seriesTable = "billing_series"

var seriesColumns = []string{
	"id", "tenant_id", "name", "type", "prefix", "current_number",
	"range_start", "range_end", "status", "is_default", "created_at", "updated_at",
}

// SeriesRepo implements billing.SeriesRepository and numerator.CounterStore.
type SeriesRepo struct {
	base
}

// NewSeriesRepo creates the series repository.
func NewSeriesRepo(txManager *postgres.TxManager) *SeriesRepo {
	return &SeriesRepo{base{txManager: txManager}}
}

func (r *SeriesRepo) selectSeries(tenantID string) squirrel.SelectBuilder {
	return builder().
		Select(seriesColumns...).
		From(seriesTable).
		Where(squirrel.Eq{"tenant_id": tenantID})
}

// Create inserts a series. A new default series demotes the previous default
// of the same type.
func (r *SeriesRepo) Create(ctx context.Context, seq *numerator.Sequence) error {
	insert, args, err := builder().
		Insert(seriesTable).
		SetMap(map[string]any{
			"id":             seq.ID,
			"tenant_id":      seq.TenantID,
			"name":           seq.Name,
			"type":           seq.Type,
			"prefix":         seq.Prefix,
			"current_number": seq.CurrentNumber,
			"range_start":    seq.RangeStart,
			"range_end":      seq.RangeEnd,
			"status":         string(seq.Status),
			"is_default":     seq.IsDefault,
			"created_at":     seq.CreatedAt,
			"updated_at":     seq.UpdatedAt,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.querier(ctx)
		if seq.IsDefault {
			if _, err := q.Exec(ctx, `
				UPDATE billing_series SET is_default = false, updated_at = NOW()
				WHERE tenant_id = $1 AND type = $2 AND is_default
			`, seq.TenantID, seq.Type); err != nil {
				return fmt.Errorf("demote default series: %w", err)
			}
		}
		if _, err := q.Exec(ctx, insert, args...); err != nil {
			if isUniqueViolation(err) {
				return apperror.NewConflict("series name already exists").WithDetail("name", seq.Name)
			}
			return fmt.Errorf("insert %s: %w", seriesTable, err)
		}
		return nil
	})
}

func (r *SeriesRepo) getOne(ctx context.Context, q squirrel.SelectBuilder) (*numerator.Sequence, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var seq numerator.Sequence
	if err := pgxscan.Get(ctx, r.querier(ctx), &seq, sql, args...); err != nil {
		return nil, err
	}
	return &seq, nil
}

// GetByID retrieves a series.
func (r *SeriesRepo) GetByID(ctx context.Context, tenantID string, seriesID id.ID) (*numerator.Sequence, error) {
	seq, err := r.getOne(ctx, r.selectSeries(tenantID).Where(squirrel.Eq{"id": seriesID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("series", seriesID.String())
		}
		return nil, fmt.Errorf("get series: %w", err)
	}
	return seq, nil
}

func defaultSeriesQuery(tenantID, docType string) squirrel.SelectBuilder {
	return builder().
		Select(seriesColumns...).
		From(seriesTable).
		Where(squirrel.Eq{
			"tenant_id": tenantID,
			"type":      docType,
			"status":    string(numerator.StatusActive),
		}).
		OrderBy("is_default DESC", "created_at").
		Limit(1)
}

// FindDefault returns the default active series of a type, falling back to
// the oldest active one.
func (r *SeriesRepo) FindDefault(ctx context.Context, tenantID, docType string) (*numerator.Sequence, error) {
	seq, err := r.getOne(ctx, defaultSeriesQuery(tenantID, docType))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("active series for type", docType)
		}
		return nil, fmt.Errorf("find default series: %w", err)
	}
	return seq, nil
}

// List returns all series of a tenant.
func (r *SeriesRepo) List(ctx context.Context, tenantID string) ([]*numerator.Sequence, error) {
	sql, args, err := r.selectSeries(tenantID).OrderBy("type", "name").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []*numerator.Sequence
	if err := pgxscan.Select(ctx, r.querier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return out, nil
}

// SetStatus updates the status of a series.
func (r *SeriesRepo) SetStatus(ctx context.Context, tenantID string, seriesID id.ID, status numerator.Status) error {
	sql, args, err := builder().
		Update(seriesTable).
		Set("status", string(status)).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"tenant_id": tenantID, "id": seriesID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update series status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("series", seriesID.String())
	}
	return nil
}

func incrementQuery(tenantID string, seriesID id.ID, limit int64) squirrel.UpdateBuilder {
	return builder().
		Update(seriesTable).
		Set("current_number", squirrel.Expr("current_number + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{
			"tenant_id": tenantID,
			"id":        seriesID,
			"status":    string(numerator.StatusActive),
		}).
		Where("current_number < LEAST(?, COALESCE(range_end, ?))", limit, limit).
		Suffix("RETURNING current_number")
}

// Increment implements numerator.CounterStore. The WHERE clause is the whole
// guard: a paused, closed or exhausted series matches no row.
func (r *SeriesRepo) Increment(ctx context.Context, tenantID string, seriesID id.ID, limit int64) (int64, bool, error) {
	sql, args, err := incrementQuery(tenantID, seriesID, limit).ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build increment: %w", err)
	}
	var next int64
	err = r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment series: %w", err)
	}
	return next, true, nil
}

var (
	_ numerator.CounterStore    = (*SeriesRepo)(nil)
	_ billing.SeriesRepository = (*SeriesRepo)(nil)
)
