package billing_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/internal/infrastructure/storage/postgres"
)

const evidenceTable = "billing_evidence"

type evidenceRow struct {
	ID              id.ID                  `db:"id"`
	TenantID        string                 `db:"tenant_id"`
	DocumentID      id.ID                  `db:"document_id"`
	Hash            string                 `db:"hash"`
	ProviderHash    *string                `db:"provider_hash"`
	Provider        string                 `db:"provider"`
	ControlNumber   string                 `db:"control_number"`
	AssignedAt      time.Time              `db:"assigned_at"`
	Metadata        map[string]any         `db:"metadata"`
	VerificationURL *string                `db:"verification_url"`
	TotalsSnapshot  billing.TotalsSnapshot `db:"totals_snapshot"`
	Request         billing.ControlRequest `db:"request"`
	Response        billing.ControlResult  `db:"response"`
	CreatedAt       time.Time              `db:"created_at"`
}

// EvidenceRepo implements billing.EvidenceRepository. Rows are insert-only.
type EvidenceRepo struct {
	base
}

// NewEvidenceRepo creates the evidence repository.
func NewEvidenceRepo(txManager *postgres.TxManager) *EvidenceRepo {
	return &EvidenceRepo{base{txManager: txManager}}
}

// Create inserts evidence. A second row for the same document is a conflict.
func (r *EvidenceRepo) Create(ctx context.Context, ev *billing.Evidence) error {
	sql, args, err := builder().
		Insert(evidenceTable).
		SetMap(map[string]any{
			"id":               ev.ID,
			"tenant_id":        ev.TenantID,
			"document_id":      ev.DocumentID,
			"hash":             ev.Hash,
			"provider_hash":    nullString(ev.ProviderHash),
			"provider":         ev.Provider,
			"control_number":   ev.ControlNumber,
			"assigned_at":      ev.AssignedAt,
			"metadata":         ev.Metadata,
			"verification_url": nullString(ev.VerificationURL),
			"totals_snapshot":  ev.TotalsSnapshot,
			"request":          ev.Request,
			"response":         ev.Response,
			"created_at":       ev.CreatedAt,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewConflict("evidence already recorded").WithDetail("document_id", ev.DocumentID.String())
		}
		return fmt.Errorf("insert %s: %w", evidenceTable, err)
	}
	return nil
}

// GetByDocument returns the evidence of a document.
func (r *EvidenceRepo) GetByDocument(ctx context.Context, tenantID string, docID id.ID) (*billing.Evidence, error) {
	sql, args, err := builder().
		Select("id", "tenant_id", "document_id", "hash", "provider_hash", "provider",
			"control_number", "assigned_at", "metadata", "verification_url",
			"totals_snapshot", "request", "response", "created_at").
		From(evidenceTable).
		Where(squirrel.Eq{"tenant_id": tenantID, "document_id": docID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row evidenceRow
	if err := pgxscan.Get(ctx, r.querier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("evidence", docID.String())
		}
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	return &billing.Evidence{
		ID:              row.ID,
		TenantID:        row.TenantID,
		DocumentID:      row.DocumentID,
		Hash:            row.Hash,
		ProviderHash:    deref(row.ProviderHash),
		Provider:        row.Provider,
		ControlNumber:   row.ControlNumber,
		AssignedAt:      row.AssignedAt,
		Metadata:        row.Metadata,
		VerificationURL: deref(row.VerificationURL),
		TotalsSnapshot:  row.TotalsSnapshot,
		Request:         row.Request,
		Response:        row.Response,
		CreatedAt:       row.CreatedAt,
	}, nil
}

var _ billing.EvidenceRepository = (*EvidenceRepo)(nil)
