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

const documentsTable = "billing_documents"

var documentColumns = []string{
	"id", "tenant_id", "type", "series_id", "document_number", "control_number",
	"status", "issue_date", "customer", "totals", "original_document_id",
	"order_id", "verification_url", "created_at", "updated_at",
}

type documentRow struct {
	ID                 id.ID            `db:"id"`
	TenantID           string           `db:"tenant_id"`
	Type               string           `db:"type"`
	SeriesID           id.ID            `db:"series_id"`
	DocumentNumber     string           `db:"document_number"`
	ControlNumber      *string          `db:"control_number"`
	Status             string           `db:"status"`
	IssueDate          *time.Time       `db:"issue_date"`
	Customer           billing.Customer `db:"customer"`
	Totals             billing.Totals   `db:"totals"`
	OriginalDocumentID *id.ID           `db:"original_document_id"`
	OrderID            *string          `db:"order_id"`
	VerificationURL    *string          `db:"verification_url"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
}

func toDocumentRow(d *billing.Document) documentRow {
	return documentRow{
		ID:                 d.ID,
		TenantID:           d.TenantID,
		Type:               string(d.Type),
		SeriesID:           d.SeriesID,
		DocumentNumber:     d.DocumentNumber,
		ControlNumber:      nullString(d.ControlNumber),
		Status:             string(d.Status),
		IssueDate:          d.IssueDate,
		Customer:           d.Customer,
		Totals:             d.Totals,
		OriginalDocumentID: d.OriginalDocumentID,
		OrderID:            nullString(d.OrderID),
		VerificationURL:    nullString(d.VerificationURL),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func (r documentRow) toDomain() *billing.Document {
	return &billing.Document{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Type:               billing.DocumentType(r.Type),
		SeriesID:           r.SeriesID,
		DocumentNumber:     r.DocumentNumber,
		ControlNumber:      deref(r.ControlNumber),
		Status:             billing.Status(r.Status),
		IssueDate:          r.IssueDate,
		Customer:           r.Customer,
		Totals:             r.Totals,
		OriginalDocumentID: r.OriginalDocumentID,
		OrderID:            deref(r.OrderID),
		VerificationURL:    deref(r.VerificationURL),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (r documentRow) values() map[string]any {
	return map[string]any{
		"id":                   r.ID,
		"tenant_id":            r.TenantID,
		"type":                 r.Type,
		"series_id":            r.SeriesID,
		"document_number":      r.DocumentNumber,
		"control_number":       r.ControlNumber,
		"status":               r.Status,
		"issue_date":           r.IssueDate,
		"customer":             r.Customer,
		"totals":               r.Totals,
		"original_document_id": r.OriginalDocumentID,
		"order_id":             r.OrderID,
		"verification_url":     r.VerificationURL,
		"created_at":           r.CreatedAt,
		"updated_at":           r.UpdatedAt,
	}
}

// DocumentRepo implements billing.DocumentRepository.
type DocumentRepo struct {
	base
}

// NewDocumentRepo creates the document repository.
func NewDocumentRepo(txManager *postgres.TxManager) *DocumentRepo {
	return &DocumentRepo{base{txManager: txManager}}
}

func (r *DocumentRepo) selectDocuments(tenantID string) squirrel.SelectBuilder {
	return builder().
		Select(documentColumns...).
		From(documentsTable).
		Where(squirrel.Eq{"tenant_id": tenantID})
}

func (r *DocumentRepo) getOne(ctx context.Context, q squirrel.SelectBuilder) (*billing.Document, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row documentRow
	if err := pgxscan.Get(ctx, r.querier(ctx), &row, sql, args...); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Create inserts a document.
func (r *DocumentRepo) Create(ctx context.Context, doc *billing.Document) error {
	sql, args, err := builder().
		Insert(documentsTable).
		SetMap(toDocumentRow(doc).values()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperror.NewConflict("document number already used in series").
				WithDetail("series_id", doc.SeriesID.String()).
				WithDetail("document_number", doc.DocumentNumber)
		}
		return fmt.Errorf("insert %s: %w", documentsTable, err)
	}
	return nil
}

// GetByID retrieves a document by ID.
func (r *DocumentRepo) GetByID(ctx context.Context, tenantID string, docID id.ID) (*billing.Document, error) {
	doc, err := r.getOne(ctx, r.selectDocuments(tenantID).Where(squirrel.Eq{"id": docID}))
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("document", docID.String())
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// FindOpenByOrder returns the latest document of the type for an order, or nil.
func (r *DocumentRepo) FindOpenByOrder(ctx context.Context, tenantID, orderID string, docType billing.DocumentType) (*billing.Document, error) {
	q := r.selectDocuments(tenantID).
		Where(squirrel.Eq{"order_id": orderID, "type": string(docType)}).
		OrderBy("created_at DESC").
		Limit(1)
	doc, err := r.getOne(ctx, q)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find document by order: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepo) listQuery(tenantID string, filter billing.ListFilter) squirrel.SelectBuilder {
	q := r.selectDocuments(tenantID)
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.Type != "" {
		q = q.Where(squirrel.Eq{"type": string(filter.Type)})
	}
	q = q.OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q
}

// List returns documents newest first.
func (r *DocumentRepo) List(ctx context.Context, tenantID string, filter billing.ListFilter) ([]*billing.Document, error) {
	sql, args, err := r.listQuery(tenantID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []documentRow
	if err := pgxscan.Select(ctx, r.querier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]*billing.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].toDomain()
	}
	return docs, nil
}

func (r *DocumentRepo) exec(ctx context.Context, q squirrel.UpdateBuilder) (bool, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update %s: %w", documentsTable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDraft rewrites customer and totals while the document is a draft.
func (r *DocumentRepo) UpdateDraft(ctx context.Context, doc *billing.Document) (bool, error) {
	return r.exec(ctx, builder().
		Update(documentsTable).
		Set("customer", doc.Customer).
		Set("totals", doc.Totals).
		Set("updated_at", doc.UpdatedAt).
		Where(squirrel.Eq{
			"tenant_id": doc.TenantID,
			"id":        doc.ID,
			"status":    string(billing.StatusDraft),
		}))
}

func markIssuedQuery(doc *billing.Document) squirrel.UpdateBuilder {
	issuable := make([]string, 0, 2)
	for _, s := range billing.IssuableStatuses() {
		issuable = append(issuable, string(s))
	}
	return builder().
		Update(documentsTable).
		Set("control_number", nullString(doc.ControlNumber)).
		Set("status", string(billing.StatusIssued)).
		Set("issue_date", doc.IssueDate).
		Set("verification_url", nullString(doc.VerificationURL)).
		Set("updated_at", doc.UpdatedAt).
		Where(squirrel.Eq{
			"tenant_id": doc.TenantID,
			"id":        doc.ID,
			"status":    issuable,
		}).
		Where("control_number IS NULL")
}

// MarkIssued stores the control number. The predicate makes a second
// assignment impossible even without a lock.
func (r *DocumentRepo) MarkIssued(ctx context.Context, doc *billing.Document) (bool, error) {
	return r.exec(ctx, markIssuedQuery(doc))
}

// UpdateStatus moves from -> to.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, tenantID string, docID id.ID, from, to billing.Status) (bool, error) {
	return r.exec(ctx, builder().
		Update(documentsTable).
		Set("status", string(to)).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{
			"tenant_id": tenantID,
			"id":        docID,
			"status":    string(from),
		}))
}

var _ billing.DocumentRepository = (*DocumentRepo)(nil)
