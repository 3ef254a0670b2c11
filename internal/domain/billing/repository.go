package billing

import (
	"context"

	"fiscalcore/internal/core/id"
	"fiscalcore/internal/core/numerator"
)

// ListFilter narrows document listings. Zero values mean "any".
type ListFilter struct {
	Status Status
	Type   DocumentType
	Limit  int
}

// DocumentRepository persists documents. Every method is tenant-scoped.
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	// GetByID returns a NOT_FOUND apperror when missing.
	GetByID(ctx context.Context, tenantID string, docID id.ID) (*Document, error)
	// FindOpenByOrder returns the latest document of the given type for an
	// order, or nil.
	FindOpenByOrder(ctx context.Context, tenantID, orderID string, docType DocumentType) (*Document, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]*Document, error)
	// UpdateDraft rewrites customer and totals of a draft. false if it is no longer a draft.
	UpdateDraft(ctx context.Context, doc *Document) (bool, error)
	// MarkIssued stores control number, issue date and verification URL and sets
	// status issued, only while the document is still issuable and has no
	// control number. false means someone else issued it first.
	MarkIssued(ctx context.Context, doc *Document) (bool, error)
	// UpdateStatus moves from -> to conditionally. false if the current status is not from.
	UpdateStatus(ctx context.Context, tenantID string, docID id.ID, from, to Status) (bool, error)
}

// SeriesRepository provisions and reads numbering series.
type SeriesRepository interface {
	Create(ctx context.Context, seq *numerator.Sequence) error
	GetByID(ctx context.Context, tenantID string, seriesID id.ID) (*numerator.Sequence, error)
	// FindDefault returns the default active series of a type, else any active
	// series of the type, else a NOT_FOUND apperror.
	FindDefault(ctx context.Context, tenantID, docType string) (*numerator.Sequence, error)
	List(ctx context.Context, tenantID string) ([]*numerator.Sequence, error)
	SetStatus(ctx context.Context, tenantID string, seriesID id.ID, status numerator.Status) error
}

// EvidenceRepository stores evidence. Records are insert-only.
type EvidenceRepository interface {
	Create(ctx context.Context, ev *Evidence) error
	GetByDocument(ctx context.Context, tenantID string, docID id.ID) (*Evidence, error)
}

// AuditLog is the append-only audit trail.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListByDocument(ctx context.Context, tenantID string, docID id.ID) ([]AuditEntry, error)
}

// FailureStore is the dead-letter queue of failed provider calls.
type FailureStore interface {
	Record(ctx context.Context, f *Failure) error
	Get(ctx context.Context, tenantID string, failureID id.ID) (*Failure, error)
	List(ctx context.Context, tenantID string) ([]*Failure, error)
	// ListRetryable returns up to limit rows with attempts < maxAttempts, oldest first.
	ListRetryable(ctx context.Context, tenantID string, maxAttempts, limit int) ([]*Failure, error)
	// CountByDocument returns the number of rows recorded for a document.
	CountByDocument(ctx context.Context, tenantID string, docID id.ID) (int, error)
	// TenantsWithFailures lists tenants that have at least one row.
	TenantsWithFailures(ctx context.Context) ([]string, error)
	// MarkFailed increments attempts and stores lastError; returns the new attempts.
	MarkFailed(ctx context.Context, tenantID string, failureID id.ID, lastError string) (int, error)
	Delete(ctx context.Context, tenantID string, failureID id.ID) error
}

// EvidenceArchiver copies evidence to long-term storage. Best effort.
type EvidenceArchiver interface {
	Archive(ctx context.Context, ev *Evidence) error
}
