package billing

import (
	"context"
	"time"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/pkg/logger"
)

// StatusView is the status projection polled by clients.
type StatusView struct {
	DocumentID      id.ID      `json:"documentId"`
	Status          Status     `json:"status"`
	ControlNumber   string     `json:"controlNumber,omitempty"`
	VerificationURL string     `json:"verificationUrl,omitempty"`
	IssuedAt        *time.Time `json:"issuedAt,omitempty"`

	// Provider is the fiscal provider's record of the control number. It is
	// only filled by ProviderStatus.
	Provider *ControlStatus `json:"provider,omitempty"`
}

// Get returns one document.
func (p *Pipeline) Get(ctx context.Context, tenantID string, docID id.ID) (*Document, error) {
	return p.d.Documents.GetByID(ctx, tenantID, docID)
}

// List returns documents of a tenant, newest first.
func (p *Pipeline) List(ctx context.Context, tenantID string, filter ListFilter) ([]*Document, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperror.NewValidation("unknown document status").WithDetail("status", filter.Status)
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, apperror.NewValidation("unknown document type").WithDetail("type", filter.Type)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return p.d.Documents.List(ctx, tenantID, filter)
}

// Status returns the issuance status of a document.
func (p *Pipeline) Status(ctx context.Context, tenantID string, docID id.ID) (*StatusView, error) {
	doc, err := p.d.Documents.GetByID(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		DocumentID:      doc.ID,
		Status:          doc.Status,
		ControlNumber:   doc.ControlNumber,
		VerificationURL: doc.VerificationURL,
		IssuedAt:        doc.IssueDate,
	}, nil
}

// ProviderStatus returns the local status together with what the fiscal
// provider reports for the document's control number. Documents without a
// control number are returned without calling the provider.
func (p *Pipeline) ProviderStatus(ctx context.Context, tenantID string, docID id.ID) (*StatusView, error) {
	view, err := p.Status(ctx, tenantID, docID)
	if err != nil || view.ControlNumber == "" {
		return view, err
	}
	prov, err := p.d.Providers.Provider()
	if err != nil {
		return nil, err
	}
	st, err := prov.QueryStatus(ctx, view.ControlNumber)
	if err != nil {
		return nil, apperror.NewProviderError(prov.Name(), err)
	}
	view.Provider = st
	return view, nil
}

// Evidence returns the evidence of an issued document.
func (p *Pipeline) Evidence(ctx context.Context, tenantID string, docID id.ID) (*Evidence, error) {
	return p.d.Evidence.GetByDocument(ctx, tenantID, docID)
}

// AuditTrail returns the audit entries of a document in insertion order.
func (p *Pipeline) AuditTrail(ctx context.Context, tenantID string, docID id.ID) ([]AuditEntry, error) {
	if _, err := p.d.Documents.GetByID(ctx, tenantID, docID); err != nil {
		return nil, err
	}
	return p.d.Audit.ListByDocument(ctx, tenantID, docID)
}

// Advance applies a manual status change such as validated, sent or closed.
func (p *Pipeline) Advance(ctx context.Context, tenantID string, docID id.ID, to Status) (*Document, error) {
	doc, err := p.d.Documents.GetByID(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if err := ValidateAdvance(doc.Status, to); err != nil {
		return nil, err
	}

	ok, err := p.d.Documents.UpdateStatus(ctx, tenantID, docID, doc.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NewConcurrentModification("document", docID)
	}

	from := doc.Status
	doc.Status = to
	doc.UpdatedAt = p.now()
	p.appendAudit(ctx, tenantID, docID, AuditStatusChanged, map[string]any{"from": from, "to": to})
	logger.Info(ctx, "document status changed", "document_id", docID, "from", from, "to", to)
	return doc, nil
}
