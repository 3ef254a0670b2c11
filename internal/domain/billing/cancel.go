package billing

import (
	"context"
	"strings"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/pkg/logger"
)

// Cancel voids the control number of an issued document at the fiscal
// provider. The local status does not change; the cancellation is kept in
// the audit trail and the provider's record is returned in the view.
func (p *Pipeline) Cancel(ctx context.Context, tenantID string, docID id.ID, reason string) (*StatusView, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.NewValidation("cancellation reason is required")
	}

	unlock, err := p.lockDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := p.d.Documents.GetByID(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if doc.ControlNumber == "" {
		return nil, apperror.NewInvalidTransition(string(doc.Status), "cancelled")
	}

	prov, err := p.d.Providers.Provider()
	if err != nil {
		return nil, err
	}
	canceller, ok := prov.(Canceller)
	if !ok {
		return nil, apperror.NewBusinessRule(apperror.CodeBusinessRule, "fiscal provider does not support cancellation").
			WithDetail("provider", prov.Name())
	}
	if err := canceller.CancelDocument(ctx, doc.ControlNumber, reason); err != nil {
		p.appendAudit(ctx, tenantID, docID, AuditError, map[string]any{
			"operation": "cancel",
			"provider":  prov.Name(),
			"error":     err.Error(),
		})
		return nil, apperror.NewProviderError(prov.Name(), err)
	}

	p.appendAudit(ctx, tenantID, docID, AuditCancelled, map[string]any{
		"control_number": doc.ControlNumber,
		"provider":       prov.Name(),
		"reason":         reason,
	})
	logger.Info(ctx, "control number cancelled", "document_id", docID, "control_number", doc.ControlNumber)

	return &StatusView{
		DocumentID:      doc.ID,
		Status:          doc.Status,
		ControlNumber:   doc.ControlNumber,
		VerificationURL: doc.VerificationURL,
		IssuedAt:        doc.IssueDate,
		Provider: &ControlStatus{
			ControlNumber: doc.ControlNumber,
			Status:        "cancelled",
			Metadata:      map[string]any{"reason": reason},
		},
	}, nil
}
