package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	appctx "fiscalcore/internal/core/context"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/pkg/logger"
)

// DocumentIssuedFunc reacts to billing.document.issued.
type DocumentIssuedFunc func(ctx context.Context, event billing.DocumentIssued) error

// OnDocumentIssued decodes the payload and runs fn with a tenant-scoped context.
func OnDocumentIssued(fn DocumentIssuedFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var event billing.DocumentIssued
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// A malformed payload will never decode; retrying is pointless.
			logger.Error(msg.Context(), "dropping undecodable document.issued event",
				"message_id", msg.UUID,
				"error", err,
			)
			return nil
		}

		ctx := appctx.WithUser(msg.Context(), &appctx.UserContext{
			UserID:   "system:events",
			TenantID: msg.Metadata.Get(MetaTenantID),
		})
		if err := fn(ctx, event); err != nil {
			return fmt.Errorf("handle document.issued %s: %w", event.DocumentID, err)
		}
		return nil
	}
}

// RegisterDefaultListeners wires the built-in collaborators of the issuance
// pipeline onto the bus.
func RegisterDefaultListeners(bus *Bus) {
	bus.Handle("accounting_handoff", billing.TopicDocumentIssued, OnDocumentIssued(accountingHandoff))
}

// accountingHandoff records the issued document for downstream accounting.
// The entry itself is booked by the accounting service that tails these logs.
func accountingHandoff(ctx context.Context, e billing.DocumentIssued) error {
	logger.Info(ctx, "document ready for accounting",
		"document_id", e.DocumentID,
		"document_number", e.DocumentNumber,
		"control_number", e.ControlNumber,
		"type", e.Type,
		"total", e.Total.String(),
		"tax_amount", e.TaxAmount.String(),
	)
	return nil
}
