package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"fiscalcore/internal/core/id"
)

// TopicDocumentIssued is published once per document reaching issued with a
// control number. Quotes never emit it.
const TopicDocumentIssued = "billing.document.issued"

// Event is an outbound domain event.
type Event struct {
	Topic       string
	TenantID    string
	AggregateID id.ID
	Payload     any
}

// DocumentIssued is the payload of TopicDocumentIssued.
type DocumentIssued struct {
	DocumentID     string          `json:"documentId"`
	TenantID       string          `json:"tenantId"`
	SeriesID       string          `json:"seriesId"`
	ControlNumber  string          `json:"controlNumber"`
	Type           DocumentType    `json:"type"`
	DocumentNumber string          `json:"documentNumber"`
	IssueDate      time.Time       `json:"issueDate"`
	CustomerName   string          `json:"customerName,omitempty"`
	CustomerTaxID  string          `json:"customerTaxId,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	Total          decimal.Decimal `json:"total"`
	Taxes          []Tax           `json:"taxes,omitempty"`
}

// NewDocumentIssued builds the event for an issued document.
func NewDocumentIssued(doc *Document) Event {
	var issued time.Time
	if doc.IssueDate != nil {
		issued = *doc.IssueDate
	}
	return Event{
		Topic:       TopicDocumentIssued,
		TenantID:    doc.TenantID,
		AggregateID: doc.ID,
		Payload: DocumentIssued{
			DocumentID:     doc.ID.String(),
			TenantID:       doc.TenantID,
			SeriesID:       doc.SeriesID.String(),
			ControlNumber:  doc.ControlNumber,
			Type:           doc.Type,
			DocumentNumber: doc.DocumentNumber,
			IssueDate:      issued,
			CustomerName:   doc.Customer.Name,
			CustomerTaxID:  doc.Customer.TaxID,
			Subtotal:       doc.Totals.Subtotal,
			TaxAmount:      doc.Totals.TaxAmount(),
			Total:          doc.Totals.GrandTotal,
			Taxes:          doc.Totals.Taxes,
		},
	}
}

// EventPublisher delivers events to collaborators. The PostgreSQL outbox
// implementation must be called inside the transaction that changes the document.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
