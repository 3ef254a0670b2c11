// Package billing implements the fiscal document issuance pipeline: numbering at
// creation, control-number assignment at issuance, evidence and audit trail,
// and the dead-letter queue of failed provider calls.
package billing

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fiscalcore/internal/core/id"
)

// DocumentType of a fiscal document.
type DocumentType string

const (
	TypeInvoice      DocumentType = "invoice"
	TypeCreditNote   DocumentType = "credit_note"
	TypeDebitNote    DocumentType = "debit_note"
	TypeDeliveryNote DocumentType = "delivery_note"
	TypeQuote        DocumentType = "quote"
)

// IsValid reports whether t is a known document type.
func (t DocumentType) IsValid() bool {
	switch t {
	case TypeInvoice, TypeCreditNote, TypeDebitNote, TypeDeliveryNote, TypeQuote:
		return true
	}
	return false
}

// IsNote reports whether t must reference an original document.
func (t DocumentType) IsNote() bool {
	return t == TypeCreditNote || t == TypeDebitNote
}

// RequiresControlNumber is false for quotes: they are numbered but never
// submitted to the fiscal authority.
func (t DocumentType) RequiresControlNumber() bool {
	return t != TypeQuote
}

// Customer is the customer snapshot stored with the document.
type Customer struct {
	Name    string `json:"name"`
	TaxID   string `json:"taxId,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Tax is one tax line of the totals. Rate is a fraction (0.16 for 16%).
type Tax struct {
	Type   string          `json:"type"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// Totals is the totals snapshot computed by the billing CRUD collaborator.
type Totals struct {
	Currency   string          `json:"currency,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Taxes      []Tax           `json:"taxes,omitempty"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// TaxAmount sums all tax lines.
func (t Totals) TaxAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, tax := range t.Taxes {
		sum = sum.Add(tax.Amount)
	}
	return sum
}

// Document is a fiscal document (FiscalDocument).
// DocumentNumber is assigned once at creation, ControlNumber once at issuance.
type Document struct {
	ID                 id.ID        `json:"id"`
	TenantID           string       `json:"-"`
	Type               DocumentType `json:"type"`
	SeriesID           id.ID        `json:"seriesId"`
	DocumentNumber     string       `json:"documentNumber"`
	ControlNumber      string       `json:"controlNumber,omitempty"`
	Status             Status       `json:"status"`
	IssueDate          *time.Time   `json:"issueDate,omitempty"`
	Customer           Customer     `json:"customer"`
	Totals             Totals       `json:"totals"`
	OriginalDocumentID *id.ID       `json:"originalDocumentId,omitempty"`
	OrderID            string       `json:"orderId,omitempty"`
	VerificationURL    string       `json:"verificationUrl,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Evidence is the immutable proof of what was submitted to and returned by
// the fiscal authority. Hash is computed over the canonical snapshot of the
// issued document; ProviderHash is whatever the provider returned.
type Evidence struct {
	ID              id.ID          `json:"id"`
	TenantID        string         `json:"-"`
	DocumentID      id.ID          `json:"documentId"`
	Hash            string         `json:"hash"`
	ProviderHash    string         `json:"providerHash,omitempty"`
	Provider        string         `json:"provider"`
	ControlNumber   string         `json:"controlNumber"`
	AssignedAt      time.Time      `json:"assignedAt"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	VerificationURL string         `json:"verificationUrl,omitempty"`
	TotalsSnapshot  TotalsSnapshot `json:"totalsSnapshot"`
	Request         ControlRequest `json:"request"`
	Response        ControlResult  `json:"response"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// AuditEvent tags an audit entry.
type AuditEvent string

const (
	AuditCreated         AuditEvent = "created"
	AuditSentToProvider  AuditEvent = "sent_to_imprenta"
	AuditControlAssigned AuditEvent = "control_assigned"
	AuditIssued          AuditEvent = "issued"
	AuditRetrySuccess    AuditEvent = "retry_success"
	AuditRetryFailed     AuditEvent = "retry_failed"
	AuditError           AuditEvent = "error"
	AuditStatusChanged   AuditEvent = "status_changed"
	AuditCancelled       AuditEvent = "cancelled"
)

// AuditEntry is one append-only row of a document's trail. It records
// attempts, not only successes.
type AuditEntry struct {
	ID         id.ID           `json:"id"`
	TenantID   string          `json:"-"`
	DocumentID id.ID           `json:"documentId"`
	Event      AuditEvent      `json:"event"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Failure is a dead-letter row for a failed provider call. Request is stored
// verbatim so a retry needs nothing else.
type Failure struct {
	ID         id.ID          `json:"id"`
	TenantID   string         `json:"-"`
	DocumentID id.ID          `json:"documentId"`
	SeriesID   id.ID          `json:"seriesId"`
	Request    ControlRequest `json:"request"`
	LastError  string         `json:"lastError"`
	Attempts   int            `json:"attempts"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}
