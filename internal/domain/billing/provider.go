package billing

import (
	"context"
	"time"
)

// ControlRequest is what gets submitted to the fiscal provider.
type ControlRequest struct {
	DocumentID     string       `json:"documentId"`
	TenantID       string       `json:"tenantId"`
	SeriesID       string       `json:"seriesId"`
	DocumentNumber string       `json:"documentNumber"`
	Type           DocumentType `json:"type"`
	Customer       Customer     `json:"customer"`
	Totals         Totals       `json:"totals"`
}

// Describes reports whether r is the request doc would produce now. Evidence
// is only valid when the certified request and the stored document agree.
func (r ControlRequest) Describes(doc *Document) bool {
	if r.DocumentID != doc.ID.String() || r.DocumentNumber != doc.DocumentNumber ||
		r.Type != doc.Type || r.Customer != doc.Customer {
		return false
	}
	a, b := r.Totals, doc.Totals
	if a.Currency != b.Currency || !a.Subtotal.Equal(b.Subtotal) ||
		!a.GrandTotal.Equal(b.GrandTotal) || len(a.Taxes) != len(b.Taxes) {
		return false
	}
	for i := range a.Taxes {
		x, y := a.Taxes[i], b.Taxes[i]
		if x.Type != y.Type || !x.Rate.Equal(y.Rate) || !x.Amount.Equal(y.Amount) {
			return false
		}
	}
	return true
}

// ControlResult is the provider's answer.
type ControlResult struct {
	ControlNumber   string         `json:"controlNumber"`
	Provider        string         `json:"provider"`
	AssignedAt      time.Time      `json:"assignedAt"`
	Hash            string         `json:"hash,omitempty"`
	VerificationURL string         `json:"verificationUrl,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ControlStatus is the provider's view of an assigned control number.
type ControlStatus struct {
	ControlNumber string         `json:"controlNumber"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// FiscalProvider obtains control numbers from a fiscal authority (imprenta digital).
// Calls block until the provider answers or its own retry budget is spent.
type FiscalProvider interface {
	Name() string
	RequestControlNumber(ctx context.Context, req ControlRequest) (*ControlResult, error)
	QueryStatus(ctx context.Context, controlNumber string) (*ControlStatus, error)
}

// Canceller is implemented by providers that support voiding a control number.
type Canceller interface {
	CancelDocument(ctx context.Context, controlNumber, reason string) error
}

// ProviderSource yields the configured provider. The imprenta factory
// implements it so a reconfiguration is picked up by the next call.
type ProviderSource interface {
	Provider() (FiscalProvider, error)
}

// StaticProvider adapts a single provider to ProviderSource.
type StaticProvider struct {
	P FiscalProvider
}

// Provider implements ProviderSource.
func (s StaticProvider) Provider() (FiscalProvider, error) { return s.P, nil }
