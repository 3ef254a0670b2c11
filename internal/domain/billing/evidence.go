package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fiscalcore/internal/core/id"
)

// TaxSnapshot is a tax line with its derived taxable base.
type TaxSnapshot struct {
	Type     string           `json:"type"`
	Rate     decimal.Decimal  `json:"rate"`
	Amount   decimal.Decimal  `json:"amount"`
	Base     *decimal.Decimal `json:"base,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

// TotalsSnapshot is the immutable copy of the totals taken at issuance.
type TotalsSnapshot struct {
	Currency   string          `json:"currency,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	Taxes      []TaxSnapshot   `json:"taxes"`
}

// SnapshotTotals copies totals and derives each tax base as amount / rate.
// Lines with a zero rate carry no base.
func SnapshotTotals(t Totals) TotalsSnapshot {
	taxes := make([]TaxSnapshot, 0, len(t.Taxes))
	for _, tax := range t.Taxes {
		line := TaxSnapshot{Type: tax.Type, Rate: tax.Rate, Amount: tax.Amount, Currency: t.Currency}
		if tax.Rate.IsPositive() {
			base := tax.Amount.Div(tax.Rate).Round(4)
			line.Base = &base
		}
		taxes = append(taxes, line)
	}
	return TotalsSnapshot{
		Currency:   t.Currency,
		Subtotal:   t.Subtotal,
		GrandTotal: t.GrandTotal,
		Taxes:      taxes,
	}
}

// canonicalSnapshot fixes the field order of the hashed content.
type canonicalSnapshot struct {
	ID             string   `json:"id"`
	DocumentNumber string   `json:"documentNumber"`
	ControlNumber  string   `json:"controlNumber"`
	Totals         Totals   `json:"totals"`
	Customer       Customer `json:"customer"`
}

// ContentHash is the hex SHA-256 of the canonical snapshot of doc.
func ContentHash(doc *Document) (string, error) {
	raw, err := json.Marshal(canonicalSnapshot{
		ID:             doc.ID.String(),
		DocumentNumber: doc.DocumentNumber,
		ControlNumber:  doc.ControlNumber,
		Totals:         doc.Totals,
		Customer:       doc.Customer,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// newEvidence builds the evidence record of an issued document.
func newEvidence(doc *Document, req ControlRequest, res ControlResult, now time.Time) (*Evidence, error) {
	hash, err := ContentHash(doc)
	if err != nil {
		return nil, err
	}
	assigned := res.AssignedAt
	if assigned.IsZero() {
		assigned = now
	}
	return &Evidence{
		ID:              id.New(),
		TenantID:        doc.TenantID,
		DocumentID:      doc.ID,
		Hash:            hash,
		ProviderHash:    res.Hash,
		Provider:        res.Provider,
		ControlNumber:   res.ControlNumber,
		AssignedAt:      assigned,
		Metadata:        res.Metadata,
		VerificationURL: res.VerificationURL,
		TotalsSnapshot:  SnapshotTotals(doc.Totals),
		Request:         req,
		Response:        res,
		CreatedAt:       now,
	}, nil
}
