package dto

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/internal/core/numerator"
	"fiscalcore/internal/domain/billing"
)

// --- Documents ---

// CustomerDTO is the customer snapshot of a document.
type CustomerDTO struct {
	Name    string `json:"name"`
	TaxID   string `json:"taxId,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// TaxDTO is one tax line. Rate is a fraction.
type TaxDTO struct {
	Type   string          `json:"type" binding:"required"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// TotalsDTO carries totals computed by the caller.
type TotalsDTO struct {
	Currency   string          `json:"currency,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Taxes      []TaxDTO        `json:"taxes,omitempty"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// CreateDocumentRequest creates a draft document.
// customerName and customerTaxId are accepted as shorthands for customer.
type CreateDocumentRequest struct {
	Type               string       `json:"type" binding:"required"`
	SeriesID           *string      `json:"seriesId"`
	OriginalDocumentID *string      `json:"originalDocumentId"`
	OrderID            string       `json:"orderId"`
	Customer           *CustomerDTO `json:"customer"`
	CustomerName       string       `json:"customerName"`
	CustomerTaxID      string       `json:"customerTaxId"`
	Totals             TotalsDTO    `json:"totals"`
}

// ToInput maps the request onto the pipeline input.
func (r CreateDocumentRequest) ToInput() (billing.CreateInput, error) {
	in := billing.CreateInput{
		Type:    billing.DocumentType(r.Type),
		OrderID: r.OrderID,
	}

	var err error
	if in.SeriesID, err = parseOptionalID("seriesId", r.SeriesID); err != nil {
		return in, err
	}
	if in.OriginalDocumentID, err = parseOptionalID("originalDocumentId", r.OriginalDocumentID); err != nil {
		return in, err
	}

	if r.Customer != nil {
		in.Customer = billing.Customer(*r.Customer)
	}
	if in.Customer.Name == "" {
		in.Customer.Name = r.CustomerName
	}
	if in.Customer.TaxID == "" {
		in.Customer.TaxID = r.CustomerTaxID
	}

	in.Totals = billing.Totals{
		Currency:   r.Totals.Currency,
		Subtotal:   r.Totals.Subtotal,
		GrandTotal: r.Totals.GrandTotal,
	}
	for _, t := range r.Totals.Taxes {
		in.Totals.Taxes = append(in.Totals.Taxes, billing.Tax(t))
	}
	return in, nil
}

// ListDocumentsQuery filters the document listing.
type ListDocumentsQuery struct {
	Status string `form:"status"`
	Type   string `form:"type"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
}

// Filter maps the query onto the repository filter.
func (q ListDocumentsQuery) Filter() billing.ListFilter {
	return billing.ListFilter{
		Status: billing.Status(q.Status),
		Type:   billing.DocumentType(q.Type),
		Limit:  q.Limit,
	}
}

// AdvanceRequest moves a document to a later status.
type AdvanceRequest struct {
	Status string `json:"status" binding:"required"`
}

// CancelRequest voids the control number of an issued document.
type CancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DocumentResponse is the API shape of a document.
type DocumentResponse struct {
	ID                 string      `json:"id"`
	Type               string      `json:"type"`
	SeriesID           string      `json:"seriesId"`
	DocumentNumber     string      `json:"documentNumber"`
	ControlNumber      string      `json:"controlNumber,omitempty"`
	Status             string      `json:"status"`
	IssueDate          *time.Time  `json:"issueDate,omitempty"`
	Customer           CustomerDTO `json:"customer"`
	Totals             TotalsDTO   `json:"totals"`
	OriginalDocumentID *string     `json:"originalDocumentId,omitempty"`
	OrderID            string      `json:"orderId,omitempty"`
	VerificationURL    string      `json:"verificationUrl,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// FromDocument creates DocumentResponse from billing.Document.
func FromDocument(d *billing.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:              d.ID.String(),
		Type:            string(d.Type),
		SeriesID:        d.SeriesID.String(),
		DocumentNumber:  d.DocumentNumber,
		ControlNumber:   d.ControlNumber,
		Status:          string(d.Status),
		IssueDate:       d.IssueDate,
		Customer:        CustomerDTO(d.Customer),
		OrderID:         d.OrderID,
		VerificationURL: d.VerificationURL,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		Totals: TotalsDTO{
			Currency:   d.Totals.Currency,
			Subtotal:   d.Totals.Subtotal,
			GrandTotal: d.Totals.GrandTotal,
		},
	}
	for _, t := range d.Totals.Taxes {
		resp.Totals.Taxes = append(resp.Totals.Taxes, TaxDTO(t))
	}
	if d.OriginalDocumentID != nil {
		s := d.OriginalDocumentID.String()
		resp.OriginalDocumentID = &s
	}
	return resp
}

// FromDocuments maps a listing.
func FromDocuments(docs []*billing.Document) []DocumentResponse {
	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = FromDocument(d)
	}
	return out
}

// StatusResponse is the polling view of a document.
type StatusResponse struct {
	DocumentID      string     `json:"documentId"`
	Status          string     `json:"status"`
	ControlNumber   string     `json:"controlNumber,omitempty"`
	VerificationURL string     `json:"verificationUrl,omitempty"`
	IssuedAt        *time.Time `json:"issuedAt,omitempty"`
	ProviderStatus  string     `json:"providerStatus,omitempty"`
}

func FromStatus(v *billing.StatusView) StatusResponse {
	resp := StatusResponse{
		DocumentID:      v.DocumentID.String(),
		Status:          string(v.Status),
		ControlNumber:   v.ControlNumber,
		VerificationURL: v.VerificationURL,
		IssuedAt:        v.IssuedAt,
	}
	if v.Provider != nil {
		resp.ProviderStatus = v.Provider.Status
	}
	return resp
}

// AuditEntryResponse is one row of the audit trail.
type AuditEntryResponse struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func FromAudit(entries []billing.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryResponse{
			ID:        e.ID.String(),
			Event:     string(e.Event),
			Payload:   e.Payload,
			UserID:    e.UserID,
			CreatedAt: e.CreatedAt,
		}
	}
	return out
}

// --- Dead-letter queue ---

// FailureResponse is a dead-letter row.
type FailureResponse struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"documentId"`
	SeriesID       string    `json:"seriesId"`
	DocumentNumber string    `json:"documentNumber"`
	LastError      string    `json:"lastError"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func FromFailures(fs []*billing.Failure) []FailureResponse {
	out := make([]FailureResponse, len(fs))
	for i, f := range fs {
		out[i] = FailureResponse{
			ID:             f.ID.String(),
			DocumentID:     f.DocumentID.String(),
			SeriesID:       f.SeriesID.String(),
			DocumentNumber: f.Request.DocumentNumber,
			LastError:      f.LastError,
			Attempts:       f.Attempts,
			CreatedAt:      f.CreatedAt,
			UpdatedAt:      f.UpdatedAt,
		}
	}
	return out
}

// RetryRequest lists dead-letter rows to replay.
type RetryRequest struct {
	FailureIDs []string `json:"failureIds" binding:"required,min=1"`
}

// IDs parses the requested IDs.
func (r RetryRequest) IDs() ([]id.ID, error) {
	out := make([]id.ID, len(r.FailureIDs))
	for i, raw := range r.FailureIDs {
		parsed, err := id.Parse(raw)
		if err != nil {
			return nil, apperror.NewValidation("invalid failure id").WithDetail("value", raw)
		}
		out[i] = parsed
	}
	return out, nil
}

// RetryResponse carries one outcome per requested ID, in request order.
type RetryResponse struct {
	Results   []billing.RetryOutcome `json:"results"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
}

func NewRetryResponse(outcomes []billing.RetryOutcome) RetryResponse {
	resp := RetryResponse{Results: outcomes}
	if resp.Results == nil {
		resp.Results = []billing.RetryOutcome{}
	}
	for _, o := range outcomes {
		if o.OK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp
}

// --- Series ---

// CreateSeriesRequest provisions a numbering series.
type CreateSeriesRequest struct {
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Prefix      string `json:"prefix"`
	StartNumber int64  `json:"startNumber" binding:"omitempty,min=1"`
	RangeStart  *int64 `json:"rangeStart" binding:"omitempty,min=1"`
	RangeEnd    *int64 `json:"rangeEnd" binding:"omitempty,min=1"`
	IsDefault   bool   `json:"isDefault"`
}

func (r CreateSeriesRequest) ToInput() billing.SeriesInput {
	return billing.SeriesInput{
		Name:        r.Name,
		Type:        billing.DocumentType(r.Type),
		Prefix:      r.Prefix,
		StartNumber: r.StartNumber,
		RangeStart:  r.RangeStart,
		RangeEnd:    r.RangeEnd,
		IsDefault:   r.IsDefault,
	}
}

// SeriesStatusRequest pauses, resumes or closes a series.
type SeriesStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SeriesResponse is the API shape of a numbering series.
type SeriesResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Prefix        string    `json:"prefix"`
	CurrentNumber int64     `json:"currentNumber"`
	NextNumber    string    `json:"nextNumber,omitempty"`
	RangeStart    *int64    `json:"rangeStart,omitempty"`
	RangeEnd      *int64    `json:"rangeEnd,omitempty"`
	Status        string    `json:"status"`
	IsDefault     bool      `json:"isDefault"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func FromSeries(s *numerator.Sequence) SeriesResponse {
	resp := SeriesResponse{
		ID:            s.ID.String(),
		Name:          s.Name,
		Type:          s.Type,
		Prefix:        s.Prefix,
		CurrentNumber: s.CurrentNumber,
		RangeStart:    s.RangeStart,
		RangeEnd:      s.RangeEnd,
		Status:        string(s.Status),
		IsDefault:     s.IsDefault,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Status == numerator.StatusActive && s.CurrentNumber < s.Limit() {
		resp.NextNumber = numerator.Format(s.Prefix, s.CurrentNumber+1)
	}
	return resp
}

func FromSeriesList(list []*numerator.Sequence) []SeriesResponse {
	out := make([]SeriesResponse, len(list))
	for i, s := range list {
		out[i] = FromSeries(s)
	}
	return out
}

func parseOptionalID(field string, raw *string) (*id.ID, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := id.Parse(*raw)
	if err != nil {
		return nil, apperror.NewValidation("invalid id format").WithDetail("field", field)
	}
	return &parsed, nil
}
