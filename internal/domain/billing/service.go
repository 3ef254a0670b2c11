package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fiscalcore/internal/core/apperror"
	appctx "fiscalcore/internal/core/context"
	"fiscalcore/internal/core/id"
	corelock "fiscalcore/internal/core/lock"
	"fiscalcore/internal/core/numerator"
	"fiscalcore/internal/core/tx"
	"fiscalcore/pkg/logger"
)

var tracer = otel.Tracer("fiscalcore/billing")

var errAlreadyIssued = errors.New("document already issued")

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Config tunes the pipeline.
type Config struct {
	// IssueLock guards one document for the duration of a provider call,
	// so its TTL must cover the provider's worst case (timeout * retries).
	IssueLock corelock.Options
}

// DefaultConfig returns a single-attempt, two-minute issuance lock.
func DefaultConfig() Config {
	return Config{
		IssueLock: corelock.Options{
			TTL:         2 * time.Minute,
			MaxAttempts: 1,
			RetryDelay:  100 * time.Millisecond,
		},
	}
}

// Deps are the collaborators of the pipeline. Locker, Archive, Events and Tx are optional.
type Deps struct {
	Documents DocumentRepository
	Series    SeriesRepository
	Evidence  EvidenceRepository
	Audit     AuditLog
	Failures  FailureStore
	Numbers   numerator.Generator
	Providers ProviderSource
	Events    EventPublisher
	Locker    corelock.Locker
	Archive   EvidenceArchiver
	Tx        tx.Manager
}

// Pipeline drives documents through creation and issuance.
//
// Side effects are strictly ordered: the document number is assigned before
// any provider call, evidence is written only after a successful provider
// response, and audit entries are never rolled back once written.
type Pipeline struct {
	d   Deps
	cfg Config
	now func() time.Time
}

// NewPipeline creates the issuance pipeline.
func NewPipeline(deps Deps, cfg Config) *Pipeline {
	if deps.Tx == nil {
		deps.Tx = tx.Nop{}
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	return &Pipeline{
		d:   deps,
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// CreateInput describes a new draft document.
type CreateInput struct {
	Type               DocumentType
	SeriesID           *id.ID
	OriginalDocumentID *id.ID
	OrderID            string
	Customer           Customer
	Totals             Totals
}

// Create validates the request, assigns the next number of the series and
// stores a draft. Every check runs before numbering so a rejected request
// never consumes a number.
//
// An invoice for an order that already has a draft invoice resumes that
// draft instead of numbering a new one; an order with a validated or issued
// invoice is rejected.
func (p *Pipeline) Create(ctx context.Context, tenantID string, in CreateInput) (*Document, error) {
	if !in.Type.IsValid() {
		return nil, apperror.NewValidation("unknown document type").WithDetail("type", in.Type)
	}

	var original *Document
	if in.Type.IsNote() && in.OriginalDocumentID == nil {
		return nil, apperror.NewMissingOriginalDocument(string(in.Type), nil)
	}
	if in.OriginalDocumentID != nil {
		orig, err := p.d.Documents.GetByID(ctx, tenantID, *in.OriginalDocumentID)
		if apperror.IsNotFound(err) {
			return nil, apperror.NewMissingOriginalDocument(string(in.Type), in.OriginalDocumentID.String())
		}
		if err != nil {
			return nil, err
		}
		original = orig
	}

	seq, err := p.resolveSeries(ctx, tenantID, in)
	if err != nil {
		return nil, err
	}

	if in.Type == TypeInvoice && in.OrderID != "" {
		existing, err := p.d.Documents.FindOpenByOrder(ctx, tenantID, in.OrderID, TypeInvoice)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return p.resumeDraft(ctx, existing, in)
		}
	}

	now := p.now()
	doc := &Document{
		ID:                 id.New(),
		TenantID:           tenantID,
		Type:               in.Type,
		SeriesID:           seq.ID,
		Status:             StatusDraft,
		Customer:           mergeCustomer(in.Customer, original),
		Totals:             in.Totals,
		OriginalDocumentID: in.OriginalDocumentID,
		OrderID:            in.OrderID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// The increment joins this transaction: if the insert fails the counter
	// rolls back with it and no gap is left in the series.
	err = p.d.Tx.RunInTransaction(ctx, func(ctx context.Context) error {
		number, err := p.d.Numbers.NextNumber(ctx, seq, tenantID)
		if err != nil {
			return err
		}
		doc.DocumentNumber = number

		if err := p.d.Documents.Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		entry, err := p.newAudit(ctx, doc.TenantID, doc.ID, AuditCreated, map[string]any{
			"documentNumber": number,
			"seriesId":       seq.ID.String(),
		})
		if err != nil {
			return err
		}
		return p.d.Audit.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "document created",
		"document_id", doc.ID,
		"series_id", seq.ID,
		"document_number", doc.DocumentNumber,
		"type", doc.Type,
	)
	return doc, nil
}

func (p *Pipeline) resolveSeries(ctx context.Context, tenantID string, in CreateInput) (*numerator.Sequence, error) {
	if in.SeriesID != nil {
		return p.d.Series.GetByID(ctx, tenantID, *in.SeriesID)
	}
	return p.d.Series.FindDefault(ctx, tenantID, string(in.Type))
}

func (p *Pipeline) resumeDraft(ctx context.Context, existing *Document, in CreateInput) (*Document, error) {
	if existing.Status != StatusDraft {
		return nil, orderInvoiced(existing)
	}

	// Held so a concurrent issue cannot submit the draft while it is rewritten.
	release, err := p.lockDocument(ctx, existing.TenantID, existing.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := p.d.Documents.GetByID(ctx, existing.TenantID, existing.ID)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusDraft {
		return nil, orderInvoiced(doc)
	}

	// Once a request reached the provider, the pending dead-letter row and
	// any later evidence must describe exactly that request.
	submitted, err := p.submitted(ctx, doc)
	if err != nil {
		return nil, err
	}
	if submitted {
		return nil, apperror.NewConflict("draft invoice was already submitted to the fiscal provider").
			WithDetail("order_id", doc.OrderID).
			WithDetail("document_id", doc.ID.String())
	}

	doc.Customer = mergeCustomer(in.Customer, &Document{Customer: doc.Customer})
	doc.Totals = in.Totals
	doc.UpdatedAt = p.now()

	ok, err := p.d.Documents.UpdateDraft(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NewConcurrentModification("document", doc.ID)
	}
	logger.Info(ctx, "resumed draft invoice for order",
		"document_id", doc.ID,
		"order_id", doc.OrderID,
	)
	return doc, nil
}

func orderInvoiced(doc *Document) error {
	return apperror.NewConflict("order already has an invoice").
		WithDetail("order_id", doc.OrderID).
		WithDetail("document_number", doc.DocumentNumber)
}

// submitted reports whether a control number request was ever sent for doc.
func (p *Pipeline) submitted(ctx context.Context, doc *Document) (bool, error) {
	n, err := p.d.Failures.CountByDocument(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	trail, err := p.d.Audit.ListByDocument(ctx, doc.TenantID, doc.ID)
	if err != nil {
		return false, err
	}
	for _, e := range trail {
		if e.Event == AuditSentToProvider {
			return true, nil
		}
	}
	return false, nil
}

// mergeCustomer fills empty fields from the original document, if any.
func mergeCustomer(in Customer, original *Document) Customer {
	if original == nil {
		return in
	}
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}
	o := original.Customer
	return Customer{
		Name:    pick(in.Name, o.Name),
		TaxID:   pick(in.TaxID, o.TaxID),
		Address: pick(in.Address, o.Address),
		Email:   pick(in.Email, o.Email),
		Phone:   pick(in.Phone, o.Phone),
	}
}

// Issue obtains a control number and moves the document to issued.
//
// Issue is idempotent: on a document that is not draft or validated it returns
// the current state untouched. On provider failure a dead-letter row is
// written, the document keeps its state and a PROVIDER_ERROR is returned.
func (p *Pipeline) Issue(ctx context.Context, tenantID string, docID id.ID) (*Document, error) {
	ctx, span := tracer.Start(ctx, "billing.issue", trace.WithAttributes(
		attribute.String("document.id", docID.String()),
	))
	defer span.End()

	doc, err := p.d.Documents.GetByID(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanIssue() {
		return doc, nil
	}

	release, err := p.lockDocument(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock: a concurrent call may have finished meanwhile.
	doc, err = p.d.Documents.GetByID(ctx, tenantID, docID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.CanIssue() {
		return doc, nil
	}

	if !doc.Type.RequiresControlNumber() {
		return p.issueWithoutControl(ctx, doc)
	}

	req := NewControlRequest(doc)
	p.appendAudit(ctx, doc.TenantID, doc.ID, AuditSentToProvider, req)

	res, provider, err := p.requestControl(ctx, req)
	if err != nil {
		f := p.recordFailure(ctx, doc, req, provider, err)
		return nil, apperror.NewProviderError(provider, err).
			WithDetail("document_id", doc.ID.String()).
			WithDetail("failure_id", f.ID.String())
	}

	issued, err := p.complete(ctx, doc, req, *res)
	if err != nil {
		// The authority assigned a number we could not store: keep the request
		// in the dead-letter queue so it can be reconciled.
		f := p.recordFailure(ctx, doc, req, provider,
			fmt.Errorf("store control number %s: %w", res.ControlNumber, err))
		return nil, apperror.NewInternal(err).WithDetail("failure_id", f.ID.String())
	}
	return issued, nil
}

// NewControlRequest builds the provider request for a document.
func NewControlRequest(doc *Document) ControlRequest {
	return ControlRequest{
		DocumentID:     doc.ID.String(),
		TenantID:       doc.TenantID,
		SeriesID:       doc.SeriesID.String(),
		DocumentNumber: doc.DocumentNumber,
		Type:           doc.Type,
		Customer:       doc.Customer,
		Totals:         doc.Totals,
	}
}

func (p *Pipeline) requestControl(ctx context.Context, req ControlRequest) (*ControlResult, string, error) {
	prov, err := p.d.Providers.Provider()
	if err != nil {
		return nil, "unconfigured", err
	}

	ctx, span := tracer.Start(ctx, "imprenta.request_control_number", trace.WithAttributes(
		attribute.String("imprenta.provider", prov.Name()),
	))
	defer span.End()

	res, err := prov.RequestControlNumber(ctx, req)
	if err == nil && (res == nil || res.ControlNumber == "") {
		err = errors.New("provider returned an empty control number")
	}
	if err != nil {
		span.RecordError(err)
		return nil, prov.Name(), err
	}
	if res.Provider == "" {
		res.Provider = prov.Name()
	}
	return res, prov.Name(), nil
}

// complete persists a successful provider answer: document, evidence and the
// document.issued event commit together; audit and archive follow.
func (p *Pipeline) complete(ctx context.Context, doc *Document, req ControlRequest, res ControlResult) (*Document, error) {
	now := p.now()
	issued := *doc
	issued.ControlNumber = res.ControlNumber
	issued.Status = StatusIssued
	issued.IssueDate = &now
	issued.VerificationURL = res.VerificationURL
	issued.UpdatedAt = now

	ev, err := newEvidence(&issued, req, res, now)
	if err != nil {
		return nil, fmt.Errorf("build evidence: %w", err)
	}

	err = p.d.Tx.RunInTransaction(ctx, func(ctx context.Context) error {
		ok, err := p.d.Documents.MarkIssued(ctx, &issued)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyIssued
		}
		if err := p.d.Evidence.Create(ctx, ev); err != nil {
			return err
		}
		return p.d.Events.Publish(ctx, NewDocumentIssued(&issued))
	})
	if errors.Is(err, errAlreadyIssued) {
		logger.Warn(ctx, "document issued concurrently, discarding control number",
			"document_id", doc.ID,
			"control_number", res.ControlNumber,
		)
		return p.d.Documents.GetByID(ctx, doc.TenantID, doc.ID)
	}
	if err != nil {
		return nil, err
	}

	p.appendAudit(ctx, issued.TenantID, issued.ID, AuditIssued, map[string]any{
		"controlNumber": issued.ControlNumber,
	})
	p.appendAudit(ctx, issued.TenantID, issued.ID, AuditControlAssigned, map[string]any{
		"request":  req,
		"response": res,
	})

	if p.d.Archive != nil {
		if err := p.d.Archive.Archive(ctx, ev); err != nil {
			logger.Warn(ctx, "evidence archive failed", "document_id", issued.ID, "error", err)
		}
	}

	logger.Info(ctx, "document issued",
		"document_id", issued.ID,
		"document_number", issued.DocumentNumber,
		"control_number", issued.ControlNumber,
		"provider", res.Provider,
	)
	return &issued, nil
}

// issueWithoutControl moves a quote to issued. No provider call, evidence or event.
func (p *Pipeline) issueWithoutControl(ctx context.Context, doc *Document) (*Document, error) {
	now := p.now()
	issued := *doc
	issued.Status = StatusIssued
	issued.IssueDate = &now
	issued.UpdatedAt = now

	ok, err := p.d.Documents.MarkIssued(ctx, &issued)
	if err != nil {
		return nil, err
	}
	if !ok {
		return p.d.Documents.GetByID(ctx, doc.TenantID, doc.ID)
	}
	p.appendAudit(ctx, issued.TenantID, issued.ID, AuditIssued, map[string]any{"controlNumber": nil})
	return &issued, nil
}

func (p *Pipeline) recordFailure(ctx context.Context, doc *Document, req ControlRequest, provider string, cause error) *Failure {
	// The provider call may have failed because ctx expired; recording must not.
	ctx = context.WithoutCancel(ctx)
	now := p.now()
	f := &Failure{
		ID:         id.New(),
		TenantID:   doc.TenantID,
		DocumentID: doc.ID,
		SeriesID:   doc.SeriesID,
		Request:    req,
		LastError:  cause.Error(),
		Attempts:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.d.Failures.Record(ctx, f); err != nil {
		logger.Error(ctx, "failed to record provider failure",
			"document_id", doc.ID,
			"cause", cause,
			"error", err,
		)
	}
	p.appendAudit(ctx, doc.TenantID, doc.ID, AuditError, map[string]any{
		"failureId": f.ID.String(),
		"provider":  provider,
		"error":     cause.Error(),
	})
	logger.Warn(ctx, "control number request failed",
		"document_id", doc.ID,
		"failure_id", f.ID,
		"provider", provider,
		"error", cause,
	)
	return f
}

// lockDocument serializes provider calls for one document across processes.
func (p *Pipeline) lockDocument(ctx context.Context, tenantID string, docID id.ID) (func(), error) {
	if p.d.Locker == nil {
		return func() {}, nil
	}
	lease, err := p.d.Locker.Acquire(ctx, corelock.DocumentKey(tenantID, docID.String()), p.cfg.IssueLock)
	if err != nil {
		return nil, err
	}
	return func() { p.d.Locker.Release(ctx, lease) }, nil
}

func (p *Pipeline) newAudit(ctx context.Context, tenantID string, docID id.ID, event AuditEvent, payload any) (AuditEntry, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return AuditEntry{}, fmt.Errorf("marshal audit payload: %w", err)
		}
		raw = b
	}
	return AuditEntry{
		ID:         id.New(),
		TenantID:   tenantID,
		DocumentID: docID,
		Event:      event,
		Payload:    raw,
		UserID:     appctx.GetUserID(ctx),
		CreatedAt:  p.now(),
	}, nil
}

// appendAudit writes an entry outside of any transaction. Failures are logged:
// the audit trail is observability and never blocks the operation.
func (p *Pipeline) appendAudit(ctx context.Context, tenantID string, docID id.ID, event AuditEvent, payload any) {
	ctx = context.WithoutCancel(ctx)
	entry, err := p.newAudit(ctx, tenantID, docID, event, payload)
	if err == nil {
		err = p.d.Audit.Append(ctx, entry)
	}
	if err != nil {
		logger.Error(ctx, "audit append failed",
			"document_id", docID,
			"event", event,
			"error", err,
		)
	}
}
