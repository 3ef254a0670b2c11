package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fiscalcore/internal/core/apperror"
	"fiscalcore/internal/core/id"
	"fiscalcore/internal/core/numerator"
)

// memStore keeps every repository in one mutex-guarded struct.
type memStore struct {
	mu        sync.Mutex
	docs      map[id.ID]*Document
	series    map[id.ID]*numerator.Sequence
	evidence  map[id.ID]*Evidence
	audit     []AuditEntry
	failures  map[id.ID]*Failure
	events    []Event
	publishFn func(Event) error
}

func newMemStore() *memStore {
	return &memStore{
		docs:     make(map[id.ID]*Document),
		series:   make(map[id.ID]*numerator.Sequence),
		evidence: make(map[id.ID]*Evidence),
		failures: make(map[id.ID]*Failure),
	}
}

func clone(d *Document) *Document {
	c := *d
	return &c
}

// --- DocumentRepository ---

type memDocs struct{ s *memStore }

func (r memDocs) Create(_ context.Context, doc *Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.docs[doc.ID] = clone(doc)
	return nil
}

func (r memDocs) GetByID(_ context.Context, tenantID string, docID id.ID) (*Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[docID]
	if !ok || d.TenantID != tenantID {
		return nil, apperror.NewNotFound("document", docID.String())
	}
	return clone(d), nil
}

func (r memDocs) FindOpenByOrder(_ context.Context, tenantID, orderID string, docType DocumentType) (*Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.docs {
		if d.TenantID == tenantID && d.OrderID == orderID && d.Type == docType {
			return clone(d), nil
		}
	}
	return nil, nil
}

func (r memDocs) List(_ context.Context, tenantID string, f ListFilter) ([]*Document, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Document
	for _, d := range r.s.docs {
		if d.TenantID != tenantID || (f.Status != "" && d.Status != f.Status) || (f.Type != "" && d.Type != f.Type) {
			continue
		}
		out = append(out, clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r memDocs) UpdateDraft(_ context.Context, doc *Document) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[doc.ID]
	if !ok || d.Status != StatusDraft {
		return false, nil
	}
	d.Customer, d.Totals, d.UpdatedAt = doc.Customer, doc.Totals, doc.UpdatedAt
	return true, nil
}

func (r memDocs) MarkIssued(_ context.Context, doc *Document) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[doc.ID]
	if !ok || !d.Status.CanIssue() || d.ControlNumber != "" {
		return false, nil
	}
	d.ControlNumber, d.IssueDate, d.VerificationURL = doc.ControlNumber, doc.IssueDate, doc.VerificationURL
	d.Status, d.UpdatedAt = StatusIssued, doc.UpdatedAt
	return true, nil
}

func (r memDocs) UpdateStatus(_ context.Context, tenantID string, docID id.ID, from, to Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.docs[docID]
	if !ok || d.TenantID != tenantID || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

// --- SeriesRepository ---

type memSeries struct{ s *memStore }

func (r memSeries) Create(_ context.Context, seq *numerator.Sequence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *seq
	r.s.series[seq.ID] = &c
	return nil
}

func (r memSeries) GetByID(_ context.Context, tenantID string, seriesID id.ID) (*numerator.Sequence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq, ok := r.s.series[seriesID]
	if !ok || seq.TenantID != tenantID {
		return nil, apperror.NewNotFound("series", seriesID.String())
	}
	c := *seq
	return &c, nil
}

func (r memSeries) FindDefault(_ context.Context, tenantID, docType string) (*numerator.Sequence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *numerator.Sequence
	for _, seq := range r.s.series {
		if seq.TenantID != tenantID || seq.Type != docType || seq.Status != numerator.StatusActive {
			continue
		}
		if found == nil || (seq.IsDefault && !found.IsDefault) {
			found = seq
		}
	}
	if found == nil {
		return nil, apperror.NewNotFound("active series for type", docType)
	}
	c := *found
	return &c, nil
}

func (r memSeries) List(_ context.Context, tenantID string) ([]*numerator.Sequence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*numerator.Sequence
	for _, seq := range r.s.series {
		if seq.TenantID == tenantID {
			c := *seq
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memSeries) SetStatus(_ context.Context, tenantID string, seriesID id.ID, status numerator.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seq, ok := r.s.series[seriesID]
	if !ok || seq.TenantID != tenantID {
		return apperror.NewNotFound("series", seriesID.String())
	}
	seq.Status = status
	return nil
}

// --- EvidenceRepository ---

type memEvidence struct{ s *memStore }

func (r memEvidence) Create(_ context.Context, ev *Evidence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.evidence[ev.DocumentID]; ok {
		return apperror.NewConflict("evidence already recorded")
	}
	r.s.evidence[ev.DocumentID] = ev
	return nil
}

func (r memEvidence) GetByDocument(_ context.Context, _ string, docID id.ID) (*Evidence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.evidence[docID]
	if !ok {
		return nil, apperror.NewNotFound("evidence", docID.String())
	}
	return ev, nil
}

// --- AuditLog ---

type memAudit struct{ s *memStore }

func (r memAudit) Append(_ context.Context, e AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, e)
	return nil
}

func (r memAudit) ListByDocument(_ context.Context, _ string, docID id.ID) ([]AuditEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []AuditEntry
	for _, e := range r.s.audit {
		if e.DocumentID == docID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- FailureStore ---

type memFailures struct{ s *memStore }

func (r memFailures) Record(_ context.Context, f *Failure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *f
	r.s.failures[f.ID] = &c
	return nil
}

func (r memFailures) Get(_ context.Context, tenantID string, failureID id.ID) (*Failure, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.failures[failureID]
	if !ok || f.TenantID != tenantID {
		return nil, apperror.NewNotFound("failure", failureID.String())
	}
	c := *f
	return &c, nil
}

func (r memFailures) List(_ context.Context, tenantID string) ([]*Failure, error) {
	return r.ListRetryable(context.Background(), tenantID, int(^uint(0)>>1), 0)
}

func (r memFailures) ListRetryable(_ context.Context, tenantID string, maxAttempts, limit int) ([]*Failure, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Failure
	for _, f := range r.s.failures {
		if f.TenantID == tenantID && f.Attempts < maxAttempts {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memFailures) CountByDocument(_ context.Context, tenantID string, docID id.ID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, f := range r.s.failures {
		if f.TenantID == tenantID && f.DocumentID == docID {
			n++
		}
	}
	return n, nil
}

func (r memFailures) TenantsWithFailures(context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, f := range r.s.failures {
		if !seen[f.TenantID] {
			seen[f.TenantID] = true
			out = append(out, f.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r memFailures) MarkFailed(_ context.Context, tenantID string, failureID id.ID, lastError string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.failures[failureID]
	if !ok || f.TenantID != tenantID {
		return 0, apperror.NewNotFound("failure", failureID.String())
	}
	f.Attempts++
	f.LastError = lastError
	return f.Attempts, nil
}

func (r memFailures) Delete(_ context.Context, tenantID string, failureID id.ID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.failures[failureID]
	if !ok || f.TenantID != tenantID {
		return apperror.NewNotFound("failure", failureID.String())
	}
	delete(r.s.failures, failureID)
	return nil
}

// --- EventPublisher ---

type memEvents struct{ s *memStore }

func (r memEvents) Publish(_ context.Context, e Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.publishFn != nil {
		if err := r.s.publishFn(e); err != nil {
			return err
		}
	}
	r.s.events = append(r.s.events, e)
	return nil
}

// --- FiscalProvider ---

type fakeProvider struct {
	mu    sync.Mutex
	fail  error
	calls int
	delay time.Duration
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) setFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) RequestControlNumber(_ context.Context, req ControlRequest) (*ControlResult, error) {
	p.mu.Lock()
	p.calls++
	n, fail, delay := p.calls, p.fail, p.delay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return nil, fail
	}
	return &ControlResult{
		ControlNumber:   fmt.Sprintf("00-%06d", n),
		AssignedAt:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Hash:            "provider-hash",
		VerificationURL: "https://verify.example/" + req.DocumentNumber,
	}, nil
}

func (p *fakeProvider) QueryStatus(context.Context, string) (*ControlStatus, error) {
	return nil, errors.New("not supported")
}
