package imprenta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"fiscalcore/internal/domain/billing"
)

// MockProvider simulates an authority. Control numbers are deterministic
// ("00-00000001", "00-00000002", ...) and failures can be injected.
type MockProvider struct {
	mu        sync.Mutex
	seq       int64
	prefix    string
	failErr   error
	failTimes int
	calls     int
	now       func() time.Time
	issued    map[string]billing.ControlRequest
	cancelled map[string]string
}

// NewMockProvider creates a simulated provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		prefix:    "00-",
		now:       func() time.Time { return time.Now().UTC() },
		issued:    make(map[string]billing.ControlRequest),
		cancelled: make(map[string]string),
	}
}

// Name implements billing.FiscalProvider.
func (m *MockProvider) Name() string { return "mock" }

// FailWith makes every call fail with err until cleared with FailWith(nil).
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failTimes = -1
}

// FailNext makes the next n calls fail with err.
func (m *MockProvider) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	m.failTimes = n
}

// SetClock fixes the assignment time.
func (m *MockProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Calls returns how many control numbers were requested.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) injectedFailure() error {
	if m.failErr == nil || m.failTimes == 0 {
		return nil
	}
	if m.failTimes > 0 {
		m.failTimes--
	}
	return m.failErr
}

// RequestControlNumber implements billing.FiscalProvider.
func (m *MockProvider) RequestControlNumber(ctx context.Context, req billing.ControlRequest) (*billing.ControlResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if err := m.injectedFailure(); err != nil {
		return nil, err
	}

	m.seq++
	control := fmt.Sprintf("%s%08d", m.prefix, m.seq)
	m.issued[control] = req

	sum := sha256.Sum256([]byte(req.DocumentID + "|" + req.DocumentNumber + "|" + control))
	return &billing.ControlResult{
		ControlNumber:   control,
		Provider:        m.Name(),
		AssignedAt:      m.now(),
		Hash:            hex.EncodeToString(sum[:]),
		VerificationURL: "https://imprenta.mock/verify/" + control,
		Metadata:        map[string]any{"sandbox": true},
	}, nil
}

// QueryStatus implements billing.FiscalProvider.
func (m *MockProvider) QueryStatus(_ context.Context, controlNumber string) (*billing.ControlStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason, ok := m.cancelled[controlNumber]; ok {
		return &billing.ControlStatus{
			ControlNumber: controlNumber,
			Status:        "cancelled",
			Metadata:      map[string]any{"reason": reason},
		}, nil
	}
	if _, ok := m.issued[controlNumber]; !ok {
		return nil, fmt.Errorf("control number %s not found", controlNumber)
	}
	return &billing.ControlStatus{ControlNumber: controlNumber, Status: "assigned"}, nil
}

// CancelDocument implements billing.Canceller.
func (m *MockProvider) CancelDocument(_ context.Context, controlNumber, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.issued[controlNumber]; !ok {
		return fmt.Errorf("control number %s not found", controlNumber)
	}
	m.cancelled[controlNumber] = reason
	return nil
}

var (
	_ billing.FiscalProvider = (*MockProvider)(nil)
	_ billing.Canceller      = (*MockProvider)(nil)
)
