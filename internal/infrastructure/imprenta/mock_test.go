package imprenta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/domain/billing"
)

func sampleRequest() billing.ControlRequest {
	return billing.ControlRequest{
		DocumentID:     "doc-1",
		TenantID:       "t1",
		SeriesID:       "series-1",
		DocumentNumber: "F1",
		Type:           billing.TypeInvoice,
		Customer:       billing.Customer{Name: "ACME", TaxID: "J-123"},
	}
}

func TestMockProvider_DeterministicNumbers(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewMockProvider()
	p.SetClock(func() time.Time { return fixed })

	first, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)
	second, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "00-00000001", first.ControlNumber)
	assert.Equal(t, "00-00000002", second.ControlNumber)
	assert.Equal(t, fixed, first.AssignedAt)
	assert.Equal(t, "mock", first.Provider)
	assert.Len(t, first.Hash, 64)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, "https://imprenta.mock/verify/00-00000001", first.VerificationURL)
}

func TestMockProvider_InjectedFailure(t *testing.T) {
	p := NewMockProvider()
	boom := errors.New("authority offline")

	p.FailWith(boom)
	for i := 0; i < 3; i++ {
		_, err := p.RequestControlNumber(context.Background(), sampleRequest())
		require.ErrorIs(t, err, boom)
	}

	p.FailWith(nil)
	res, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "00-00000001", res.ControlNumber, "failed calls must not consume control numbers")
	assert.Equal(t, 4, p.Calls())
}

func TestMockProvider_FailNext(t *testing.T) {
	p := NewMockProvider()
	p.FailNext(1, errors.New("timeout"))

	_, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.Error(t, err)
	_, err = p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)
}

func TestMockProvider_StatusAndCancel(t *testing.T) {
	p := NewMockProvider()
	res, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)

	st, err := p.QueryStatus(context.Background(), res.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, "assigned", st.Status)

	require.NoError(t, p.CancelDocument(context.Background(), res.ControlNumber, "duplicated"))
	st, err = p.QueryStatus(context.Background(), res.ControlNumber)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", st.Status)

	_, err = p.QueryStatus(context.Background(), "99-unknown")
	assert.Error(t, err)
}
