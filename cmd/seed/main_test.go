package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/core/numerator"
	"fiscalcore/internal/domain/billing"
	"fiscalcore/pkg/logger"
)

type fakeSeries struct {
	existing []*numerator.Sequence
	created  []billing.SeriesInput
	failOn   billing.DocumentType
}

func (f *fakeSeries) List(context.Context, string) ([]*numerator.Sequence, error) {
	return f.existing, nil
}

func (f *fakeSeries) Create(_ context.Context, tenantID string, in billing.SeriesInput) (*numerator.Sequence, error) {
	if in.Type == f.failOn {
		return nil, errors.New("duplicate")
	}
	f.created = append(f.created, in)
	return &numerator.Sequence{TenantID: tenantID, Type: string(in.Type), Prefix: in.Prefix, IsDefault: in.IsDefault}, nil
}

func TestSeedSeries_CreatesOnePerType(t *testing.T) {
	fake := &fakeSeries{}

	require.NoError(t, seedSeries(context.Background(), fake, "acme", logger.NewNop()))

	require.Len(t, fake.created, len(defaultSeries))
	for _, in := range fake.created {
		assert.True(t, in.IsDefault)
		assert.True(t, in.Type.IsValid())
	}
}

func TestSeedSeries_SkipsExistingDefaults(t *testing.T) {
	fake := &fakeSeries{existing: []*numerator.Sequence{
		{Type: string(billing.TypeInvoice), IsDefault: true},
		{Type: string(billing.TypeQuote), IsDefault: false},
	}}

	require.NoError(t, seedSeries(context.Background(), fake, "acme", logger.NewNop()))

	require.Len(t, fake.created, len(defaultSeries)-1)
	for _, in := range fake.created {
		assert.NotEqual(t, billing.TypeInvoice, in.Type)
	}
}

func TestSeedSeries_StopsOnError(t *testing.T) {
	fake := &fakeSeries{failOn: billing.TypeCreditNote}

	err := seedSeries(context.Background(), fake, "acme", logger.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "credit_note")
	assert.Len(t, fake.created, 1)
}
