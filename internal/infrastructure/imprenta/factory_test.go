package imprenta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/internal/domain/billing"
)

func TestFactory_CachesInstance(t *testing.T) {
	f := NewFactory(DefaultConfig(), nil)

	a, err := f.Provider()
	require.NoError(t, err)
	b, err := f.Provider()
	require.NoError(t, err)
	assert.Same(t, a, b)

	f.Reset()
	c, err := f.Provider()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestFactory_Configure(t *testing.T) {
	f := NewFactory(DefaultConfig(), nil)
	mock, err := f.Provider()
	require.NoError(t, err)
	assert.Equal(t, "mock", mock.Name())

	cfg := DefaultConfig()
	cfg.Mode = ModeGenericHTTP
	cfg.BaseURL = "https://imprenta.example.com/api"
	f.Configure(cfg)

	p, err := f.Provider()
	require.NoError(t, err)
	assert.Equal(t, "generic-http", p.Name())
}

func TestFactory_Custom(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeCustom
	cfg.Custom = "acme"
	f := NewFactory(cfg, nil)

	_, err := f.Provider()
	require.Error(t, err, "unregistered custom provider")

	custom := NewMockProvider()
	f.Register("acme", func(Config) (billing.FiscalProvider, error) { return custom, nil })
	p, err := f.Provider()
	require.NoError(t, err)
	assert.Same(t, custom, p)
}

func TestFactory_UnknownMode(t *testing.T) {
	f := NewFactory(Config{Mode: "fax"}, nil)
	_, err := f.Provider()
	assert.ErrorContains(t, err, "unknown imprenta mode")
}

func TestParseTemplates(t *testing.T) {
	h, p, err := ParseTemplates(`{"X-Key":"1"}`, `{"branch":"002"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Key": "1"}, h)
	assert.Equal(t, map[string]any{"branch": "002"}, p)

	_, _, err = ParseTemplates(`{`, "")
	assert.Error(t, err)
}
