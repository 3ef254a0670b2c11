package imprenta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalcore/pkg/logger"
)

func httpConfig(baseURL string) Config {
	return Config{
		Mode:            ModeGenericHTTP,
		BaseURL:         baseURL,
		APIKey:          "secret",
		RIF:             "J-12345678-9",
		CompanyName:     "Demo C.A.",
		Sandbox:         true,
		Timeout:         time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Millisecond,
		HeadersTemplate: map[string]string{"X-Channel": "pos"},
		PayloadTemplate: map[string]any{"branch": "001", "documentId": "overridden"},
	}
}

func TestHTTPProvider_RequestControlNumber(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/control-numbers", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "J-12345678-9", r.Header.Get("X-RIF"))
		assert.Equal(t, "pos", r.Header.Get("X-Channel"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"controlNumber":"00-777","hash":"abc","verificationUrl":"https://x/v/00-777","assignedAt":"2026-02-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(httpConfig(srv.URL), logger.NewNop())
	require.NoError(t, err)

	res, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "00-777", res.ControlNumber)
	assert.Equal(t, "generic-http", res.Provider)
	assert.Equal(t, "abc", res.Hash)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), res.AssignedAt)

	assert.Equal(t, "001", got["branch"], "template fields are sent")
	assert.Equal(t, "doc-1", got["documentId"], "request fields win over the template")
	assert.Equal(t, true, got["sandbox"])
	assert.Equal(t, map[string]any{"rif": "J-12345678-9", "companyName": "Demo C.A."}, got["issuer"])
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"controlNumber":"00-1"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(httpConfig(srv.URL), logger.NewNop())
	require.NoError(t, err)

	res, err := p.RequestControlNumber(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "00-1", res.ControlNumber)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down for maintenance", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(httpConfig(srv.URL), logger.NewNop())
	require.NoError(t, err)

	_, err = p.RequestControlNumber(context.Background(), sampleRequest())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "down for maintenance")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid RIF"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(httpConfig(srv.URL), logger.NewNop())
	require.NoError(t, err)

	_, err = p.RequestControlNumber(context.Background(), sampleRequest())
	require.ErrorContains(t, err, "invalid RIF")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProvider_QueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/control-numbers/00-5", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"assigned"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(httpConfig(srv.URL), logger.NewNop())
	require.NoError(t, err)

	st, err := p.QueryStatus(context.Background(), "00-5")
	require.NoError(t, err)
	assert.Equal(t, "00-5", st.ControlNumber)
	assert.Equal(t, "assigned", st.Status)
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(0, 0, 0, nil))
	assert.Equal(t, 200*time.Millisecond, b(0, 0, 1, nil))
	assert.Equal(t, 300*time.Millisecond, b(0, 0, 2, nil))
}

func TestNewHTTPProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPProvider(Config{Mode: ModeGenericHTTP}, logger.NewNop())
	assert.Error(t, err)
}
