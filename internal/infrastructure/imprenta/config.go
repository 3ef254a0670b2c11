// Package imprenta implements billing.FiscalProvider for digital print
// authorities (imprenta digital) and the factory that selects one.
package imprenta

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects the provider implementation.
type Mode string

const (
	ModeMock        Mode = "mock"
	ModeGenericHTTP Mode = "generic-http"
	ModeCustom      Mode = "custom"
)

// Config configures the provider factory.
type Config struct {
	Mode        Mode
	BaseURL     string
	APIKey      string
	RIF         string
	CompanyName string
	Sandbox     bool

	// Timeout applies to a single HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts per call, first one included.
	MaxRetries int
	// RetryDelay is the base of the linear backoff: attempt n waits RetryDelay*n.
	RetryDelay time.Duration

	// HeadersTemplate is added to every outbound request.
	HeadersTemplate map[string]string
	// PayloadTemplate is merged under every outbound JSON body.
	PayloadTemplate map[string]any

	// Custom names the registered constructor used in ModeCustom.
	Custom string
}

// DefaultConfig returns the mock configuration with HTTP defaults filled in.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeMock,
		Sandbox:    true,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// ParseTemplates decodes the JSON-encoded template settings.
func ParseTemplates(headers, payload string) (map[string]string, map[string]any, error) {
	var h map[string]string
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &h); err != nil {
			return nil, nil, fmt.Errorf("parse headers template: %w", err)
		}
	}
	var p map[string]any
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, nil, fmt.Errorf("parse payload template: %w", err)
		}
	}
	return h, p, nil
}
