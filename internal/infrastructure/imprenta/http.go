package imprenta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"fiscalcore/internal/domain/billing"
	"fiscalcore/pkg/logger"
)

// maxErrorBody caps how much of a failed response ends up in error messages.
const maxErrorBody = 512

// StatusError is returned when the authority answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("imprenta responded %d: %s", e.StatusCode, e.Body)
}

// HTTPProvider talks to an authority with a JSON REST API:
//
//	POST {base}/control-numbers            -> controlResponse
//	GET  {base}/control-numbers/{n}        -> statusResponse
//	POST {base}/control-numbers/{n}/cancel
//
// Authority-specific fields go into the header and payload templates.
type HTTPProvider struct {
	cfg    Config
	client *retryablehttp.Client
}

type controlResponse struct {
	ControlNumber   string         `json:"controlNumber"`
	Hash            string         `json:"hash"`
	VerificationURL string         `json:"verificationUrl"`
	AssignedAt      *time.Time     `json:"assignedAt"`
	Metadata        map[string]any `json:"metadata"`
}

type statusResponse struct {
	ControlNumber string         `json:"controlNumber"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata"`
}

// NewHTTPProvider creates the generic HTTP provider.
func NewHTTPProvider(cfg Config, log *logger.Logger) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("imprenta base url is required for mode %s", ModeGenericHTTP)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid imprenta base url: %w", err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.Timeout
	client.RetryMax = cfg.MaxRetries - 1
	client.Backoff = LinearBackoff(cfg.RetryDelay)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{log.WithComponent("imprenta")}

	return &HTTPProvider{cfg: cfg, client: client}, nil
}

// LinearBackoff waits delay * n before the n-th retry.
func LinearBackoff(delay time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return delay * time.Duration(attemptNum+1)
	}
}

// Name implements billing.FiscalProvider.
func (p *HTTPProvider) Name() string { return "generic-http" }

// RequestControlNumber implements billing.FiscalProvider.
func (p *HTTPProvider) RequestControlNumber(ctx context.Context, req billing.ControlRequest) (*billing.ControlResult, error) {
	body := p.payload(map[string]any{
		"documentId":     req.DocumentID,
		"documentNumber": req.DocumentNumber,
		"documentType":   req.Type,
		"seriesId":       req.SeriesID,
		"customer":       req.Customer,
		"totals":         req.Totals,
	})

	var res controlResponse
	if err := p.do(ctx, http.MethodPost, "/control-numbers", body, &res); err != nil {
		return nil, err
	}
	if res.ControlNumber == "" {
		return nil, fmt.Errorf("imprenta response has no control number")
	}

	assigned := time.Now().UTC()
	if res.AssignedAt != nil {
		assigned = res.AssignedAt.UTC()
	}
	return &billing.ControlResult{
		ControlNumber:   res.ControlNumber,
		Provider:        p.Name(),
		AssignedAt:      assigned,
		Hash:            res.Hash,
		VerificationURL: res.VerificationURL,
		Metadata:        res.Metadata,
	}, nil
}

// QueryStatus implements billing.FiscalProvider.
func (p *HTTPProvider) QueryStatus(ctx context.Context, controlNumber string) (*billing.ControlStatus, error) {
	var res statusResponse
	if err := p.do(ctx, http.MethodGet, "/control-numbers/"+url.PathEscape(controlNumber), nil, &res); err != nil {
		return nil, err
	}
	if res.ControlNumber == "" {
		res.ControlNumber = controlNumber
	}
	return &billing.ControlStatus{
		ControlNumber: res.ControlNumber,
		Status:        res.Status,
		Metadata:      res.Metadata,
	}, nil
}

// CancelDocument implements billing.Canceller.
func (p *HTTPProvider) CancelDocument(ctx context.Context, controlNumber, reason string) error {
	body := p.payload(map[string]any{"reason": reason})
	return p.do(ctx, http.MethodPost, "/control-numbers/"+url.PathEscape(controlNumber)+"/cancel", body, nil)
}

// payload merges the request fields over the configured template.
// Request fields win on conflicting keys.
func (p *HTTPProvider) payload(fields map[string]any) map[string]any {
	out := make(map[string]any, len(p.cfg.PayloadTemplate)+len(fields)+3)
	for k, v := range p.cfg.PayloadTemplate {
		out[k] = v
	}
	out["issuer"] = map[string]any{"rif": p.cfg.RIF, "companyName": p.cfg.CompanyName}
	out["sandbox"] = p.cfg.Sandbox
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal imprenta request: %w", err)
		}
		raw = b
	}

	// retryablehttp replays a byte slice body on every attempt.
	var reqBody any
	if raw != nil {
		reqBody = raw
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return fmt.Errorf("build imprenta request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if p.cfg.RIF != "" {
		req.Header.Set("X-RIF", p.cfg.RIF)
	}
	for k, v := range p.cfg.HeadersTemplate {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("imprenta request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read imprenta response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode imprenta response: %w", err)
	}
	return nil
}

// leveledLogger adapts the application logger to retryablehttp.
type leveledLogger struct {
	l *logger.Logger
}

func (a leveledLogger) Error(msg string, kv ...interface{}) { a.l.Errorw(msg, kv...) }
func (a leveledLogger) Info(msg string, kv ...interface{})  { a.l.Debugw(msg, kv...) }
func (a leveledLogger) Debug(msg string, kv ...interface{}) { a.l.Debugw(msg, kv...) }
func (a leveledLogger) Warn(msg string, kv ...interface{})  { a.l.Warnw(msg, kv...) }

var (
	_ billing.FiscalProvider       = (*HTTPProvider)(nil)
	_ billing.Canceller            = (*HTTPProvider)(nil)
	_ retryablehttp.LeveledLogger = leveledLogger{}
)
