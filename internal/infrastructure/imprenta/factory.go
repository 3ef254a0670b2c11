package imprenta

import (
	"fmt"
	"sync"

	"fiscalcore/internal/domain/billing"
	"fiscalcore/pkg/logger"
)

// Constructor builds a custom provider from the factory configuration.
type Constructor func(cfg Config) (billing.FiscalProvider, error)

// Factory builds the configured provider once and hands out the cached
// instance until Reset or Configure. It is owned by the application root
// and injected where needed.
type Factory struct {
	mu       sync.Mutex
	cfg      Config
	log      *logger.Logger
	cached   billing.FiscalProvider
	registry map[string]Constructor
}

// NewFactory creates a factory for cfg.
func NewFactory(cfg Config, log *logger.Logger) *Factory {
	if log == nil {
		log = logger.NewNop()
	}
	return &Factory{
		cfg:      cfg,
		log:      log,
		registry: make(map[string]Constructor),
	}
}

// Register adds a custom provider selectable with Mode custom.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry[name] = ctor
}

// Provider implements billing.ProviderSource.
func (f *Factory) Provider() (billing.FiscalProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return f.cached, nil
	}
	p, err := f.build()
	if err != nil {
		return nil, err
	}
	f.cached = p
	f.log.Infow("fiscal provider ready", "provider", p.Name(), "sandbox", f.cfg.Sandbox)
	return p, nil
}

// Reset drops the cached instance; the next Provider call rebuilds it.
func (f *Factory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = nil
}

// Configure replaces the configuration and drops the cached instance.
func (f *Factory) Configure(cfg Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.cached = nil
}

func (f *Factory) build() (billing.FiscalProvider, error) {
	switch f.cfg.Mode {
	case ModeMock, "":
		return NewMockProvider(), nil
	case ModeGenericHTTP:
		return NewHTTPProvider(f.cfg, f.log)
	case ModeCustom:
		ctor, ok := f.registry[f.cfg.Custom]
		if !ok {
			return nil, fmt.Errorf("custom imprenta provider %q is not registered", f.cfg.Custom)
		}
		return ctor(f.cfg)
	default:
		return nil, fmt.Errorf("unknown imprenta mode %q", f.cfg.Mode)
	}
}

var _ billing.ProviderSource = (*Factory)(nil)
