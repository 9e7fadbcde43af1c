package goBioKey

import (
	"errors"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/MrEthical07/goBioKey/challenge"
	"github.com/MrEthical07/goBioKey/keystore"
)

// Builder assembles a Controller. A Builder is single use.
type Builder struct {
	config Config

	store      keystore.SecretStore
	biometric  challenge.Source
	credential challenge.Source

	logger    slog.Logger
	clock     quartz.Clock
	auditSink AuditSink

	built bool
}

// New returns a Builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithKeystore sets the secret store. Required.
func (b *Builder) WithKeystore(store keystore.SecretStore) *Builder {
	b.store = store
	return b
}

// WithBiometric sets the biometric challenge source. Required.
func (b *Builder) WithBiometric(src challenge.Source) *Builder {
	b.biometric = src
	return b
}

// WithDeviceCredential sets the device credential source used by LockOnly
// and by Pending.Fallback. Without it LockOnly reports CodeNotAvailable.
func (b *Builder) WithDeviceCredential(src challenge.Source) *Builder {
	b.credential = src
	return b
}

// WithLogger sets the logger. The zero logger discards everything.
func (b *Builder) WithLogger(logger slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock sets the clock used for settle delays and latency. Tests pass a
// quartz mock.
func (b *Builder) WithClock(clock quartz.Clock) *Builder {
	b.clock = clock
	return b
}

// WithAuditSink sets where audit events go. It has no effect unless
// Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled turns the in-process metrics on.
func (b *Builder) WithMetricsEnabled(latencyHistograms bool) *Builder {
	b.config.Metrics.Enabled = true
	b.config.Metrics.EnableLatencyHistograms = latencyHistograms
	return b
}

// Build validates the configuration and returns the Controller.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, ErrBuilderReused
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("keystore required")
	}
	if b.biometric == nil {
		return nil, errors.New("biometric source required")
	}
	if b.biometric.Kind() != challenge.KindBiometric {
		return nil, errors.New("biometric source reports the wrong kind")
	}
	if b.credential != nil && b.credential.Kind() != challenge.KindDeviceCredential {
		return nil, errors.New("device credential source reports the wrong kind")
	}

	clock := b.clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	cfg.Locale = cfg.Locale.Merge(defaultConfig().Locale)

	c := &Controller{
		config:     cfg,
		store:      b.store,
		biometric:  b.biometric,
		credential: b.credential,
		clock:      clock,
		logger:     b.logger.Named("controller"),
		metrics:    NewMetrics(cfg.Metrics),
		active:     make(map[string]*Pending),
	}
	c.audit = newAuditDispatcher(cfg.Audit, b.auditSink, b.logger)

	b.built = true

	return c, nil
}
