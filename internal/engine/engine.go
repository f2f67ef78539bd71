package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/metrics"
	"github.com/mailchimp/Firebase/internal/retry"
)

// FlowTokenGenerator generates correlation tokens for queued events.
// Implemented by UUIDv7Generator and testutil.SequenceGenerator.
type FlowTokenGenerator interface {
	Generate() string
}

// ClientFactory builds the audience client for a configuration. A
// *config.InitError result leaves the engine uninitialized.
type ClientFactory func(cfg *config.Config) (audience.Client, error)

// DefaultClientFactory parses the API key and returns an HTTP client.
func DefaultClientFactory(opts ...audience.Option) ClientFactory {
	return func(cfg *config.Config) (audience.Client, error) {
		creds, err := config.ParseCredentials(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return audience.NewClient(creds, opts...), nil
	}
}

// snapshot is everything a handler reads. It is never mutated after
// Reconfigure publishes it.
type snapshot struct {
	cfg    *config.Config
	client audience.Client
	retry  *retry.Policy
}

// Engine dispatches triggers to the sync handlers.
//
// Thread-safety model:
//   - Enqueue, Reconfigure, Configure and the Handle*/Sync* methods are safe
//     from any goroutine.
//   - Run must be called from exactly one goroutine.
type Engine struct {
	rt atomic.Pointer[snapshot]

	queue   *eventQueue
	clock   *Clock
	flowGen FlowTokenGenerator

	newClient ClientFactory
	retryOpts []retry.Option
	metrics   *metrics.Collector

	base   *slog.Logger
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFlowGenerator sets the generator for event flow tokens.
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(e *Engine) { e.flowGen = g }
}

// WithClientFactory replaces DefaultClientFactory.
func WithClientFactory(f ClientFactory) Option {
	return func(e *Engine) { e.newClient = f }
}

// WithRetryOptions adds options to every retry policy the engine builds,
// typically a test clock.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(e *Engine) { e.retryOpts = append(e.retryOpts, opts...) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.base = l }
}

// New creates an unconfigured Engine. Until Configure or Reconfigure runs,
// every handler reports ErrCodeNotInitialized.
func New(opts ...Option) *Engine {
	e := &Engine{
		queue:   newEventQueue(),
		clock:   NewClock(),
		flowGen: UUIDv7Generator{},
		base:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newClient == nil {
		e.newClient = DefaultClientFactory(audience.WithMetrics(e.metrics))
	}
	e.logger = e.base.With("component", "engine")

	e.Reconfigure(&config.Config{ContactStatus: config.DefaultContactStatus}, nil)
	return e
}

// Configure normalizes raw, builds the audience client and publishes the
// result. Feature diagnostics are returned and counted; they never stop
// the other features. A non-nil error is the client initialization
// failure, after which the engine stays up but uninitialized.
func (e *Engine) Configure(raw config.Raw) ([]config.Diagnostic, error) {
	cfg, diags := config.Normalize(raw, e.base)
	for _, d := range diags {
		e.metrics.ConfigDiagnostic(d.Key, d.Code)
	}

	client, err := e.newClient(cfg)
	if err != nil {
		e.logger.Error("audience client initialization failed", "error", err)
		client = nil
	}
	e.Reconfigure(cfg, client)
	return diags, err
}

// Reconfigure atomically replaces the config and client. A nil client
// leaves the engine uninitialized.
func (e *Engine) Reconfigure(cfg *config.Config, client audience.Client) {
	opts := append([]retry.Option{
		retry.WithLogger(e.base),
		retry.WithMetrics(e.metrics),
	}, e.retryOpts...)

	e.rt.Store(&snapshot{
		cfg:    cfg,
		client: client,
		retry:  retry.New(cfg.RetryAttempts, opts...),
	})
	e.logger.Info("configuration applied",
		"audience_id", cfg.AudienceID,
		"initialized", client != nil,
		"member_tags", cfg.MemberTags != nil,
		"merge_fields", cfg.MergeFields != nil,
		"member_events", cfg.MemberEvents != nil)
}

// Config returns the current configuration.
func (e *Engine) Config() *config.Config {
	return e.rt.Load().cfg
}

// Initialized reports whether an audience client is configured.
func (e *Engine) Initialized() bool {
	return e.rt.Load().client != nil
}

// Enqueue submits an event to the Run loop, stamping Flow and Seq. It
// returns false once the engine is stopped.
func (e *Engine) Enqueue(ev Event) bool {
	if ev.Flow == "" {
		ev.Flow = e.flowGen.Generate()
	}
	if ev.Seq == 0 {
		ev.Seq = e.clock.Next()
	}
	return e.queue.Enqueue(ev)
}

// QueueLen returns the number of events waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run drains the event queue until ctx is done or Stop is called.
//
// Handler failures are logged and the loop continues; remote calls are
// fire-and-forget side effects of the writes that triggered them.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if event, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so this also
			// fires on Stop.
			if e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue, which makes Run return once it is empty.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) processEvent(ctx context.Context, ev Event) {
	log := e.logger.With("flow", ev.Flow, "seq", ev.Seq, "event", ev.Type.String())
	rt := e.rt.Load()

	switch ev.Type {
	case EventUserCreated:
		e.handleUserCreated(ctx, rt, log, ev.User)
	case EventUserDeleted:
		e.handleUserDeleted(ctx, rt, log, ev.User)
	case EventDocumentWritten:
		e.handleDocumentWrite(ctx, rt, log, ev.Path, ev.Before, ev.After)
	default:
		log.Error("unknown event type", "type", int(ev.Type))
	}
}
