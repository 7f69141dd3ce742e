// Package agentswarm provides a top-level convenience entry point for
// assembling a multi-agent collaboration engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentswarm"
//
//	eng, err := agentswarm.New(
//		agentswarm.WithAgents(researcher, critic, editor),
//		agentswarm.WithMode(engine.Debate{MaxRounds: 4, ConvergenceThreshold: 0.8}),
//	)
//	result, err := eng.Run(ctx, "Draft the launch announcement.", 4)
//
// This is a thin wrapper around [engine.New]; agents are built separately
// via [agent.New] so their clients, personas and budgets stay explicit.
package agentswarm

import (
	"context"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/agent"
	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/engine"
	"github.com/BaSui01/agentswarm/internal/metrics"
	"github.com/BaSui01/agentswarm/internal/migration"
	"github.com/BaSui01/agentswarm/internal/telemetry"
	"github.com/BaSui01/agentswarm/pool"
	"github.com/BaSui01/agentswarm/types"
)

// Option configures the engine created by [New].
type Option func(*options)

type options struct {
	mode             engine.Mode
	agents           []*agent.Agent
	cfg              *config.Config
	logger           *zap.Logger
	callTimeout      time.Duration
	metricsNamespace string
	tracerSet        bool

	// Forwarded engine options, applied in the order given.
	engineOpts []engine.Option
}

// WithAgents appends participants. May be given multiple times.
func WithAgents(agents ...*agent.Agent) Option {
	return func(o *options) { o.agents = append(o.agents, agents...) }
}

// WithMode sets the collaboration mode. Takes precedence over the
// default mode derived from [WithConfig].
func WithMode(m engine.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithConfig supplies application configuration. The engine section fills
// in defaults that explicit options leave unset: the collaboration mode
// (parallel, round_robin and debate only — the structural modes need ids
// or tasks and must be passed via [WithMode]) and the per-call timeout.
// When no logger is set, one is built from the log section.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEventBus routes run events through the given bus.
func WithEventBus(bus *engine.EventBus) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, engine.WithEventBus(bus)) }
}

// WithFallback registers a substitute agent consulted when the primary fails.
func WithFallback(agentID string, substitute *agent.Agent) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, engine.WithFallback(agentID, substitute)) }
}

// WithPoolStore sets the task pool store for DecentralizedPool runs.
func WithPoolStore(store pool.Store) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, engine.WithPoolStore(store)) }
}

// WithSystemContext prepends shared context to every agent's system prompt.
func WithSystemContext(prompt string) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, engine.WithSystemContext(prompt)) }
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithTracer emits a span per run and per agent call through the given
// tracer. When [WithConfig] enables telemetry and no tracer is given, the
// module tracer on the global provider is used.
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		o.tracerSet = true
		o.engineOpts = append(o.engineOpts, engine.WithTracer(t))
	}
}

// WithMetricsNamespace enables Prometheus metrics under the given namespace.
// The collector is a process-wide singleton; every engine shares it and the
// namespace of the first caller wins.
func WithMetricsNamespace(namespace string) Option {
	return func(o *options) { o.metricsNamespace = namespace }
}

// New assembles a ready-to-run Engine. A collaboration mode is required,
// either explicitly via [WithMode] or derived from [WithConfig].
func New(opts ...Option) (*engine.Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.cfg != nil {
		if err := o.cfg.Validate(); err != nil {
			return nil, err
		}
		if o.callTimeout == 0 {
			o.callTimeout = o.cfg.Engine.CallTimeout
		}
		if o.mode == nil {
			mode, err := modeFromConfig(o.cfg.Engine)
			if err != nil {
				return nil, err
			}
			o.mode = mode
		}
		if o.logger == nil {
			logger, err := o.cfg.Log.Build()
			if err != nil {
				return nil, err
			}
			o.logger = logger
		}
	}

	if o.mode == nil {
		return nil, types.NewError(types.ErrCodeInvalidConfig,
			"collaboration mode is required: use WithMode or WithConfig")
	}

	eopts := o.engineOpts
	if o.logger != nil {
		eopts = append(eopts, engine.WithLogger(o.logger))
	}
	if o.callTimeout > 0 {
		eopts = append(eopts, engine.WithCallTimeout(o.callTimeout))
	}
	if o.metricsNamespace != "" {
		mlogger := o.logger
		if mlogger == nil {
			mlogger = zap.NewNop()
		}
		eopts = append(eopts, engine.WithMetrics(metrics.Default(o.metricsNamespace, mlogger)))
	}
	if o.cfg != nil && o.cfg.Telemetry.Enabled && !o.tracerSet {
		eopts = append(eopts, engine.WithTracer(telemetry.Tracer()))
	}

	return engine.New(o.mode, o.agents, eopts...)
}

// StartTelemetry wires OTLP trace/metric export per the telemetry section
// and returns a shutdown function that flushes pending spans. Call it once
// at process start and defer the shutdown:
//
//	shutdown, err := agentswarm.StartTelemetry(cfg.Telemetry, logger)
//	if err != nil { ... }
//	defer shutdown(ctx)
//
// With telemetry disabled the returned shutdown is a cheap no-op, so callers
// never need to branch on cfg.Telemetry.Enabled themselves.
func StartTelemetry(cfg config.TelemetryConfig, logger *zap.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	providers, err := telemetry.Init(cfg, logger)
	if err != nil {
		return nil, err
	}
	return providers.Shutdown, nil
}

// MigratePoolSchema brings the task pool schema up to the latest version
// using the embedded versioned migrations. Run it once at deploy time;
// [pool.OpenDatabaseStore] afterwards finds the schema already in place.
// Supports postgres, mysql and sqlite.
func MigratePoolSchema(ctx context.Context, cfg config.DatabaseConfig) error {
	m, err := migration.NewMigratorFromDatabaseConfig(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(ctx)
}

// modeFromConfig maps the configured default mode onto a Mode value.
// Only modes that need no per-run identities or tasks can be defaulted.
func modeFromConfig(ec config.EngineConfig) (engine.Mode, error) {
	switch ec.DefaultMode {
	case "parallel":
		return engine.Parallel{}, nil
	case "round_robin":
		return engine.RoundRobin{}, nil
	case "debate":
		return engine.Debate{
			MaxRounds:            ec.DefaultRounds,
			ConvergenceThreshold: ec.ConvergenceThreshold,
		}, nil
	default:
		return nil, types.NewErrorf(types.ErrCodeInvalidConfig,
			"default mode %q needs explicit construction, pass it via WithMode", ec.DefaultMode)
	}
}
