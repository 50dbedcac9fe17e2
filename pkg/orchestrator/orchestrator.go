package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/assaylab/assay/internal/metrics"
	"github.com/assaylab/assay/internal/tracing"
	"github.com/assaylab/assay/pkg/capability"
	"github.com/assaylab/assay/pkg/provider"
	"github.com/assaylab/assay/pkg/validate"
)

// AuditSink receives terminal run results. Sink failures are logged, never
// propagated: persistence is an observer of the engine, not a dependency.
type AuditSink interface {
	RecordRun(ctx context.Context, result *Result) error
}

// Engine drives validation-gated runs against a provider gateway.
type Engine struct {
	gateway      provider.Gateway
	validators   *validate.Registry
	capabilities capability.Executor
	sink         AuditSink
	logger       zerolog.Logger

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithCapabilities sets the executor used to resolve and run tool calls.
func WithCapabilities(executor capability.Executor) Option {
	return func(e *Engine) {
		e.capabilities = executor
	}
}

// WithAuditSink sets the sink that receives terminal run results.
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// New creates an Engine. The gateway and validator registry are required;
// everything else arrives through options.
func New(gateway provider.Gateway, validators *validate.Registry, opts ...Option) (*Engine, error) {
	metrics.EnsureRegistered()

	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if validators == nil {
		return nil, fmt.Errorf("validator registry is required")
	}

	e := &Engine{
		gateway:    gateway,
		validators: validators,
		activeRuns: make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Run executes one validation-gated task to a terminal outcome. A nil error
// means the Result's status is SUCCESS or NEEDS_HUMAN_REVIEW; errors are
// reserved for fatal conditions (provider fatal errors, configuration
// errors, transient exhaustion, cancellation, budget expiry).
func (e *Engine) Run(ctx context.Context, cfg RequestConfig) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request config: %w", err)
	}

	runID := cfg.RunID
	if runID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to mint run ID: %w", err)
		}
		runID = id
	}
	ctx = tracing.WithRunID(ctx, runID)

	ctx, span := tracing.StartSpan(
		ctx,
		"assay.orchestrator",
		"orchestrator.run",
		attribute.String("run_id", runID),
		attribute.String("model", cfg.Model),
	)
	defer span.End()

	budget := cfg.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	e.registerRun(runID, cancel)
	defer e.unregisterRun(runID)

	logger := tracing.LoggerFromContext(runCtx, e.logger)
	logger.Info().
		Str("model", cfg.Model).
		Int("validators", len(cfg.Validators)).
		Msg("Run started")

	started := time.Now()
	result, err := e.execute(runCtx, runID, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRun("failed", time.Since(started))
		logger.Error().Err(err).Msg("Run failed")

		if result == nil {
			result = &Result{
				ID:       runID,
				Status:   StatusFailed,
				Error:    err.Error(),
				Duration: time.Since(started),
			}
		}
		e.recordAudit(ctx, result)
		return nil, err
	}

	metrics.RecordRun(strings.ToLower(string(result.Status)), result.Duration)
	logger.Info().
		Str("status", string(result.Status)).
		Int("provider_calls", result.ProviderCalls).
		Int("attempts", len(result.Attempts)).
		Dur("duration", result.Duration).
		Msg("Run finished")

	e.recordAudit(ctx, result)
	return result, nil
}

// Abort cancels an in-flight run. Aborting an unknown run ID is a no-op.
func (e *Engine) Abort(runID string) error {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	cancel, exists := e.activeRuns[runID]
	if !exists {
		e.logger.Debug().Str("run_id", runID).Msg("No active run to abort")
		return nil
	}

	e.logger.Info().Str("run_id", runID).Msg("Aborting run")
	cancel()
	delete(e.activeRuns, runID)
	metrics.SetActiveRuns(len(e.activeRuns))

	return nil
}

// IsRunning reports whether a run is currently in flight.
func (e *Engine) IsRunning(runID string) bool {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()

	_, exists := e.activeRuns[runID]
	return exists
}

func (e *Engine) registerRun(runID string, cancel context.CancelFunc) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	e.activeRuns[runID] = cancel
	metrics.SetActiveRuns(len(e.activeRuns))
}

func (e *Engine) unregisterRun(runID string) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	delete(e.activeRuns, runID)
	metrics.SetActiveRuns(len(e.activeRuns))
}

func (e *Engine) recordAudit(ctx context.Context, result *Result) {
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordRun(ctx, result); err != nil {
		e.logger.Error().
			Err(err).
			Str("run_id", result.ID).
			Msg("Failed to record run in audit sink")
	}
}
