package executionlog

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gsoc2/novu/internal/domain"
	"github.com/gsoc2/novu/internal/infrastructure/observability"
	"github.com/gsoc2/novu/internal/worker"
)

// SpanName names the span wrapping one execution-log job.
const SpanName = "execution-log-worker"

// Executor runs the create use case.
type Executor interface {
	Execute(ctx context.Context, cmd CreateExecutionDetailsCommand) (ExecutionDetail, error)
}

// Processor handles execution-logs jobs.
type Processor struct {
	executor Executor
	tracer   trace.Tracer
	logger   *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) ProcessorOption {
	return func(p *Processor) { p.tracer = tracer }
}

// NewProcessor creates a processor.
func NewProcessor(executor Executor, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor: executor,
		tracer:   observability.Tracer(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process is a worker.Handler. The span covers the whole unit of work and
// ends after Execute resolves. Errors are recorded and returned.
func (p *Processor) Process(ctx context.Context, job *worker.Job) (err error) {
	ctx, span := p.tracer.Start(ctx, SpanName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", job.Topic),
			attribute.String("messaging.message.id", job.ID),
			attribute.Int("job.attempt", job.Attempt),
		))
	defer func() {
		if err != nil {
			observability.RecordError(span, err)
		}
		span.End()
	}()

	var cmd CreateExecutionDetailsCommand
	if err := json.Unmarshal(job.Payload, &cmd); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "malformed execution details payload", err)
	}

	span.SetAttributes(observability.StringAttrs(map[string]string{
		"novu.job_id":          cmd.JobID,
		"novu.environment_id":  cmd.EnvironmentID,
		"novu.organization_id": cmd.OrganizationID,
		"novu.transaction_id":  cmd.TransactionID,
	})...)

	logger := p.logger.With(
		slog.String("job_id", cmd.JobID),
		slog.String("environment_id", cmd.EnvironmentID),
		slog.String("transaction_id", cmd.TransactionID),
	)
	ctx = observability.WithLogger(ctx, logger)

	observability.LoggerFromContext(ctx, p.logger).Debug("inserting job into execution details")

	_, err = p.executor.Execute(ctx, cmd)
	return err
}
