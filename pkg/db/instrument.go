package db

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ammar0144/persist4go/pkg/db"

// Instrument decorates a backend with statement logging and tracing spans.
// Logging follows cfg; spans go to the global tracer provider.
func Instrument(inner Backend, cfg LoggingConfig, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{
		inner:  inner,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

type instrumented struct {
	inner  Backend
	cfg    LoggingConfig
	logger *slog.Logger
	tracer trace.Tracer
}

func (b *instrumented) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &instrumentedTx{inner: tx, backend: b}, nil
}

type instrumentedTx struct {
	inner   Tx
	backend *instrumented
}

func (t *instrumentedTx) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	ctx, span := t.backend.start(ctx, "db.query", query)
	defer span.End()

	start := time.Now()
	rs, err := t.inner.Query(ctx, query, args...)
	t.backend.observe(ctx, span, query, args, time.Since(start), rs.Len(), err)
	return rs, err
}

func (t *instrumentedTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	ctx, span := t.backend.start(ctx, "db.exec", query)
	defer span.End()

	start := time.Now()
	res, err := t.inner.Exec(ctx, query, args...)
	t.backend.observe(ctx, span, query, args, time.Since(start), int(res.RowsAffected), err)
	return res, err
}

func (t *instrumentedTx) Commit() error {
	return t.inner.Commit()
}

func (t *instrumentedTx) Rollback() error {
	return t.inner.Rollback()
}

func (b *instrumented) start(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.statement", query)),
	)
}

func (b *instrumented) observe(ctx context.Context, span trace.Span, query string, args []any, elapsed time.Duration, rows int, err error) {
	span.SetAttributes(attribute.Int("db.rows", rows))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := []any{"sql", query, "duration", elapsed, "rows", rows}
	if b.cfg.LogQueryParameters {
		attrs = append(attrs, "params", args)
	}
	if err != nil {
		b.logger.ErrorContext(ctx, "statement failed", append(attrs, "error", err)...)
		return
	}
	if b.cfg.LogSlowQueries && elapsed >= b.cfg.SlowQueryThreshold {
		b.logger.WarnContext(ctx, "slow statement", attrs...)
		return
	}
	if b.cfg.LogQueries {
		b.logger.DebugContext(ctx, "statement", attrs...)
	}
}
