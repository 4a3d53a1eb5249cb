package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"wildid/internal/models"
	"wildid/internal/security"
)

// InstrumentedEngine wraps a security.Engine with OpenTelemetry tracing and
// metrics: gate decision counters, captcha outcome counters and operation
// latency histograms. Identity fingerprints are never attached as attributes.
type InstrumentedEngine struct {
	inner    security.Engine
	tracer   trace.Tracer
	duration metric.Float64Histogram
	gates    metric.Int64Counter
	captchas metric.Int64Counter
	errors   metric.Int64Counter
}

// NewInstrumentedEngine creates an engine wrapper that records trace spans and
// metrics for every security operation.
func NewInstrumentedEngine(inner security.Engine) (*InstrumentedEngine, error) {
	tracer := otel.Tracer("wildid/security")
	meter := otel.Meter("wildid/security")

	duration, err := meter.Float64Histogram(
		"security.operation.duration",
		metric.WithDescription("Duration of security engine operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	gates, err := meter.Int64Counter(
		"security.gate.decisions",
		metric.WithDescription("Rate gate decisions by result"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	captchas, err := meter.Int64Counter(
		"security.captcha.verifications",
		metric.WithDescription("Captcha verification attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"security.operation.errors",
		metric.WithDescription("Number of security engine operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedEngine{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		gates:    gates,
		captchas: captchas,
		errors:   errCounter,
	}, nil
}

func (e *InstrumentedEngine) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "security."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("security.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (e *InstrumentedEngine) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	e.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		e.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (e *InstrumentedEngine) CanProceed(ctx context.Context, identity, action string) (bool, string, error) {
	ctx, span := e.startSpan(ctx, "CanProceed", attribute.String("action", action))
	start := time.Now()
	allowed, reason, err := e.inner.CanProceed(ctx, identity, action)

	decision := "allowed"
	if err != nil {
		decision = "error"
	} else if !allowed {
		decision = "denied"
	}
	e.gates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("decision", decision),
	))
	span.SetAttributes(attribute.Bool("allowed", allowed))

	e.record(ctx, span, "CanProceed", start, err)
	return allowed, reason, err
}

func (e *InstrumentedEngine) RecordRequest(ctx context.Context, identity, action string) error {
	ctx, span := e.startSpan(ctx, "RecordRequest", attribute.String("action", action))
	start := time.Now()
	err := e.inner.RecordRequest(ctx, identity, action)
	e.record(ctx, span, "RecordRequest", start, err)
	return err
}

func (e *InstrumentedEngine) Status(ctx context.Context, identity string) (*models.SecurityStatus, error) {
	ctx, span := e.startSpan(ctx, "Status")
	start := time.Now()
	status, err := e.inner.Status(ctx, identity)
	e.record(ctx, span, "Status", start, err)
	return status, err
}

func (e *InstrumentedEngine) IssueChallenge(ctx context.Context, identity string) (*models.CaptchaResponse, error) {
	ctx, span := e.startSpan(ctx, "IssueChallenge")
	start := time.Now()
	resp, err := e.inner.IssueChallenge(ctx, identity)
	e.record(ctx, span, "IssueChallenge", start, err)
	return resp, err
}

func (e *InstrumentedEngine) VerifyChallenge(ctx context.Context, identity, challengeID, answer string) (security.Outcome, error) {
	ctx, span := e.startSpan(ctx, "VerifyChallenge")
	start := time.Now()
	outcome, err := e.inner.VerifyChallenge(ctx, identity, challengeID, answer)

	if err == nil {
		e.captchas.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome.Code()),
		))
		span.SetAttributes(attribute.String("outcome", outcome.Code()))
	}

	e.record(ctx, span, "VerifyChallenge", start, err)
	return outcome, err
}
