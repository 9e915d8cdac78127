package tgs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans around the engine's network-bound steps. A nil
// Tracer disables tracing. This replaces the debug-print side channel
// the source implementation used: every probe, referral, and delegate
// flag change is a typed event rather than an ad hoc log line, and
// nothing here is ever handed a session key.
type Tracer interface {
	// StartExchange starts a span around one KDC exchange (C1).
	StartExchange(ctx context.Context, realm string, server Principal) (context.Context, trace.Span)

	// StartReferralResolution starts a span around one resolveReferrals
	// call (C5), tagged with the correlation ID the caller assigned to
	// this acquisition.
	StartReferralResolution(ctx context.Context, acquisitionID string, server Principal) (context.Context, trace.Span)

	// StartCapathTraversal starts a span around one tgtForRealm call (C4).
	StartCapathTraversal(ctx context.Context, acquisitionID, localRealm, serviceRealm string) (context.Context, trace.Span)

	// ProbeAttempt records a capath probe from one realm to another.
	ProbeAttempt(ctx context.Context, from, to string)

	// ReferralObserved records that the KDC referred the caller to realm.
	ReferralObserved(ctx context.Context, realm string)

	// DelegateFlagCleared records that the delegate flag was cleared at
	// the named realm.
	DelegateFlagCleared(ctx context.Context, atRealm string)
}

// otelTracer is the production Tracer, wired to internal/telemetry the
// same way internal/telemetry.StartCacheSpan/StartMetadataSpan wrap
// their respective subsystems.
type otelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer returns a Tracer backed by the given OpenTelemetry
// tracer. Pass internal/telemetry.Tracer() from the host process to wire
// it into the rest of DittoFS's tracing pipeline.
func NewOtelTracer(tracer trace.Tracer) Tracer {
	return &otelTracer{tracer: tracer}
}

func (t *otelTracer) StartExchange(ctx context.Context, realm string, server Principal) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "krb5.tgs.exchange", trace.WithAttributes(
		attribute.String("krb5.realm", realm),
		attribute.String("krb5.server_principal", server.String()),
	))
}

func (t *otelTracer) StartReferralResolution(ctx context.Context, acquisitionID string, server Principal) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "krb5.tgs.referral_resolution", trace.WithAttributes(
		attribute.String("krb5.acquisition_id", acquisitionID),
		attribute.String("krb5.server_principal", server.String()),
	))
}

func (t *otelTracer) StartCapathTraversal(ctx context.Context, acquisitionID, localRealm, serviceRealm string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "krb5.tgs.capath_traversal", trace.WithAttributes(
		attribute.String("krb5.acquisition_id", acquisitionID),
		attribute.String("krb5.local_realm", localRealm),
		attribute.String("krb5.service_realm", serviceRealm),
	))
}

func (t *otelTracer) ProbeAttempt(ctx context.Context, from, to string) {
	_, span := t.tracer.Start(ctx, "krb5.tgs.capath_probe", trace.WithAttributes(
		attribute.String("krb5.from_realm", from),
		attribute.String("krb5.to_realm", to),
	))
	span.End()
}

func (t *otelTracer) ReferralObserved(ctx context.Context, realm string) {
	_, span := t.tracer.Start(ctx, "krb5.tgs.referral", trace.WithAttributes(
		attribute.String("krb5.referred_realm", realm),
	))
	span.End()
}

func (t *otelTracer) DelegateFlagCleared(ctx context.Context, atRealm string) {
	_, span := t.tracer.Start(ctx, "krb5.tgs.delegate_cleared", trace.WithAttributes(
		attribute.String("krb5.realm", atRealm),
	))
	span.End()
}

func startExchangeSpan(ctx context.Context, tr Tracer, realm string, server Principal) (context.Context, trace.Span) {
	if tr == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tr.StartExchange(ctx, realm, server)
}

func startReferralResolutionSpan(ctx context.Context, tr Tracer, acquisitionID string, server Principal) (context.Context, trace.Span) {
	if tr == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tr.StartReferralResolution(ctx, acquisitionID, server)
}

func startCapathTraversalSpan(ctx context.Context, tr Tracer, acquisitionID, localRealm, serviceRealm string) (context.Context, trace.Span) {
	if tr == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tr.StartCapathTraversal(ctx, acquisitionID, localRealm, serviceRealm)
}

func traceProbe(ctx context.Context, tr Tracer, from, to string) {
	if tr != nil {
		tr.ProbeAttempt(ctx, from, to)
	}
}

func traceReferral(ctx context.Context, tr Tracer, realm string) {
	if tr != nil {
		tr.ReferralObserved(ctx, realm)
	}
}

func traceDelegateCleared(ctx context.Context, tr Tracer, atRealm string) {
	if tr != nil {
		tr.DelegateFlagCleared(ctx, atRealm)
	}
}
