// Package otel provides OpenTelemetry tracing for the oru boot sequence.
//
// # Span Hierarchy
//
//	oru.connect
//	└── oru.address_exchange
//
//	oru.discover
//	├── oru.dial                 (one per discovered peer)
//	├── oru.reservation          (empty discovery)
//	└── oru.register
//
// # Attributes
//
//   - peer.id: the remote peer (introducer, relay, rendezvous or target)
//   - net.addr: the address being dialed or listened on
//   - rendezvous.namespace: the registration namespace
//   - rendezvous.registrations: number of registrations discovered
//   - result: "accepted", "failed", "success", ...
//
// # Example Usage
//
//	tp := sdktrace.NewTracerProvider(...)
//	cfg := oru.NewConfig(oru.WithTracerProvider(tp))
//	node, err := oru.New(cfg)
package otel

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the OpenTelemetry tracer.
	TracerName = "github.com/Great1ng/oru"

	// Span names
	SpanConnect         = "oru.connect"
	SpanAddressExchange = "oru.address_exchange"
	SpanReservation     = "oru.reservation"
	SpanRegister        = "oru.register"
	SpanDiscover        = "oru.discover"
	SpanDial            = "oru.dial"

	// Attribute keys
	AttrPeerID        = "peer.id"
	AttrAddr          = "net.addr"
	AttrNamespace     = "rendezvous.namespace"
	AttrRegistrations = "rendezvous.registrations"
	AttrResult        = "result"
	AttrErrorMessage  = "error.message"
)

// Tracer creates spans for the boot sequence.
//
// Tracer is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the given TracerProvider.
// If provider is nil, a no-op tracer is used.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// StartConnect starts a span covering Connect.
func (t *Tracer) StartConnect(ctx context.Context, introducer string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanConnect,
		trace.WithAttributes(attribute.String(AttrAddr, introducer)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartAddressExchange starts a span for the identify round trip with the
// introducer.
func (t *Tracer) StartAddressExchange(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAddressExchange)
}

// StartReservation starts a span for a relay reservation attempt.
func (t *Tracer) StartReservation(ctx context.Context, relay peer.ID, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanReservation,
		trace.WithAttributes(
			attribute.String(AttrPeerID, relay.String()),
			attribute.Int("attempt", attempt),
		),
	)
}

// StartRegister starts a span for a rendezvous registration.
func (t *Tracer) StartRegister(ctx context.Context, rendezvous peer.ID, ns string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRegister,
		trace.WithAttributes(
			attribute.String(AttrPeerID, rendezvous.String()),
			attribute.String(AttrNamespace, ns),
		),
	)
}

// StartDiscover starts a span for a discovery round.
func (t *Tracer) StartDiscover(ctx context.Context, rendezvous peer.ID) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDiscover,
		trace.WithAttributes(attribute.String(AttrPeerID, rendezvous.String())),
	)
}

// StartDial starts a span for dialing a discovered peer.
func (t *Tracer) StartDial(ctx context.Context, target peer.ID, addr string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDial,
		trace.WithAttributes(
			attribute.String(AttrPeerID, target.String()),
			attribute.String(AttrAddr, addr),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// RecordDiscovered records the number of registrations on a discover span.
func (t *Tracer) RecordDiscovered(span trace.Span, registrations int) {
	span.SetAttributes(attribute.Int(AttrRegistrations, registrations))
}

// RecordResult records the outcome of an operation on the given span.
func (t *Tracer) RecordResult(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String(AttrResult, result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// RecordError records an error on the given span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// EndSpan ends a span, optionally recording an error.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
