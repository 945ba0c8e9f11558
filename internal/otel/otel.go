package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reqid"
)

// Setup configures OpenTelemetry and attaches span recording to bus, or
// to the global bus when bus is nil. If endpoint is empty, no telemetry
// is configured.
func Setup(endpoint, service string, bus *eventbus.Bus) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	if bus == nil {
		bus = eventbus.Global()
	}
	detach := Attach(bus, otel.Tracer("graphcache"))

	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach records http, write and read events published on bus as spans
// of tracer. Spans of one request are linked through its reqid.
func Attach(bus *eventbus.Bus, tracer trace.Tracer) (detach func()) {
	s := &subscriber{tracer: tracer}
	return s.register(bus)
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // rid -> trace.Span
	opSpans   sync.Map // rid -> trace.Span
}

func (s *subscriber) parent(ctx context.Context, rid int64) context.Context {
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) startOperation(ctx context.Context, name, opName, opType string) {
	rid, _ := reqid.FromContext(ctx)
	_, span := s.tracer.Start(s.parent(ctx, rid), name)
	span.SetAttributes(
		attribute.String("graphql.operation.name", opName),
		attribute.String("graphql.operation.type", opType),
	)
	s.opSpans.Store(rid, span)
}

func (s *subscriber) finishOperation(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	rid, _ := reqid.FromContext(ctx)
	v, ok := s.opSpans.LoadAndDelete(rid)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register(bus *eventbus.Bus) (detach func()) {
	var unsubs []func()
	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	}))

	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		if e.Status >= 500 {
			span.SetStatus(codes.Error, "")
		}
		span.End()
	}))

	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.WriteStart) {
		s.startOperation(ctx, "cache.write", e.OperationName, e.OperationType)
	}))

	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.MergeFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.opSpans.Load(rid)
		if !ok {
			return
		}
		v.(trace.Span).AddEvent("cache.merge", trace.WithAttributes(
			attribute.Int("cache.entities", e.Entities),
			attribute.Bool("cache.changed", e.Changed),
			attribute.Int64("cache.merge.duration_us", e.Duration.Microseconds()),
		))
	}))

	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.WriteFinish) {
		s.finishOperation(ctx, e.Err, attribute.Int("cache.write.entities", e.Entities))
	}))

	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.ReadStart) {
		s.startOperation(ctx, "cache.read", e.OperationName, e.OperationType)
	}))

	unsubs = append(unsubs, eventbus.SubscribeTo(bus, func(ctx context.Context, e events.ReadFinish) {
		s.finishOperation(ctx, e.Err, attribute.Bool("cache.hit", e.Err == nil))
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
