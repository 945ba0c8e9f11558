package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reqid"
)

func recorder(t *testing.T) (*eventbus.Bus, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	bus := eventbus.New()
	t.Cleanup(Attach(bus, tp.Tracer("test")))
	return bus, rec
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestWriteSpanNestsUnderRequest(t *testing.T) {
	bus, rec := recorder(t)
	ctx, _ := reqid.NewContext(context.Background())
	req := httptest.NewRequest("POST", "/write", nil)

	eventbus.PublishTo(bus, ctx, events.HTTPStart{Request: req})
	eventbus.PublishTo(bus, ctx, events.WriteStart{OperationName: "Posts", OperationType: "query"})
	eventbus.PublishTo(bus, ctx, events.MergeFinish{Entities: 4, Changed: true})
	eventbus.PublishTo(bus, ctx, events.WriteFinish{OperationName: "Posts", OperationType: "query", Entities: 3})
	eventbus.PublishTo(bus, ctx, events.HTTPFinish{Request: req, Status: 200})

	spans := rec.Ended()
	require.Len(t, spans, 2)
	write, http := spans[0], spans[1]
	require.Equal(t, "cache.write", write.Name())
	require.Equal(t, "http.request", http.Name())
	require.Equal(t, http.SpanContext().SpanID(), write.Parent().SpanID())

	require.Equal(t, "Posts", attr(write, "graphql.operation.name").AsString())
	require.Equal(t, int64(3), attr(write, "cache.write.entities").AsInt64())
	require.Len(t, write.Events(), 1)
	require.Equal(t, "cache.merge", write.Events()[0].Name)
	require.Equal(t, int64(200), attr(http, "http.status_code").AsInt64())
}

func TestReadMissIsRecorded(t *testing.T) {
	bus, rec := recorder(t)
	ctx, _ := reqid.NewContext(context.Background())

	eventbus.PublishTo(bus, ctx, events.ReadStart{OperationName: "Q", OperationType: "query"})
	eventbus.PublishTo(bus, ctx, events.ReadFinish{OperationName: "Q", OperationType: "query", Err: errors.New("miss")})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "cache.read", spans[0].Name())
	require.False(t, spans[0].Parent().IsValid())
	require.False(t, attr(spans[0], "cache.hit").AsBool())
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestDetach(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	bus := eventbus.New()
	Attach(bus, tp.Tracer("test"))()

	eventbus.PublishTo(bus, context.Background(), events.ReadStart{})
	eventbus.PublishTo(bus, context.Background(), events.ReadFinish{})
	require.Empty(t, rec.Started())
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("", "graphcache", nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
