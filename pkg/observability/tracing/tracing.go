package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var enabled bool

// Setup configures a global tracer provider when enable=true.
// It returns a shutdown function which should be deferred.
func Setup(enable bool) (func(context.Context) error, error) {
	enabled = enable
	if !enable {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a tracing span if tracing is enabled. Attributes built
// with SessionID/Member/Members annotate the span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	if !enabled {
		return ctx, func() {}
	}
	tr := otel.Tracer("go-raftclient/session")
	ctx, span := tr.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// SessionID tags a span with the server-assigned session id.
func SessionID(id uint64) attribute.KeyValue {
	return attribute.Int64("raftclient.session_id", int64(id))
}

// Member tags a span with the cluster member being addressed.
func Member(addr string) attribute.KeyValue {
	return attribute.String("raftclient.member", addr)
}

// Members tags a span with the size of the known member set.
func Members(n int) attribute.KeyValue {
	return attribute.Int("raftclient.members", n)
}
