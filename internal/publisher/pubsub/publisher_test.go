package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestAttributesCarryEventAndTrace(t *testing.T) {
	t.Parallel()

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "run")
	defer span.End()

	attrs := map[string]string{"event": "run.completed"}
	propagation.TraceContext{}.Inject(ctx, &pubsubCarrier{attrs: attrs})
	require.Equal(t, "run.completed", attrs["event"])
	require.Contains(t, attrs, "traceparent")

	carrier := &pubsubCarrier{attrs: attrs}
	require.ElementsMatch(t, []string{"event", "traceparent"}, carrier.Keys())
	require.Equal(t, attrs["traceparent"], carrier.Get("traceparent"))
}

func TestAttributesWithoutEvent(t *testing.T) {
	t.Parallel()

	require.NotContains(t, attributes(context.Background(), ""), "event")
	require.Equal(t, "run.failed", attributes(context.Background(), "run.failed")["event"])
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "run.completed", map[string]string{})
	require.ErrorContains(t, err, "not configured")

	_, err = Open(nil, "runs")
	require.Error(t, err)
}
