package otel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

func TestMQHeaderCarrier(t *testing.T) {
	headers := map[string]interface{}{"count": 3}
	c := NewMQHeaderCarrier(headers)

	c.Set("traceparent", "00-abc-def-01")

	assert.Equal(t, "00-abc-def-01", headers["traceparent"])
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("count"))
	assert.ElementsMatch(t, []string{"count", "traceparent"}, c.Keys())
}

func TestMQHeaderCarrier_NilHeaders(t *testing.T) {
	c := NewMQHeaderCarrier(nil)
	c.Set("traceparent", "x")
	assert.Equal(t, "", c.Get("traceparent"))
	assert.Empty(t, c.Keys())
}

func TestTracer_DefaultsToNoop(t *testing.T) {
	_, span := StartSpan(t.Context(), "test")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestSampler(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{0, "root:TraceIDRatioBased{0.2}"},
		{-1, "root:TraceIDRatioBased{0.2}"},
		{0.5, "root:TraceIDRatioBased{0.5}"},
		{1, "root:AlwaysOnSampler"},
	}
	for _, tc := range cases {
		assert.Contains(t, Sampler(tc.ratio).Description(), tc.want, "ratio %v", tc.ratio)
	}
}

func TestResource(t *testing.T) {
	res, err := Resource(Config{ServiceName: "homework-reminder-worker", Environment: "production"})
	require.NoError(t, err)

	set := res.Set()
	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "homework-reminder-worker", name.AsString())
	env, ok := set.Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	assert.Equal(t, "production", env.AsString())
	_, ok = set.Value(semconv.ServiceVersionKey)
	assert.False(t, ok)
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(Config{ServiceName: "homework-reminder-api"}, zap.NewNop())
	require.NoError(t, err)
	shutdown()

	_, span := StartSpan(t.Context(), "after-disabled-init")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}
