package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type cfgWithMap struct {
	M StringMap `yaml:"m"`
}

func TestStringMapUnmarshalYAML(t *testing.T) {
	cases := map[string]StringMap{
		"m: ''\n":                           {},
		"m: '{\"k1\":\"v1\",\"k2\":\"v2\"}'\n": {"k1": "v1", "k2": "v2"},
		"m: 'a=1, b=2, c = 3'\n":            {"a": "1", "b": "2", "c": "3"},
		"m:\n  x: 10\n  y: true\n  z: val\n": {"x": "10", "y": "true", "z": "val"},
	}
	for in, want := range cases {
		var c cfgWithMap
		require.NoError(t, yaml.Unmarshal([]byte(in), &c), in)
		assert.Equal(t, want, c.M, in)
	}

	var c cfgWithMap
	assert.Error(t, yaml.Unmarshal([]byte("m: 'novalue'\n"), &c))
	assert.Error(t, yaml.Unmarshal([]byte("m: '{broken'\n"), &c))
}

func TestExporterEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:4318", exporterEndpoint("http", ""))
	assert.Equal(t, "localhost:4317", exporterEndpoint("grpc", ""))
	assert.Equal(t, "collector:4318", exporterEndpoint("http", "http://collector:4318/"))
	assert.Equal(t, "collector:4317", exporterEndpoint("grpc", "https://collector:4317"))
}

func stubExporters(t *testing.T) *string {
	t.Helper()
	used := new(string)
	origRes, origHTTP, origGRPC := newResource, newOTLPTraceHTTP, newOTLPTraceGRPC
	t.Cleanup(func() {
		newResource, newOTLPTraceHTTP, newOTLPTraceGRPC = origRes, origHTTP, origGRPC
	})
	newResource = func(context.Context, ...resource.Option) (*resource.Resource, error) {
		return resource.Empty(), nil
	}
	newOTLPTraceHTTP = func(context.Context, ...otlptracehttp.Option) (*otlptrace.Exporter, error) {
		*used = "http"
		return nil, nil
	}
	newOTLPTraceGRPC = func(context.Context, ...otlptracegrpc.Option) (*otlptrace.Exporter, error) {
		*used = "grpc"
		return nil, nil
	}
	return used
}

func TestInitTracing_Protocols(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	for _, proto := range []string{"http", "grpc", ""} {
		used := stubExporters(t)
		cfg := &Config{Enabled: true, ServiceName: "wuhost-test", Protocol: proto, SamplerRate: 2.5,
			Headers: StringMap{"x-api-key": "secret"}}
		shutdown, err := InitTracing(context.Background(), cfg, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
		want := proto
		if want == "" {
			want = "grpc"
		}
		assert.Equal(t, want, *used)
	}
}

func TestInitTracing_Errors(t *testing.T) {
	stubExporters(t)
	_, err := InitTracing(context.Background(), &Config{Enabled: true, Protocol: "zipkin"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported trace protocol")

	newOTLPTraceHTTP = func(context.Context, ...otlptracehttp.Option) (*otlptrace.Exporter, error) {
		return nil, errors.New("boom")
	}
	_, err = InitTracing(context.Background(), &Config{Enabled: true, Protocol: "http"}, zap.NewNop())
	assert.ErrorContains(t, err, "create exporter")

	newResource = func(context.Context, ...resource.Option) (*resource.Resource, error) {
		return nil, errors.New("no resource")
	}
	_, err = InitTracing(context.Background(), &Config{Enabled: true}, zap.NewNop())
	assert.ErrorContains(t, err, "create resource")
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestBuilder_SpanScope(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	scope := Tracer("trace-test").Start(context.Background(), "op")
	scope.WithAttrs(attribute.String("k", "v")).Fail(errors.New("bad")).End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("k", "v"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	var nilScope *SpanScope
	assert.NotPanics(t, func() { nilScope.WithAttrs().Fail(errors.New("x")).End() })
}
