package telemetry

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanContext() context.Context {
	provider := trace.NewTracerProvider(trace.WithSyncer(tracetest.NewInMemoryExporter()))
	ctx, _ := provider.Tracer("test").Start(context.Background(), "pipeline.process")
	return ctx
}

func TestOTELHook_Run(t *testing.T) {
	tests := []struct {
		name      string
		ctx       func() context.Context
		wantTrace bool
	}{
		{name: "no context", ctx: func() context.Context { return nil }},
		{name: "context without span", ctx: context.Background},
		{name: "context with span", ctx: spanContext, wantTrace: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			event := logger.Info().Ctx(tt.ctx())

			OTELHook{}.Run(event, zerolog.InfoLevel, "event analyzed")
			event.Msg("event analyzed")

			if tt.wantTrace {
				assert.Contains(t, buf.String(), "trace_id")
				assert.Contains(t, buf.String(), "span_id")
			} else {
				assert.NotContains(t, buf.String(), "trace_id")
				assert.NotContains(t, buf.String(), "span_id")
			}
		})
	}
}

func TestOTELHook_ErrorMarksSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithSyncer(exporter))
	ctx, span := provider.Tracer("test").Start(context.Background(), "storage.save_audit")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	event := logger.Error().Ctx(ctx)
	OTELHook{}.Run(event, zerolog.ErrorLevel, "storage operation failed")
	event.Msg("storage operation failed")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "storage operation failed", spans[0].Status.Description)
}

func TestNewLogger_UsesOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	logger := NewLogger("vigil-test")
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"service":"vigil-test"`)
	assert.Contains(t, buf.String(), "hello")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithContext(context.Background()).Error().Msg("dropped")
	})
}

func TestLogger_SpanLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	logger.LogSpanStart(ctx, "dispatcher.run", attribute.String("event.id", "evt-1"), attribute.Int("checkers", 6))
	assert.Contains(t, buf.String(), "span started")
	assert.Contains(t, buf.String(), "evt-1")
	assert.Contains(t, buf.String(), `"checkers":6`)

	buf.Reset()
	logger.LogSpanEnd(ctx, "dispatcher.run", nil)
	assert.Contains(t, buf.String(), "span completed")
	assert.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	logger.LogSpanEnd(ctx, "dispatcher.run", assert.AnError)
	assert.Contains(t, buf.String(), "span failed")
	assert.Contains(t, buf.String(), `"level":"error"`)
}

func TestAddAttributeToEvent(t *testing.T) {
	tests := []struct {
		attr attribute.KeyValue
		want string
	}{
		{attr: attribute.String("agent", "cost_analyst"), want: `"agent":"cost_analyst"`},
		{attr: attribute.Int64("findings", 3), want: `"findings":3`},
		{attr: attribute.Float64("risk", 0.75), want: `"risk":0.75`},
		{attr: attribute.Bool("llm_used", true), want: `"llm_used":true`},
		{attr: attribute.StringSlice("frameworks", []string{"SOC2"}), want: `"frameworks":"[SOC2]"`},
	}

	for _, tt := range tests {
		t.Run(string(tt.attr.Key), func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			addAttributeToEvent(logger.Info(), tt.attr).Msg("x")
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	logger.LogStorageError(ctx, "save_audit", assert.AnError)
	assert.Contains(t, buf.String(), "storage operation failed")
	assert.Contains(t, buf.String(), "save_audit")
	assert.Contains(t, buf.String(), `"level":"error"`)

	buf.Reset()
	logger.LogRuleSuppressed(ctx, "compliance_sentinel", "CR-001", assert.AnError)
	assert.Contains(t, buf.String(), "rule evaluation failed")
	assert.Contains(t, buf.String(), "CR-001")
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	logger.LogWorkflowTransition(ctx, "wf-1", "pending", "in_progress", 1)
	assert.Contains(t, buf.String(), "workflow transitioned")
	assert.Contains(t, buf.String(), `"to_status":"in_progress"`)
	assert.Contains(t, buf.String(), `"current_step":1`)
}

func TestApplyConfigDefaults(t *testing.T) {
	tests := []struct {
		name     string
		in       Config
		wantName string
		wantRate float64
	}{
		{name: "empty", in: Config{}, wantName: "vigil", wantRate: 1.0},
		{name: "kept", in: Config{ServiceName: "vigil-eu", SampleRate: 0.25}, wantName: "vigil-eu", wantRate: 0.25},
		{name: "rate out of range", in: Config{SampleRate: 3}, wantName: "vigil", wantRate: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyConfigDefaults(tt.in)
			assert.Equal(t, tt.wantName, got.ServiceName)
			assert.InDelta(t, tt.wantRate, got.SampleRate, 0.0001)
		})
	}
}

func TestInitOTEL_WithoutEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	shutdown, err := InitOTEL(ctx, Config{ServiceVersion: "test", Environment: "test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("vigil.test").Int64Counter("vigil_test_total")
	require.NoError(t, err)
	counter.Add(ctx, 1)

	families, err := PrometheusRegistry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "vigil_test_total")
}

func TestInitOTEL_InsecureEndpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// exporters dial lazily, so an unreachable collector is not an init error
	shutdown, err := InitOTEL(ctx, Config{Endpoint: "localhost:4317", Insecure: true})
	require.NoError(t, err)
	_ = shutdown(ctx)
}

func TestSetupTraceProvider(t *testing.T) {
	shutdown, err := setupTraceProvider(context.Background(), Config{SampleRate: 1}, resource.Default())
	require.NoError(t, err)

	_, span := Tracer.Start(context.Background(), "router.route")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
