package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/types"
)

// mockEmitter implements Emitter for testing.
type mockEmitter struct {
	emitCalls  int
	closeCalls int
	emitErr    error
	closeErr   error
	results    []*orchestrator.Result
}

func (m *mockEmitter) Emit(_ context.Context, result *orchestrator.Result) error {
	m.emitCalls++
	m.results = append(m.results, result)
	return m.emitErr
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

func newResult(t *testing.T) *orchestrator.Result {
	t.Helper()
	event, err := types.NewEvent(types.EventInput{
		EventID:       "evt-1",
		CorrelationID: "corr-1",
		Timestamp:     time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		EventType:     "SecretDetected",
		SourceSystem:  "github",
		Severity:      "Critical",
		Domain:        "Security",
	})
	require.NoError(t, err)

	r := &orchestrator.Result{
		Mode:           "fallback",
		DBStatus:       "error: disk full",
		ProcessingTime: 120 * time.Millisecond,
		WorkflowID:     "wf-1",
	}
	r.Event = event
	r.HighestSeverity = types.SeverityCritical
	r.TotalRiskScore = 0.95
	r.Summary = "Critical credential exposure"
	return r
}

func TestMultiEmitter_Emit(t *testing.T) {
	e1 := &mockEmitter{}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), newResult(t))

	require.NoError(t, err)
	assert.Equal(t, 1, e1.emitCalls)
	assert.Equal(t, 1, e2.emitCalls)
}

func TestMultiEmitter_Emit_ErrorDoesNotStopOthers(t *testing.T) {
	e1 := &mockEmitter{emitErr: errors.New("emit failed")}
	e2 := &mockEmitter{}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Emit(context.Background(), newResult(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "emit failed")
	assert.Equal(t, 1, e2.emitCalls)
}

func TestMultiEmitter_Close_JoinsErrors(t *testing.T) {
	e1 := &mockEmitter{closeErr: errors.New("close one")}
	e2 := &mockEmitter{closeErr: errors.New("close two")}
	multi := NewMultiEmitter(e1, e2)

	err := multi.Close()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "close one")
	assert.Contains(t, err.Error(), "close two")
	assert.Equal(t, 1, e2.closeCalls)
}

func TestMultiEmitter_Empty(t *testing.T) {
	multi := NewMultiEmitter()
	require.NoError(t, multi.Emit(context.Background(), newResult(t)))
	require.NoError(t, multi.Close())
}

func TestLogEmitter(t *testing.T) {
	e := NewLogEmitter()
	require.NoError(t, e.Emit(context.Background(), newResult(t)))
	require.NoError(t, e.Close())
}

func TestPrometheusEmitter_Emit(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	e, err := NewPrometheusEmitter(provider.Meter("test"))
	require.NoError(t, err)

	r := newResult(t)
	require.NoError(t, e.Emit(context.Background(), r))
	r.LLMUsed = true
	r.GuardrailsPassed = false
	require.NoError(t, e.Emit(context.Background(), r))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m
		}
	}

	results, ok := found["vigil_results_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, results.DataPoints, 1)
	assert.Equal(t, int64(2), results.DataPoints[0].Value)
	status, _ := results.DataPoints[0].Attributes.Value("db_status")
	assert.Equal(t, "error", status.AsString())

	failures, ok := found["vigil_guardrail_failures_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), failures.DataPoints[0].Value)

	gauge, ok := found["vigil_latest_risk_score"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.InDelta(t, 0.95, gauge.DataPoints[0].Value, 1e-9)
}

type mockS3Client struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (m *mockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.input = params
	if params.Body != nil {
		m.body, _ = io.ReadAll(params.Body)
	}
	return &s3.PutObjectOutput{}, m.err
}

func TestS3Emitter_Emit(t *testing.T) {
	client := &mockS3Client{}
	e := NewS3EmitterWithClient(client, S3Config{Bucket: "archive", Prefix: "/results/"})

	r := newResult(t)
	require.NoError(t, e.Emit(context.Background(), r))

	assert.Equal(t, "archive", aws.ToString(client.input.Bucket))
	assert.Equal(t, "results/2026/03/04/evt-1.json", aws.ToString(client.input.Key))
	assert.Equal(t, "Critical", client.input.Metadata["severity"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(client.body, &decoded))
	assert.Equal(t, "fallback", decoded["mode"])
	assert.Equal(t, "wf-1", decoded["workflow_id"])
}

func TestS3Emitter_KeyWithoutPrefix(t *testing.T) {
	e := NewS3EmitterWithClient(&mockS3Client{}, S3Config{Bucket: "archive"})
	assert.Equal(t, "2026/03/04/evt-1.json", e.Key(newResult(t)))
}

func TestS3Emitter_PutError(t *testing.T) {
	e := NewS3EmitterWithClient(&mockS3Client{err: errors.New("access denied")}, S3Config{Bucket: "archive"})
	err := e.Emit(context.Background(), newResult(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
