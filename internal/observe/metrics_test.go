package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.Frames(ctx, 3)
	m.VADChunk(ctx)
	m.ASRCall(ctx, true, 0.1)
	m.Sentence(ctx, true, "vad")
	m.ForcedCut(ctx)
	m.AdapterError(ctx, "asr")
	m.Hook(ctx, "sent")
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)
}

func TestSentenceAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.Sentence(ctx, false, "interim")
	m.Sentence(ctx, true, "forced")
	m.Sentence(ctx, true, "forced")

	got := findMetric(t, reader, "parley.sentences")
	if got == nil {
		t.Fatal("parley.sentences not found")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type %T", got.Data)
	}
	for _, dp := range sum.DataPoints {
		cause, _ := dp.Attributes.Value(attribute.Key("cause"))
		if cause.AsString() == "forced" && dp.Value != 2 {
			t.Fatalf("forced = %d, want 2", dp.Value)
		}
		if cause.AsString() == "interim" && dp.Value != 1 {
			t.Fatalf("interim = %d, want 1", dp.Value)
		}
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d", len(sum.DataPoints))
	}
}

func TestActiveSessionsUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)

	got := findMetric(t, reader, "parley.sessions.active")
	if got == nil {
		t.Fatal("parley.sessions.active not found")
	}
	sum := got.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("active sessions = %+v", sum.DataPoints)
	}
}

func TestASRCallRecordsHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ASRCall(context.Background(), false, 0.2)

	got := findMetric(t, reader, "parley.asr.duration")
	if got == nil {
		t.Fatal("parley.asr.duration not found")
	}
	hist := got.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("histogram = %+v", hist.DataPoints)
	}
}

func TestProviderServesPrometheus(t *testing.T) {
	p, err := InitProvider("test")
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	p.Metrics.ForcedCut(context.Background())

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "parley_forced_cuts") {
		t.Fatalf("scrape missing forced cuts:\n%s", body)
	}
}
