// Package observe holds parley's OpenTelemetry instruments. InitProvider
// bridges them to Prometheus so the daemon can serve /metrics; tests build
// their own Metrics on a ManualReader via NewMetrics.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "parley"

// Metrics holds every instrument the engine and daemon record into. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	AudioFrames metric.Int64Counter
	VADChunks   metric.Int64Counter
	ASRChunks   metric.Int64Counter

	// ASRDuration is recognizer latency per call, attribute final.
	ASRDuration metric.Float64Histogram

	// Sentences counts emitted events, attributes final and cause.
	Sentences  metric.Int64Counter
	ForcedCuts metric.Int64Counter

	// AdapterErrors counts failed adapter calls, attribute adapter.
	AdapterErrors metric.Int64Counter

	// Hooks counts hook dispatch outcomes, attribute status.
	Hooks metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AudioFrames, err = m.Int64Counter("parley.audio.frames",
		metric.WithDescription("Audio frames taken off the capture queue."),
	); err != nil {
		return nil, err
	}
	if met.VADChunks, err = m.Int64Counter("parley.vad.chunks",
		metric.WithDescription("Chunks passed to the voice activity detector."),
	); err != nil {
		return nil, err
	}
	if met.ASRChunks, err = m.Int64Counter("parley.asr.chunks",
		metric.WithDescription("Chunks passed to the recognizer."),
	); err != nil {
		return nil, err
	}
	if met.ASRDuration, err = m.Float64Histogram("parley.asr.duration",
		metric.WithDescription("Recognizer latency per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Sentences, err = m.Int64Counter("parley.sentences",
		metric.WithDescription("Sentence events by finality and cause."),
	); err != nil {
		return nil, err
	}
	if met.ForcedCuts, err = m.Int64Counter("parley.forced_cuts",
		metric.WithDescription("Segments closed by the max duration timer."),
	); err != nil {
		return nil, err
	}
	if met.AdapterErrors, err = m.Int64Counter("parley.adapter.errors",
		metric.WithDescription("Failed detector, recognizer and punctuation calls."),
	); err != nil {
		return nil, err
	}
	if met.Hooks, err = m.Int64Counter("parley.hooks",
		metric.WithDescription("Hook dispatches by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Listening sessions currently running."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) Frames(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.AudioFrames.Add(ctx, int64(n))
}

func (m *Metrics) VADChunk(ctx context.Context) {
	if m == nil {
		return
	}
	m.VADChunks.Add(ctx, 1)
}

// ASRCall records one recognizer call and its latency in seconds.
func (m *Metrics) ASRCall(ctx context.Context, final bool, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("final", final))
	m.ASRChunks.Add(ctx, 1, attrs)
	m.ASRDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) Sentence(ctx context.Context, final bool, cause string) {
	if m == nil {
		return
	}
	m.Sentences.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("final", final),
		attribute.String("cause", cause),
	))
}

func (m *Metrics) ForcedCut(ctx context.Context) {
	if m == nil {
		return
	}
	m.ForcedCuts.Add(ctx, 1)
}

// AdapterError counts a failure of adapter (vad, asr, punctuation, capture).
func (m *Metrics) AdapterError(ctx context.Context, adapter string) {
	if m == nil {
		return
	}
	m.AdapterErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
}

// Hook records a hook outcome: sent, skipped, dropped or failed.
func (m *Metrics) Hook(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Hooks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
