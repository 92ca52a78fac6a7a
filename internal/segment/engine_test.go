package segment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/internal/asr"
	"parley/internal/audio"
	"parley/internal/config"
	"parley/internal/logging"
)

func TestVADSegmentWithInterimAndFinal(t *testing.T) {
	det := &scriptDetector{script: map[int][]asr.Boundary{1: startAt(0), 15: endAt(3000)}}
	// Interim chunks after the first recognize nothing; the final one
	// carries the second word.
	rec := &scriptRecognizer{texts: []string{"hello ", "", "", "", "world"}}
	h := newHarness(t, testSettings(), &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Detector:   ready[asr.Detector](det),
		Punctuator: ready[asr.Punctuator](periodPunc{}),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.feed(12800) // 0.8 s: four VAD chunks, one ASR chunk
	h.feed(35200) // 2.2 s: VAD end on the 15th chunk

	got := h.events.snapshot()
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Final || got[0].SegmentText != "hello " || got[0].SentenceText != "hello " || got[0].Cause != CauseInterim {
		t.Fatalf("interim = %+v", got[0])
	}
	if !got[1].Final || got[1].SentenceText != "hello world." || got[1].Cause != CauseVAD {
		t.Fatalf("final = %+v", got[1])
	}
	if got[0].Seq != 1 || got[1].Seq != 2 || got[0].SessionID == "" || got[0].SessionID != got[1].SessionID {
		t.Fatalf("sequencing = %+v", got)
	}

	calls := rec.snapshot()
	if len(calls) != 5 {
		t.Fatalf("recognizer calls = %+v", calls)
	}
	for i, c := range calls[:4] {
		if c.samples != 9600 || c.final {
			t.Fatalf("interim call %d = %+v", i, c)
		}
	}
	// Speech covers chunks 1-14; the chunk that carried the end boundary
	// is not speech.
	if !calls[4].final || calls[4].samples != 2*3200 {
		t.Fatalf("final call = %+v", calls[4])
	}

	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n := len(h.events.finals()); n != 1 {
		t.Fatalf("stop after a closed segment emitted again: %d finals", n)
	}
	if h.engine.Transcript() != "hello world. " {
		t.Fatalf("transcript = %q", h.engine.Transcript())
	}
}

func TestNoVADNoPunctuationFlushOnStop(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.PunctuationEnabled = false
	rec := &scriptRecognizer{texts: []string{"a ", "b"}}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.feed(14400) // 1.5 ASR chunks
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := h.events.snapshot()
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Final || got[0].SentenceText != "a " {
		t.Fatalf("interim = %+v", got[0])
	}
	if !got[1].Final || got[1].SentenceText != "a b" || got[1].Cause != CauseStop {
		t.Fatalf("final = %+v", got[1])
	}
	calls := rec.snapshot()
	if len(calls) != 2 || calls[1].samples != 4800 || !calls[1].final {
		t.Fatalf("recognizer calls = %+v", calls)
	}
}

func TestRecognizerLoadFailureAbortsStart(t *testing.T) {
	h := newHarness(t, testSettings(), &asr.Models{
		Recognizer: failing[asr.Recognizer](errors.New("no model")),
	})
	if err := h.engine.Start(context.Background()); err == nil {
		t.Fatalf("start should fail")
	}
	if h.engine.Running() {
		t.Fatalf("engine running after failed start")
	}
	if h.src.opened != 0 {
		t.Fatalf("capture opened %d times", h.src.opened)
	}
	if err := h.engine.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop err = %v", err)
	}
}

func TestCaptureFailureAbortsStart(t *testing.T) {
	h := newHarness(t, testSettings(), &asr.Models{Recognizer: ready[asr.Recognizer](&scriptRecognizer{})})
	h.src.startErr = errors.New("device busy")
	if err := h.engine.Start(context.Background()); err == nil {
		t.Fatalf("start should fail")
	}
	if h.engine.Running() {
		t.Fatalf("engine running after capture failure")
	}
	if h.src.closed != 1 {
		t.Fatalf("source closed %d times", h.src.closed)
	}
}

func TestForcedCutsAreSpaced(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.PunctuationEnabled = false
	settings.MaxSegmentDuration = 5 * time.Second
	rec := &scriptRecognizer{repeat: "w "}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	started := h.engine.cur.Load().started

	for i := 0; i < 60; i++ { // 12 s of 200 ms frames
		h.feed(3200)
	}
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var forced []time.Duration
	var finals []string
	for _, ev := range h.events.finals() {
		finals = append(finals, ev.SentenceText)
		if ev.Cause == CauseForced {
			forced = append(forced, ev.At.Sub(started))
		}
	}
	if len(forced) != 2 {
		t.Fatalf("forced cuts at %v, want two", forced)
	}
	if forced[0] != 5200*time.Millisecond || forced[1] != 10400*time.Millisecond {
		t.Fatalf("forced cuts at %v", forced)
	}
	if forced[1]-forced[0] < settings.MaxSegmentDuration/2 {
		t.Fatalf("cuts closer than half the limit: %v", forced)
	}
	if len(finals) != 3 {
		t.Fatalf("finals = %q, want two forced and one on stop", finals)
	}
	if want := strings.Join(finals, " ") + " "; h.engine.Transcript() != want {
		t.Fatalf("transcript = %q want %q", h.engine.Transcript(), want)
	}
}

func TestForcedCutsInBurstBacklog(t *testing.T) {
	for _, tc := range []struct {
		name  string
		frame int
	}{
		{"one 12 s frame", 12 * 16000},
		{"queued 20 ms frames", 320},
	} {
		t.Run(tc.name, func(t *testing.T) {
			settings := testSettings()
			settings.VADEnabled = false
			settings.PunctuationEnabled = false
			settings.MaxSegmentDuration = 5 * time.Second
			settings.IdleSleep = time.Hour
			rec := &scriptRecognizer{repeat: "w "}
			h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
			if err := h.engine.Start(context.Background()); err != nil {
				t.Fatalf("start: %v", err)
			}
			s := h.engine.cur.Load()
			for sent := 0; sent < 12*16000; sent += tc.frame {
				h.src.send(tc.frame)
			}
			h.engine.step(s)
			if err := h.engine.Stop(); err != nil {
				t.Fatalf("stop: %v", err)
			}

			var forced []time.Duration
			for _, ev := range h.events.finals() {
				if ev.Cause == CauseForced {
					forced = append(forced, ev.At.Sub(s.started))
				}
			}
			if len(forced) != 2 || forced[0] != 5200*time.Millisecond || forced[1] != 10400*time.Millisecond {
				t.Fatalf("forced cuts at %v, want 5.2s and 10.4s", forced)
			}
			total := 0
			for _, c := range rec.snapshot() {
				if c.samples > settings.ASRChunk {
					t.Fatalf("recognizer got a %d sample chunk", c.samples)
				}
				total += c.samples
			}
			if total != 12*16000 {
				t.Fatalf("recognizer saw %d samples", total)
			}
		})
	}
}

func TestRecognizerErrorKeepsReturnedText(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.PunctuationEnabled = false
	rec := &scriptRecognizer{
		texts: []string{"hello ", "world"},
		errs:  map[int]error{1: errors.New("timed out waiting for final result")},
	}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(9600)
	h.feed(1600)
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	finals := h.events.finals()
	if len(finals) != 1 || finals[0].SentenceText != "hello world" {
		t.Fatalf("finals = %+v", finals)
	}
}

func TestForcedCutKeepsSpeakingWithVAD(t *testing.T) {
	settings := testSettings()
	settings.PunctuationEnabled = false
	settings.MaxSegmentDuration = time.Second
	det := &scriptDetector{script: map[int][]asr.Boundary{1: startAt(0)}}
	rec := &scriptRecognizer{repeat: "x "}
	h := newHarness(t, settings, &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Detector:   ready[asr.Detector](det),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 8; i++ {
		h.feed(3200)
	}
	s := h.engine.cur.Load()
	s.mu.Lock()
	speaking := s.speaking
	s.mu.Unlock()
	if !speaking {
		t.Fatalf("forced cut must not end the VAD segment")
	}
	if n := len(h.events.finals()); n != 1 {
		t.Fatalf("finals after 1.6 s = %d, want 1", n)
	}
}

func TestFinalFlushIsIdempotent(t *testing.T) {
	det := &scriptDetector{script: map[int][]asr.Boundary{1: startAt(0), 4: endAt(800)}}
	rec := &scriptRecognizer{texts: []string{"one"}}
	h := newHarness(t, testSettings(), &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Detector:   ready[asr.Detector](det),
		Punctuator: ready[asr.Punctuator](periodPunc{}),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(12800)
	if n := len(h.events.finals()); n != 1 {
		t.Fatalf("finals = %d", n)
	}

	before := len(h.events.snapshot())

	s := h.engine.cur.Load()
	s.mu.Lock()
	h.engine.process(s, true, CauseVAD)
	h.engine.process(s, true, CauseVAD)
	s.mu.Unlock()
	if n := len(h.events.snapshot()); n != before {
		t.Fatalf("repeated empty finals emitted: %d events, want %d", n, before)
	}
}

func TestPendingTextFlushedWhenLastChunkIsEmpty(t *testing.T) {
	det := &scriptDetector{script: map[int][]asr.Boundary{1: startAt(0), 4: endAt(800)}}
	rec := &scriptRecognizer{texts: []string{"partial ", ""}}
	h := newHarness(t, testSettings(), &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Detector:   ready[asr.Detector](det),
		Punctuator: ready[asr.Punctuator](periodPunc{}),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(9600) // interim "partial "
	h.feed(3200) // end boundary, final recognizer call returns nothing
	finals := h.events.finals()
	if len(finals) != 1 || finals[0].SentenceText != "partial." {
		t.Fatalf("finals = %+v", finals)
	}
}

func TestPunctuationFailureFallsBackToRawText(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	rec := &scriptRecognizer{texts: []string{"raw words"}}
	h := newHarness(t, settings, &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Punctuator: ready[asr.Punctuator](periodPunc{fail: true}),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(1600)
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	finals := h.events.finals()
	if len(finals) != 1 || finals[0].SentenceText != "raw words" {
		t.Fatalf("finals = %+v", finals)
	}
}

func TestDetectorFailureDisablesVAD(t *testing.T) {
	rec := &scriptRecognizer{repeat: "z "}
	h := newHarness(t, testSettings(), &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Detector:   failing[asr.Detector](errors.New("no vad")),
		Punctuator: failing[asr.Punctuator](errors.New("no punc")),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start should degrade, got %v", err)
	}
	h.feed(9600)
	got := h.events.snapshot()
	if len(got) != 1 || got[0].Final {
		t.Fatalf("without vad audio goes straight to the recognizer: %+v", got)
	}
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	finals := h.events.finals()
	if len(finals) != 1 || finals[0].SentenceText != "z " {
		t.Fatalf("unpunctuated final = %+v", finals)
	}
}

func TestStopDrainsQueuedAudio(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.IdleSleep = time.Hour // loop parks after its first idle pass
	rec := &scriptRecognizer{repeat: "tail"}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.src.send(5000)
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	total := 0
	for _, c := range rec.snapshot() {
		total += c.samples
	}
	if total != 5000 {
		t.Fatalf("recognizer saw %d samples, want 5000", total)
	}
	if n := len(h.events.finals()); n != 1 {
		t.Fatalf("finals = %d", n)
	}
}

func TestStopDropsUnspokenVADRemainder(t *testing.T) {
	det := &scriptDetector{}
	rec := &scriptRecognizer{repeat: "noise"}
	h := newHarness(t, testSettings(), &asr.Models{
		Recognizer: ready[asr.Recognizer](rec),
		Detector:   ready[asr.Detector](det),
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.feed(5000)
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Fatalf("silence reached the recognizer: %+v", calls)
	}
	if len(h.events.snapshot()) != 0 {
		t.Fatalf("unexpected events")
	}
}

func TestStartTwiceAndRestart(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.PunctuationEnabled = false
	rec := &scriptRecognizer{repeat: "again"}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	ctx := context.Background()
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Start(ctx); !errors.Is(err, ErrRunning) {
		t.Fatalf("second start err = %v", err)
	}
	first := h.engine.SessionID()
	h.feed(1600)
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.engine.Transcript() != "again " {
		t.Fatalf("transcript = %q", h.engine.Transcript())
	}

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if h.engine.SessionID() == first {
		t.Fatalf("restart reused session id")
	}
	if h.engine.Transcript() != "" {
		t.Fatalf("transcript not reset on start: %q", h.engine.Transcript())
	}
}

func TestCloseErrorDoesNotBlockStop(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](&scriptRecognizer{})})
	h.src.closeErr = errors.New("device wedged")
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.engine.Running() {
		t.Fatalf("still running")
	}
}

func TestPanicInStepIsRecovered(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.IdleSleep = time.Hour
	rec := &scriptRecognizer{panics: true, repeat: "ok"}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.src.send(9600)
	// Either this call or the loop hits the panic; both must survive it.
	h.engine.safeStep(h.engine.cur.Load())
	h.feed(9600)
	if err := h.engine.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(h.events.snapshot()) == 0 {
		t.Fatalf("engine produced nothing after recovering")
	}
}

func TestFromConfigChunkMath(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Segment.MaxDurationSec = 5
	cfg.Segment.Clock = ""
	s := FromConfig(cfg)
	if s.VADChunk != audio.DurationToSamples(200*time.Millisecond, 16000) {
		t.Fatalf("vad chunk = %d", s.VADChunk)
	}
	if s.ASRChunk != 9600 {
		t.Fatalf("asr chunk = %d", s.ASRChunk)
	}
	if s.MaxSegmentDuration != 5*time.Second || s.Clock != ClockWall {
		t.Fatalf("settings = %+v", s)
	}
	if s.Params.Shape != (asr.ChunkShape{0, 10, 5}) || s.Params.EncoderLookBack != 4 {
		t.Fatalf("stream params = %+v", s.Params)
	}
}

func TestDrainedTracksBacklog(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.IdleSleep = time.Hour
	rec := &scriptRecognizer{repeat: "x "}
	h := newHarness(t, settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)})
	if !h.engine.Drained() {
		t.Fatalf("idle engine should be drained")
	}
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.src.send(settings.ASRChunk * 2)
	if h.engine.Drained() {
		t.Fatalf("queued audio should not count as drained")
	}
	h.engine.step(h.engine.cur.Load())
	h.engine.step(h.engine.cur.Load())
	if !h.engine.Drained() {
		t.Fatalf("expected drained after two steps")
	}
}

func TestStopHandedOffFromCallback(t *testing.T) {
	settings := testSettings()
	settings.VADEnabled = false
	settings.PunctuationEnabled = false
	rec := &scriptRecognizer{repeat: "go "}
	src := &fakeSource{}
	stopped := make(chan error, 1)
	var (
		e    *Engine
		once sync.Once
	)
	onEvent := func(ev Event) {
		if ev.Final {
			return
		}
		once.Do(func() {
			go func() { stopped <- e.Stop() }()
		})
	}
	e = New(settings, &asr.Models{Recognizer: ready[asr.Recognizer](rec)},
		func() (audio.Source, error) { return src, nil }, onEvent,
		WithLogger(logging.NewTestLogger()))
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.send(settings.ASRChunk)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stop requested from a callback did not return")
	}
	if e.Running() {
		t.Fatalf("engine still running")
	}
	if got := strings.TrimSpace(e.Transcript()); got != "go" {
		t.Fatalf("transcript = %q", got)
	}
}
