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
	"parley/internal/logging"
)

// fakeSource is a capture source the test pushes frames into by hand.
type fakeSource struct {
	mu       sync.Mutex
	push     func(audio.Frame)
	opened   int
	closed   int
	startErr error
	closeErr error
}

func (f *fakeSource) Start(push func(audio.Frame)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.push = push
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *fakeSource) send(n int) {
	f.mu.Lock()
	push := f.push
	f.mu.Unlock()
	push(audio.Frame{Samples: make([]float32, n), Captured: time.Now()})
}

// scriptDetector returns the boundaries scripted for its n-th call (1-based).
type scriptDetector struct {
	mu     sync.Mutex
	calls  int
	script map[int][]asr.Boundary
}

func (d *scriptDetector) NewState() asr.State { return new(int) }

func (d *scriptDetector) Detect(chunk []float32, st asr.State) ([]asr.Boundary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.script[d.calls], nil
}

func startAt(ms int) []asr.Boundary { return []asr.Boundary{{StartMS: ms, EndMS: asr.Unset}} }
func endAt(ms int) []asr.Boundary   { return []asr.Boundary{{StartMS: asr.Unset, EndMS: ms}} }

type recCall struct {
	samples int
	final   bool
}

// scriptRecognizer returns texts in order, then "" or repeat when set.
// errs pairs an error with the text of the given call (0-based).
type scriptRecognizer struct {
	mu     sync.Mutex
	texts  []string
	errs   map[int]error
	repeat string
	calls  []recCall
	states int
	panics bool
}

func (r *scriptRecognizer) NewState() asr.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states++
	return new(int)
}

func (r *scriptRecognizer) Recognize(chunk []float32, st asr.State, final bool, p asr.StreamParams) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics {
		r.panics = false
		panic("recognizer exploded")
	}
	i := len(r.calls)
	r.calls = append(r.calls, recCall{samples: len(chunk), final: final})
	err := r.errs[i]
	if i < len(r.texts) {
		return r.texts[i], err
	}
	return r.repeat, err
}

func (r *scriptRecognizer) snapshot() []recCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recCall(nil), r.calls...)
}

type periodPunc struct{ fail bool }

func (p periodPunc) Restore(_ context.Context, text string) (string, error) {
	if p.fail {
		return "", errors.New("punctuation model crashed")
	}
	return strings.TrimSpace(text) + ".", nil
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) finals() []Event {
	var out []Event
	for _, ev := range c.snapshot() {
		if ev.Final {
			out = append(out, ev)
		}
	}
	return out
}

func ready[T any](v T) *asr.Loader[T] {
	return asr.NewLoader(context.Background(), "test", func(context.Context) (T, error) { return v, nil })
}

func failing[T any](err error) *asr.Loader[T] {
	return asr.NewLoader(context.Background(), "test", func(context.Context) (T, error) {
		var zero T
		return zero, err
	})
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Clock = ClockStream
	s.IdleSleep = time.Millisecond
	s.JoinTimeout = time.Second
	return s
}

type harness struct {
	engine *Engine
	src    *fakeSource
	events *collector
}

func newHarness(t *testing.T, settings Settings, models *asr.Models) *harness {
	t.Helper()
	h := &harness{src: &fakeSource{}, events: &collector{}}
	capture := func() (audio.Source, error) {
		h.src.mu.Lock()
		h.src.opened++
		h.src.mu.Unlock()
		return h.src, nil
	}
	h.engine = New(settings, models, capture, h.events.add, WithLogger(logging.NewTestLogger()))
	t.Cleanup(func() {
		if h.engine.Running() {
			_ = h.engine.Stop()
		}
	})
	return h
}

// feed pushes n samples as one frame and returns once they are processed.
func (h *harness) feed(n int) {
	h.src.send(n)
	h.engine.step(h.engine.cur.Load())
}
