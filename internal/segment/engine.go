// Package segment turns a stream of captured audio into sentence events.
//
// One processing goroutine per listening session owns every piece of
// segmentation state: it drains the capture queue, slices fixed VAD chunks
// to find speech boundaries, feeds fixed recognizer chunks while speech is
// open, forces a cut when a segment runs past the configured maximum, and
// emits interim and final events through a single callback.
package segment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/asr"
	"parley/internal/audio"
	"parley/internal/observe"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrRunning    = errors.New("engine already listening")
	ErrNotRunning = errors.New("engine not listening")
)

// CaptureFunc opens the audio source for a new session.
type CaptureFunc func() (audio.Source, error)

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logrus.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records engine activity into m.
func WithMetrics(m *observe.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithNow replaces time.Now for the wall clock and session start times.
func WithNow(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine runs listening sessions. Start and Stop may be called from any
// goroutine; events are delivered on the processing goroutine.
type Engine struct {
	settings Settings
	models   *asr.Models
	capture  CaptureFunc
	onEvent  EventFunc
	logger   *logrus.Logger
	metrics  *observe.Metrics
	now      func() time.Time

	mu     sync.Mutex
	sess   *session
	src    audio.Source
	cancel context.CancelFunc
	done   chan struct{}

	// cur is the active session, or the last one after Stop. It is
	// readable from event callbacks, which run while mu may be held.
	cur     atomic.Pointer[session]
	running atomic.Bool
}

// New returns an idle engine.
func New(settings Settings, models *asr.Models, capture CaptureFunc, onEvent EventFunc, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		models:   models,
		capture:  capture,
		onEvent:  onEvent,
		logger:   logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// session is the state of one start→stop lifetime. mu is held by the
// processing goroutine for a whole loop iteration and by Stop for the
// final flush.
type session struct {
	id      string
	started time.Time
	queue   *audio.Queue

	mu       sync.Mutex
	closed   bool
	intake   audio.Buffer // drained frames not yet consumed as a window
	speech   audio.Buffer
	pos      int // samples consumed into windows, drives the stream clock
	seq      int
	speaking bool
	// segStart is zero while no segment is being timed.
	segStart   time.Time
	lastForced time.Time
	pending    string

	detector   asr.Detector
	detState   asr.State
	recognizer asr.Recognizer
	recState   asr.State
	punctuator asr.Punctuator

	trMu       sync.Mutex
	transcript strings.Builder
}

func loaded[T any](ctx context.Context, l *asr.Loader[T]) (T, error) {
	if l == nil {
		var zero T
		return zero, asr.ErrUnavailable
	}
	return l.Get(ctx)
}

// Start waits for the recognizer, resets all session state, opens capture
// and launches the processing goroutine. A missing detector or punctuator
// only disables that feature for the session.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		return ErrRunning
	}

	rec, err := loaded(ctx, e.models.Recognizer)
	if err != nil {
		e.metrics.AdapterError(ctx, "asr")
		return fmt.Errorf("load recognizer: %w", err)
	}
	s := &session{
		id:         uuid.NewString(),
		started:    e.now(),
		queue:      audio.NewQueue(),
		recognizer: rec,
		recState:   rec.NewState(),
	}
	s.lastForced = s.started

	if e.settings.VADEnabled {
		if det, err := loaded(ctx, e.models.Detector); err != nil {
			e.metrics.AdapterError(ctx, "vad")
			e.logger.Warnf("vad unavailable, listening without it: %v", err)
		} else {
			s.detector = det
			s.detState = det.NewState()
		}
	}
	if e.settings.PunctuationEnabled {
		if p, err := loaded(ctx, e.models.Punctuator); err != nil {
			e.metrics.AdapterError(ctx, "punctuation")
			e.logger.Warnf("punctuation unavailable, sentences stay raw: %v", err)
		} else {
			s.punctuator = p
		}
	}
	s.speaking = s.detector == nil

	src, err := e.capture()
	if err != nil {
		e.releaseSession(s)
		e.metrics.AdapterError(ctx, "capture")
		return fmt.Errorf("open capture: %w", err)
	}
	if err := src.Start(s.queue.Push); err != nil {
		_ = src.Close()
		e.releaseSession(s)
		e.metrics.AdapterError(ctx, "capture")
		return fmt.Errorf("start capture: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.sess, e.src, e.cancel, e.done = s, src, cancel, done
	e.cur.Store(s)
	e.running.Store(true)
	e.metrics.SessionStarted(ctx)
	e.logger.Infof("listening (session %s, vad=%t, punctuation=%t)", s.id, s.detector != nil, s.punctuator != nil)
	go e.loop(loopCtx, s, done)
	return nil
}

// Stop halts capture and the processing goroutine, then flushes whatever
// speech or pending text is left as one final sentence. Calling it from an
// EventFunc deadlocks; hand the request to another goroutine instead.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sess
	if s == nil {
		return ErrNotRunning
	}
	e.cancel()
	if err := e.src.Close(); err != nil {
		e.metrics.AdapterError(context.Background(), "capture")
		e.logger.Warnf("close capture: %v", err)
	}
	select {
	case <-e.done:
	case <-time.After(e.settings.JoinTimeout):
		e.logger.Warnf("processing loop did not stop within %s", e.settings.JoinTimeout)
	}
	e.flush(s)

	e.sess, e.src, e.cancel, e.done = nil, nil, nil, nil
	e.running.Store(false)
	e.metrics.SessionEnded(context.Background())
	e.logger.Infof("stopped listening (session %s)", s.id)
	return nil
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SessionID is the id of the active session, or of the last one.
func (e *Engine) SessionID() string {
	if s := e.cur.Load(); s != nil {
		return s.id
	}
	return ""
}

// Transcript is the concatenation of every final sentence of the active
// session, or of the last one once stopped.
func (e *Engine) Transcript() string {
	s := e.cur.Load()
	if s == nil {
		return ""
	}
	s.trMu.Lock()
	defer s.trMu.Unlock()
	return s.transcript.String()
}

// Drained reports whether the active session has consumed every captured
// frame and every complete chunk. It must not be called from an event
// callback.
func (e *Engine) Drained() bool {
	s := e.cur.Load()
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if s.queue.Len() > 0 || s.speech.Len() >= e.settings.ASRChunk {
		return false
	}
	return s.intake.Len() < e.settings.VADChunk
}

// Settings returns the engine configuration.
func (e *Engine) Settings() Settings { return e.settings }

func (e *Engine) loop(ctx context.Context, s *session, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e.safeStep(s) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.settings.IdleSleep):
		}
	}
}

func (e *Engine) safeStep(s *session) (worked bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("audio processing: %v", r)
			time.Sleep(100 * time.Millisecond)
			worked = true
		}
	}()
	return e.step(s)
}

// step is one iteration of the processing loop. It reports whether any
// audio was consumed or any chunk processed.
func (e *Engine) step(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	frames := s.queue.Drain()
	e.metrics.Frames(context.Background(), len(frames))
	for _, f := range frames {
		s.intake.Append(f.Samples)
	}
	worked := len(frames) > 0
	for e.advance(s) {
		worked = true
	}
	return worked
}

// advance consumes one window from intake: a VAD chunk when the detector
// runs, otherwise at most a VAD chunk's worth of samples straight into the
// speech buffer. Recognition and the forced timer follow every window, so
// a backlog is cut at the same stream positions as live audio.
func (e *Engine) advance(s *session) bool {
	if s.detector != nil {
		chunk, ok := s.intake.Take(e.settings.VADChunk)
		if !ok {
			return false
		}
		s.pos += len(chunk)
		e.detect(s, chunk)
	} else {
		n := min(s.intake.Len(), e.settings.VADChunk)
		if n == 0 {
			return false
		}
		chunk, _ := s.intake.Take(n)
		if s.segStart.IsZero() {
			s.segStart = e.clock(s)
		}
		s.pos += n
		s.speech.Append(chunk)
	}

	for s.speech.Len() >= e.settings.ASRChunk {
		e.process(s, false, CauseInterim)
	}
	e.checkForced(s)
	return true
}

// detect runs one VAD chunk and applies the boundaries it reports.
func (e *Engine) detect(s *session, chunk []float32) {
	ctx := context.Background()
	e.metrics.VADChunk(ctx)
	bounds, err := s.detector.Detect(chunk, s.detState)
	if err != nil {
		e.metrics.AdapterError(ctx, "vad")
		e.logger.Errorf("vad: %v", err)
	}
	for _, b := range bounds {
		switch {
		case b.IsStart():
			if !s.speaking {
				s.speaking = true
				s.segStart = e.clock(s)
				e.logger.Debugf("speech start at %d ms", b.StartMS)
			}
		case b.IsEnd():
			if !s.speaking {
				continue
			}
			s.speaking = false
			s.segStart = time.Time{}
			e.logger.Debugf("speech end at %d ms", b.EndMS)
			if s.speech.Len() > 0 || s.pending != "" {
				e.process(s, true, CauseVAD)
			}
			asr.ReleaseState(s.detState)
			s.detState = s.detector.NewState()
		}
	}
	if s.speaking {
		s.speech.Append(chunk)
	}
}

// checkForced closes a segment that has been open longer than the maximum
// duration, unless the previous forced cut is less than half that ago.
func (e *Engine) checkForced(s *session) {
	limit := e.settings.MaxSegmentDuration
	if limit <= 0 || !s.speaking || s.segStart.IsZero() {
		return
	}
	now := e.clock(s)
	if now.Sub(s.segStart) <= limit || now.Sub(s.lastForced) <= limit/2 {
		return
	}
	e.metrics.ForcedCut(context.Background())
	e.logger.Infof("segment reached %s, forcing a cut", now.Sub(s.segStart).Round(time.Millisecond))
	if s.speech.Len() > 0 || s.pending != "" {
		e.process(s, true, CauseForced)
	}
	s.segStart = now
	s.lastForced = now
}

// flush moves audio that was still queued into the speech buffer and
// closes the session with one final sentence. It runs once per session.
func (e *Engine) flush(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, f := range s.queue.Drain() {
		s.intake.Append(f.Samples)
	}
	rest := s.intake.DrainAll()
	s.pos += len(rest)
	if s.speaking {
		s.speech.Append(rest)
	}
	if s.speech.Len() > 0 || s.pending != "" {
		e.process(s, true, CauseStop)
	}
	s.closed = true
	e.releaseSession(s)
}

func (e *Engine) releaseSession(s *session) {
	asr.ReleaseState(s.recState)
	asr.ReleaseState(s.detState)
	s.recState, s.detState = nil, nil
}

func (e *Engine) clock(s *session) time.Time {
	if e.settings.Clock == ClockStream {
		return s.started.Add(audio.SamplesToDuration(s.pos, e.settings.SampleRate))
	}
	return e.now()
}
