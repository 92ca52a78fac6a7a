// Package audio holds the capture side of the pipeline: fixed-rate mono
// float frames, the raw frame queue between capture and processing, the
// segment sample buffer, and the sources that produce frames.
package audio

import (
	"errors"
	"sync"
	"time"
)

// SampleRate is the rate every frame in the pipeline is expected to use.
const SampleRate = 16000

// ErrNoCapture is returned when the binary was built without PortAudio.
var ErrNoCapture = errors.New("microphone capture unavailable: build with '-tags portaudio'")

// Frame is one captured block of mono float32 samples.
type Frame struct {
	Samples  []float32
	Captured time.Time
}

// Source pushes frames until closed.
type Source interface {
	// Start begins capture. push is called from the capture goroutine and
	// must not block.
	Start(push func(Frame)) error
	Close() error
}

// Queue is an unbounded FIFO of frames with a single producer (the capture
// callback) and a single consumer (the processing loop).
type Queue struct {
	mu     sync.Mutex
	frames []Frame
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends f. The queue takes ownership of f.Samples.
func (q *Queue) Push(f Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()
}

// Drain removes and returns every queued frame in arrival order.
func (q *Queue) Drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil
	}
	out := q.frames
	q.frames = nil
	return out
}

// Len reports the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// SamplesToDuration converts a sample count at rate to wall time.
func SamplesToDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// DurationToSamples converts d at rate to a whole number of samples.
func DurationToSamples(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}
