// Package asr defines the model adapters the segmentation engine drives:
// voice activity detection, streaming recognition and punctuation restore.
// Adapters are stateless with respect to sessions; every per-session cache
// lives in an opaque State the caller creates, owns and passes back in.
package asr

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a backend was not compiled into this binary.
var ErrUnavailable = errors.New("backend unavailable in this build")

// Unset marks the missing half of a Boundary.
const Unset = -1

// State is adapter-private mutable state carried across calls. Callers treat
// it as opaque and must not share one State between sessions.
type State any

// Boundary is one speech transition reported by a Detector. Exactly one of
// StartMS and EndMS is set; offsets are stream milliseconds since the State
// was created.
type Boundary struct {
	StartMS int
	EndMS   int
}

// IsStart reports whether b marks the start of speech.
func (b Boundary) IsStart() bool { return b.StartMS != Unset && b.EndMS == Unset }

// IsEnd reports whether b marks the end of speech.
func (b Boundary) IsEnd() bool { return b.EndMS != Unset && b.StartMS == Unset }

// Detector classifies fixed-size chunks of audio.
type Detector interface {
	NewState() State
	Detect(chunk []float32, st State) ([]Boundary, error)
}

// ChunkShape is the streaming recognizer's (left, center, right) chunk
// layout. It is passed through to the backend untouched.
type ChunkShape [3]int

// StreamParams are the streaming look-back settings handed to every
// Recognize call.
type StreamParams struct {
	Shape           ChunkShape
	EncoderLookBack int
	DecoderLookBack int
}

// Recognizer turns audio chunks into text. With final set the backend must
// flush anything it is holding for the segment and return the tail text.
type Recognizer interface {
	NewState() State
	Recognize(chunk []float32, st State, final bool, p StreamParams) (string, error)
}

// Punctuator restores punctuation on finished sentences.
type Punctuator interface {
	Restore(ctx context.Context, text string) (string, error)
}

// Closer is implemented by adapters that hold native resources.
type Closer interface {
	Close() error
}

// ReleaseState frees whatever an adapter State holds. It is a no-op for
// states without resources.
func ReleaseState(st State) {
	if c, ok := st.(Closer); ok {
		_ = c.Close()
	}
}
