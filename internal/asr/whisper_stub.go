//go:build !whisper

package asr

import "fmt"

// WhisperRecognizer is unavailable without the whisper build tag.
type WhisperRecognizer struct{}

func NewWhisperRecognizer(path, language string) (*WhisperRecognizer, error) {
	return nil, fmt.Errorf("whisper: %w (build with '-tags whisper')", ErrUnavailable)
}

func (r *WhisperRecognizer) NewState() State { return nil }

func (r *WhisperRecognizer) Recognize([]float32, State, bool, StreamParams) (string, error) {
	return "", ErrUnavailable
}

func (r *WhisperRecognizer) Close() error { return nil }
