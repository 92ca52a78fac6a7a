//go:build whisper

package asr

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// whisper.cpp refuses input shorter than one second.
const whisperMinSamples = 16800

// WhisperRecognizer decodes each chunk independently with whisper.cpp.
// The texts of the previous DecoderLookBack chunks of the segment are fed
// back as the initial prompt; the chunk shape and encoder look-back have no
// whisper equivalent and are ignored.
type WhisperRecognizer struct {
	language string

	mu    sync.Mutex
	model whisper.Model
}

type whisperState struct {
	history []string
}

// NewWhisperRecognizer loads the ggml model at path.
func NewWhisperRecognizer(path, language string) (*WhisperRecognizer, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model: %w", err)
	}
	return &WhisperRecognizer{language: strings.TrimSpace(language), model: model}, nil
}

func (r *WhisperRecognizer) NewState() State { return &whisperState{} }

func (r *WhisperRecognizer) Recognize(chunk []float32, st State, final bool, p StreamParams) (string, error) {
	ws, ok := st.(*whisperState)
	if !ok {
		return "", fmt.Errorf("whisper: foreign state %T", st)
	}
	if len(chunk) == 0 {
		return "", nil
	}
	samples := chunk
	if len(samples) < whisperMinSamples {
		samples = make([]float32, whisperMinSamples)
		copy(samples, chunk)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return "", fmt.Errorf("whisper: model closed")
	}
	ctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: context: %w", err)
	}
	ctx.SetThreads(uint(runtime.NumCPU()))
	if r.language != "" {
		if err := ctx.SetLanguage(r.language); err != nil {
			return "", fmt.Errorf("whisper: language %q: %w", r.language, err)
		}
	}
	if n := p.DecoderLookBack; n > 0 && len(ws.history) > 0 {
		ctx.SetInitialPrompt(strings.Join(ws.history[max(0, len(ws.history)-n):], " "))
	}
	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}
	var b strings.Builder
	for {
		seg, err := ctx.NextSegment()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("whisper: segment: %w", err)
		}
		b.WriteString(seg.Text)
	}
	text := strings.TrimSpace(b.String())
	if text != "" {
		ws.history = append(ws.history, text)
		text += " "
	}
	if final {
		ws.history = nil
	}
	return text, nil
}

// Close frees the model.
func (r *WhisperRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}
