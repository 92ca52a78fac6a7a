package control

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"parley/internal/asr"
	"parley/internal/audio"
	"parley/internal/segment"

	"github.com/sirupsen/logrus"
)

const drainPoll = 5 * time.Millisecond

// fileSource is a capture source that signals when it has pushed all audio.
type fileSource interface {
	audio.Source
	Done() <-chan struct{}
}

// transcribe runs one listening session over src. Finals are always written
// to w, interims only when interim is set. It returns the finals and the
// session transcript.
func transcribe(ctx context.Context, settings segment.Settings, models *asr.Models, src fileSource, w io.Writer, interim bool, logger *logrus.Logger) ([]segment.Event, string, error) {
	var finals []segment.Event
	onEvent := func(ev segment.Event) {
		if ev.Final {
			finals = append(finals, ev)
			fmt.Fprintf(w, "[%s] %s\n", ev.Cause, ev.SentenceText)
			return
		}
		if interim {
			fmt.Fprintf(w, "  ... %s\n", ev.SentenceText)
		}
	}
	eng := segment.New(settings, models, func() (audio.Source, error) { return src, nil }, onEvent,
		segment.WithLogger(logger),
	)
	if err := eng.Start(ctx); err != nil {
		return nil, "", err
	}
	select {
	case <-src.Done():
	case <-ctx.Done():
	}
	for ctx.Err() == nil && !eng.Drained() {
		time.Sleep(drainPoll)
	}
	if err := eng.Stop(); err != nil {
		return finals, "", err
	}
	return finals, strings.TrimSpace(eng.Transcript()), ctx.Err()
}
