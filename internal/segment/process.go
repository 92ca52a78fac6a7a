package segment

import (
	"context"
	"strings"
	"time"

	"parley/internal/asr"
)

// process runs the recognizer over the speech buffer. Interim calls take
// exactly one ASR chunk; final calls take the whole buffer and always
// flush the pending sentence.
func (e *Engine) process(s *session, final bool, cause Cause) {
	if final && s.speech.Len() == 0 {
		if strings.TrimSpace(s.pending) != "" {
			e.finish(s, s.pending, cause)
		}
		s.pending = ""
		e.resetRecognizer(s)
		return
	}

	var chunk []float32
	if final {
		chunk = s.speech.DrainAll()
	} else {
		var ok bool
		if chunk, ok = s.speech.Take(e.settings.ASRChunk); !ok {
			return
		}
	}
	text := e.recognize(s, chunk, final)

	if !final {
		if text == "" {
			return
		}
		s.pending += text
		e.emit(s, Event{SegmentText: text, SentenceText: s.pending, Cause: CauseInterim})
		return
	}

	full := s.pending + text
	s.pending = ""
	if strings.TrimSpace(full) != "" {
		e.finish(s, full, cause)
	}
	e.resetRecognizer(s)
}

func (e *Engine) recognize(s *session, chunk []float32, final bool) string {
	ctx := context.Background()
	start := time.Now()
	text, err := s.recognizer.Recognize(chunk, s.recState, final, e.settings.Params)
	e.metrics.ASRCall(ctx, final, time.Since(start).Seconds())
	if err != nil {
		e.metrics.AdapterError(ctx, "asr")
		e.logger.Errorf("asr: %v", err)
	}
	return text
}

// finish punctuates text, emits it as the final event and appends it to
// the session transcript.
func (e *Engine) finish(s *session, text string, cause Cause) {
	out := text
	if s.punctuator != nil {
		ctx := context.Background()
		restored, err := s.punctuator.Restore(ctx, text)
		switch {
		case err != nil:
			e.metrics.AdapterError(ctx, "punctuation")
			e.logger.Warnf("punctuation failed, keeping raw text: %v", err)
		case strings.TrimSpace(restored) == "":
			e.logger.Warnf("punctuation returned nothing, keeping raw text")
		default:
			out = restored
		}
	}
	e.emit(s, Event{SegmentText: out, SentenceText: out, Final: true, Cause: cause})
	if out != "" {
		s.trMu.Lock()
		s.transcript.WriteString(out)
		s.transcript.WriteByte(' ')
		s.trMu.Unlock()
	}
}

func (e *Engine) resetRecognizer(s *session) {
	asr.ReleaseState(s.recState)
	s.recState = s.recognizer.NewState()
}

func (e *Engine) emit(s *session, ev Event) {
	s.seq++
	ev.SessionID = s.id
	ev.Seq = s.seq
	ev.At = e.clock(s)
	e.metrics.Sentence(context.Background(), ev.Final, string(ev.Cause))
	if ev.Final {
		e.logger.Debugf("final (%s): %s", ev.Cause, ev.SentenceText)
	}
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
