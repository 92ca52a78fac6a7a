package segment

import "time"

// Cause says what produced an event.
type Cause string

const (
	CauseInterim Cause = "interim"
	CauseVAD     Cause = "vad"
	CauseForced  Cause = "forced"
	CauseStop    Cause = "stop"
)

// Event is one sentence update. Interim events carry the newly recognized
// text and the sentence accumulated so far; a final event carries the
// finished, punctuated sentence in both fields.
type Event struct {
	SessionID    string    `json:"session_id"`
	Seq          int       `json:"seq"`
	SegmentText  string    `json:"segment_text"`
	SentenceText string    `json:"full_sentence_text"`
	Final        bool      `json:"is_final"`
	Cause        Cause     `json:"cause"`
	At           time.Time `json:"at"`
}

// EventFunc receives events on the processing goroutine and must return
// quickly. It must not call Engine.Stop or Engine.Drained: both wait for the
// session lock the processing goroutine holds while the callback runs.
type EventFunc func(Event)
