package control

import "time"

// Request is one line sent over the control socket.
type Request struct {
	Op string `json:"op"` // status, health, listen, mute
}

type Status struct {
	Running           bool         `json:"running"`
	Listening         bool         `json:"listening"`
	UptimeSec         float64      `json:"uptime_sec"`
	SessionID         string       `json:"session_id,omitempty"`
	SessionTranscript string       `json:"session_transcript,omitempty"`
	Transcripts       []Transcript `json:"transcripts"`
}

type SimpleResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Transcript struct {
	Text      string    `json:"text"`
	Cause     string    `json:"cause,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
