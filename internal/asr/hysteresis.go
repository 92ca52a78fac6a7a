package asr

// hysteresis turns per-frame voice decisions into start/end boundaries.
// startFrames consecutive voiced frames open speech; endFrames consecutive
// silent frames close it.
type hysteresis struct {
	frameMS     int
	startFrames int
	endFrames   int

	posMS    int
	speaking bool
	voiced   int
	silent   int
}

func newHysteresis(frameMS, minSpeechMS, silenceMS int) *hysteresis {
	return &hysteresis{
		frameMS:     frameMS,
		startFrames: framesFor(minSpeechMS, frameMS),
		endFrames:   framesFor(silenceMS, frameMS),
	}
}

func framesFor(ms, frameMS int) int {
	if frameMS <= 0 || ms <= 0 {
		return 1
	}
	n := (ms + frameMS - 1) / frameMS
	return max(n, 1)
}

// step consumes one frame decision and returns a boundary when the
// speaking state flips.
func (h *hysteresis) step(voice bool) (Boundary, bool) {
	h.posMS += h.frameMS
	if !h.speaking {
		if !voice {
			h.voiced = 0
			return Boundary{}, false
		}
		h.voiced++
		if h.voiced < h.startFrames {
			return Boundary{}, false
		}
		h.speaking = true
		h.silent = 0
		return Boundary{StartMS: h.posMS - h.voiced*h.frameMS, EndMS: Unset}, true
	}
	if voice {
		h.silent = 0
		return Boundary{}, false
	}
	h.silent++
	if h.silent < h.endFrames {
		return Boundary{}, false
	}
	h.speaking = false
	h.voiced = 0
	return Boundary{StartMS: Unset, EndMS: h.posMS - h.silent*h.frameMS}, true
}
