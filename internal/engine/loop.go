package engine

import "encoding/json"

// LoopState is the A/B loop state of the uploaded track.
type LoopState int

const (
	LoopOff LoopState = iota
	LoopRecording
	LoopActive
)

// MinLoopLength is the shortest region accepted; anything shorter loops
// the whole buffer instead.
const MinLoopLength = 0.05

func (s LoopState) String() string {
	switch s {
	case LoopRecording:
		return "recording"
	case LoopActive:
		return "active"
	}
	return "off"
}

func (s LoopState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// LoopRegion is a loop on the uploaded track, in buffer seconds.
type LoopRegion struct {
	State LoopState `json:"state"`
	Start float64   `json:"start"`
	End   float64   `json:"end"`
}

// Toggle returns the region after one press of the loop button. playing
// and pos describe the track at the moment of the press; duration is the
// buffer length.
func (r LoopRegion) Toggle(playing bool, pos, duration float64) LoopRegion {
	switch r.State {
	case LoopOff:
		if !playing {
			return LoopRegion{State: LoopActive, Start: 0, End: duration}
		}
		return LoopRegion{State: LoopRecording, Start: pos}
	case LoopRecording:
		return activate(r.Start, pos, duration)
	default:
		return LoopRegion{State: LoopOff}
	}
}

func activate(start, end, duration float64) LoopRegion {
	if end <= start || end-start < MinLoopLength {
		return LoopRegion{State: LoopActive, Start: 0, End: duration}
	}
	return LoopRegion{State: LoopActive, Start: start, End: end}
}
