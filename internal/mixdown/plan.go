// Package mixdown renders the full mix of the uploaded track, the recorded
// voice and the drum sequence offline, and encodes it for export.
//
// The same Layout drives live full-mix playback, so what is heard and what
// is exported line up to the frame.
package mixdown

import (
	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/graph"
	"github.com/satindergrewal/remix/internal/samples"
)

const (
	// MicLatency shifts the voice earlier to undo capture-path delay.
	MicLatency = -0.08
	// SequenceDelay lines drum hits up with where they were felt.
	SequenceDelay = 0.085
	// Tail is the ring-out kept after the last drum hit.
	Tail = 2.0
)

// DrumEvent is a drum pad hit, in seconds since recording started.
type DrumEvent struct {
	Kind samples.Kind `json:"kind"`
	Time float64      `json:"time"`
}

// Track is the user-facing volume and pitch of one track.
type Track struct {
	Volume float64 `json:"volume"`
	Pitch  float64 `json:"pitch"`
}

// Config is a snapshot of everything a full mix depends on. Events and
// Drums must not be shared with live state.
type Config struct {
	Uploaded        Track
	Recorded        Track
	DrumPitch       float64
	Events          []DrumEvent
	RecordingOffset float64
	MicLatency      float64
	SequenceDelay   float64

	Background *audio.Buffer
	Voice      *audio.Buffer
	Drums      map[samples.Kind]*audio.Buffer
}

// Hit is a drum event placed on the mix timeline.
type Hit struct {
	Kind  samples.Kind
	Delay float64
}

// Layout is the timing of every layer of a full mix, in seconds from the
// mix start.
type Layout struct {
	PropPitch  float64 // background rate: product of both pitches
	PropVolume float64 // background gain: product of both volumes
	VoiceDelay float64
	VoiceRate  float64
	DrumRate   float64
	Hits       []Hit
	Duration   float64
}

// Plan computes the layout of cfg. Layers with no content are left out and
// contribute nothing to the duration.
func Plan(cfg Config) Layout {
	p1, p2 := cfg.Uploaded.Pitch, cfg.Recorded.Pitch
	l := Layout{
		PropPitch:  p1 * p2,
		PropVolume: cfg.Uploaded.Volume * cfg.Recorded.Volume,
		VoiceRate:  p2,
		DrumRate:   cfg.DrumPitch * p2,
	}

	// where, on the mix timeline, recording started
	layerStart := cfg.RecordingOffset / l.PropPitch
	l.VoiceDelay = max(0, layerStart+cfg.MicLatency)

	if !cfg.Background.Empty() {
		l.Duration = max(l.Duration, cfg.Background.Duration()/l.PropPitch)
	}
	if !cfg.Voice.Empty() {
		l.Duration = max(l.Duration, l.VoiceDelay+cfg.Voice.Duration()/p2)
	}
	for _, e := range cfg.Events {
		h := Hit{Kind: e.Kind, Delay: max(0, layerStart+e.Time/p2+cfg.SequenceDelay)}
		l.Hits = append(l.Hits, h)
		l.Duration = max(l.Duration, h.Delay+Tail)
	}
	return l
}

// Sources are the live sources of one scheduled full mix.
type Sources struct {
	Background *graph.BufferSource
	Voice      *graph.BufferSource
	Drums      []*graph.BufferSource
}

// All returns every source, background first.
func (s Sources) All() []*graph.BufferSource {
	var all []*graph.BufferSource
	if s.Background != nil {
		all = append(all, s.Background)
	}
	if s.Voice != nil {
		all = append(all, s.Voice)
	}
	return append(all, s.Drums...)
}

// Start schedules every layer on c relative to context time at, the
// background into bg and voice and drums into voice. Gains are left to the
// caller.
func (l Layout) Start(c *graph.Context, cfg Config, at float64, bg, voice graph.Input) Sources {
	play := func(buf *audio.Buffer, rate, delay float64, dst graph.Input) *graph.BufferSource {
		src := c.NewBufferSource(buf)
		src.PlaybackRate().SetValue(rate)
		c.Connect(src, dst)
		src.Start(at+delay, 0)
		return src
	}

	var s Sources
	if !cfg.Background.Empty() {
		s.Background = play(cfg.Background, l.PropPitch, 0, bg)
	}
	if !cfg.Voice.Empty() {
		s.Voice = play(cfg.Voice, l.VoiceRate, l.VoiceDelay, voice)
	}
	for _, h := range l.Hits {
		if buf := cfg.Drums[h.Kind]; !buf.Empty() {
			s.Drums = append(s.Drums, play(buf, l.DrumRate, h.Delay, voice))
		}
	}
	return s
}
