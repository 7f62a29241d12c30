package engine

import (
	"context"
	"log"

	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/graph"
	"github.com/satindergrewal/remix/internal/mixdown"
)

const (
	MinPitch = 0.5
	MaxPitch = 2.0
)

func clampPitch(p float64) float64 {
	return min(max(p, MinPitch), MaxPitch)
}

func clampVolume(v float64) float64 {
	return min(max(v, 0), 1)
}

// TrackState is the user-visible state of one track.
type TrackState struct {
	Volume    float64  `json:"volume"`
	Pitch     float64  `json:"pitch"`
	Playing   bool     `json:"playing"`
	Loop      bool     `json:"loop"`
	StartedAt *float64 `json:"started_at,omitempty"`
}

// track is one player. A playback session owns a context that is cancelled
// before its sources are stopped, so a completion that races an explicit
// stop is discarded by its watcher.
type track struct {
	volume    float64
	pitch     float64
	loop      bool
	playing   bool
	startedAt float64
	offset    float64 // buffer seconds the session started from
	cancel    context.CancelFunc
	sources   mixdown.Sources
}

func newTrack() track {
	return track{volume: 1, pitch: 1}
}

func (t *track) state() TrackState {
	s := TrackState{Volume: t.volume, Pitch: t.pitch, Playing: t.playing, Loop: t.loop}
	if t.playing {
		at := t.startedAt
		s.StartedAt = &at
	}
	return s
}

// begin opens a new session for sources started at context time at, offset
// seconds into the buffer.
func (t *track) begin(at, offset float64, sources mixdown.Sources) context.Context {
	session, cancel := context.WithCancel(context.Background())
	t.playing = true
	t.startedAt = at
	t.offset = offset
	t.cancel = cancel
	t.sources = sources
	return session
}

// stop cancels the session, then silences its sources.
func (t *track) stop() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	for _, src := range t.sources.All() {
		src.Stop()
	}
	t.sources = mixdown.Sources{}
	t.playing = false
}

// position returns the playhead in buffer seconds, zero when not playing.
// The background source follows loop wraps and rate ramps; without one the
// start offset plus time since start scaled by pitch stands in.
func (t *track) position(now float64) float64 {
	if !t.playing {
		return 0
	}
	if src := t.sources.Background; src != nil {
		return src.Position()
	}
	return t.offset + max(0, now-t.startedAt)*t.pitch
}

// watch waits for every source to finish or the session to end and hands
// natural completion to done under the engine lock.
func (e *Engine) watch(session context.Context, sources []*graph.BufferSource, done func() []Event) {
	if len(sources) == 0 {
		log.Println("Playback has no sources to watch")
		return
	}
	for _, src := range sources {
		select {
		case <-session.Done():
			return
		case <-src.Done():
		}
	}

	e.mu.Lock()
	if session.Err() != nil {
		e.mu.Unlock()
		return
	}
	events := done()
	e.mu.Unlock()
	e.emit(events...)
}

// --- Uploaded track ---

// PlayUser starts the uploaded track from the top, or from the loop start
// when a loop region is active. It stops the full mix first and reports
// false when nothing is uploaded.
func (e *Engine) PlayUser() bool {
	e.mu.Lock()
	if e.userBuf.Empty() {
		e.mu.Unlock()
		log.Println("Play skipped: no upload")
		return false
	}
	events := e.stopRecordLocked()
	e.user.stop()
	e.startUserLocked()
	e.mu.Unlock()

	e.emit(append(events, UserPlay{Playing: true}, Play{Playing: true})...)
	return true
}

func (e *Engine) startUserLocked() {
	src := e.ctx.NewBufferSource(e.userBuf)
	src.PlaybackRate().SetValue(e.user.pitch)
	offset := 0.0
	if e.region.State == LoopActive {
		src.SetLoop(true, e.region.Start, e.region.End)
		offset = e.region.Start
	}
	e.ctx.Connect(src, e.uploadedGain)
	now := e.ctx.CurrentTime()
	src.Start(now, offset)

	sources := mixdown.Sources{Background: src}
	session := e.user.begin(now, offset, sources)
	go e.watch(session, sources.All(), e.userEnded)
}

// userEnded runs when the uploaded track plays out.
func (e *Engine) userEnded() []Event {
	if e.user.loop {
		e.user.stop()
		e.startUserLocked()
		return nil
	}
	e.user.stop()
	return []Event{UserPlay{Playing: false}, Play{Playing: e.record.playing}}
}

// StopUser stops the uploaded track.
func (e *Engine) StopUser() {
	e.mu.Lock()
	events := e.stopUserLocked()
	e.mu.Unlock()
	e.emit(events...)
}

func (e *Engine) stopUserLocked() []Event {
	if !e.user.playing {
		return nil
	}
	e.user.stop()
	return []Event{UserPlay{Playing: false}, Play{Playing: e.record.playing}}
}

// SetUserVolume sets the uploaded track volume, clamped to [0, 1].
func (e *Engine) SetUserVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.user.volume = clampVolume(v)
	e.applyUploadedGainLocked()
}

// SetUserPitch sets the uploaded track rate, clamped to [0.5, 2].
func (e *Engine) SetUserPitch(p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.user.pitch = clampPitch(p)
	if e.user.playing {
		e.rampRate(e.user.sources.Background, e.user.pitch)
	}
	if e.record.playing {
		e.rampRate(e.record.sources.Background, e.user.pitch*e.record.pitch)
	}
}

// SetUserLoop sets the simple loop flag: restart from the top on natural end.
func (e *Engine) SetUserLoop(on bool) {
	e.mu.Lock()
	e.user.loop = on
	e.mu.Unlock()
}

// UserTrack returns the uploaded track state.
func (e *Engine) UserTrack() TrackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user.state()
}

// UserBuffer returns the decoded upload, or nil.
func (e *Engine) UserBuffer() *audio.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userBuf
}

// --- Recorded track (full mix) ---

// PlayRecord plays the full mix: the uploaded track at proportional pitch
// and volume, the recorded voice and the drum sequence, all aligned to
// where recording started. It stops the uploaded track first and reports
// false when there is no recorded voice or drum sequence.
func (e *Engine) PlayRecord() bool {
	e.mu.Lock()
	if e.voiceBuf.Empty() && len(e.rec.events) == 0 {
		e.mu.Unlock()
		log.Println("Play skipped: nothing recorded")
		return false
	}
	events := e.stopUserLocked()
	e.record.stop()
	e.startRecordLocked()
	e.mu.Unlock()

	e.emit(append(events, RecordPlay{Playing: true}, Play{Playing: true})...)
	return true
}

func (e *Engine) startRecordLocked() {
	cfg := e.snapshotLocked()
	layout := mixdown.Plan(cfg)
	at := e.ctx.CurrentTime() + e.opts.PlaybackDelay

	e.uploadedGain.RampTo(layout.PropVolume, e.opts.RampTau)
	sources := layout.Start(e.ctx, cfg, at, e.uploadedGain, e.voiceGain)
	session := e.record.begin(at, 0, sources)
	go e.watch(session, sources.All(), e.recordEnded)
}

func (e *Engine) recordEnded() []Event {
	if e.record.loop {
		e.record.stop()
		e.startRecordLocked()
		return nil
	}
	e.record.stop()
	e.applyUploadedGainLocked()
	return []Event{RecordPlay{Playing: false}, Play{Playing: e.user.playing}}
}

// StopRecord stops full-mix playback and restores the uploaded track volume.
func (e *Engine) StopRecord() {
	e.mu.Lock()
	events := e.stopRecordLocked()
	e.mu.Unlock()
	e.emit(events...)
}

func (e *Engine) stopRecordLocked() []Event {
	if !e.record.playing {
		return nil
	}
	e.record.stop()
	e.applyUploadedGainLocked()
	return []Event{RecordPlay{Playing: false}, Play{Playing: e.user.playing}}
}

// SetRecordVolume sets the voice and drum volume, clamped to [0, 1]. During
// full-mix playback it also rescales the background.
func (e *Engine) SetRecordVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.volume = clampVolume(v)
	e.voiceGain.RampTo(e.record.volume, e.opts.RampTau)
	e.applyUploadedGainLocked()
}

// SetRecordPitch sets the voice rate, clamped to [0.5, 2]. During full-mix
// playback every layer follows.
func (e *Engine) SetRecordPitch(p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.pitch = clampPitch(p)
	if !e.record.playing {
		return
	}
	s := e.record.sources
	e.rampRate(s.Background, e.user.pitch*e.record.pitch)
	e.rampRate(s.Voice, e.record.pitch)
	for _, d := range s.Drums {
		e.rampRate(d, e.drumPitch*e.record.pitch)
	}
}

// SetRecordLoop sets whether the full mix restarts when it ends.
func (e *Engine) SetRecordLoop(on bool) {
	e.mu.Lock()
	e.record.loop = on
	e.mu.Unlock()
	e.emit(RecordLoop{On: on})
}

// RecordTrack returns the recorded track state.
func (e *Engine) RecordTrack() TrackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.state()
}

// applyUploadedGainLocked ramps the background bus to the uploaded volume,
// scaled by the recorded volume while the full mix plays.
func (e *Engine) applyUploadedGainLocked() {
	v := e.user.volume
	if e.record.playing {
		v *= e.record.volume
	}
	e.uploadedGain.RampTo(v, e.opts.RampTau)
}

func (e *Engine) rampRate(src *graph.BufferSource, rate float64) {
	if src != nil {
		src.PlaybackRate().SetTargetAtTime(rate, e.opts.RampTau)
	}
}

// --- Loop region ---

// ToggleUserLoop advances the loop region of the uploaded track. Activating
// a region applies it to the playing source at once; switching it off
// clears the loop on the playing source. No-op without an upload.
func (e *Engine) ToggleUserLoop() LoopRegion {
	e.mu.Lock()
	if e.userBuf.Empty() {
		r := e.region
		e.mu.Unlock()
		return r
	}
	pos := e.user.position(e.ctx.CurrentTime())
	e.region = e.region.Toggle(e.user.playing, pos, e.userBuf.Duration())
	r := e.region

	if src := e.user.sources.Background; src != nil {
		switch r.State {
		case LoopActive:
			src.SetLoop(true, r.Start, r.End)
		case LoopOff:
			src.SetLoop(false, 0, 0)
		}
	}
	e.mu.Unlock()

	log.Printf("Loop %s [%.3f, %.3f]", r.State, r.Start, r.End)
	e.emit(UserLoopState{Region: r})
	return r
}

// LoopRegion returns the uploaded track's loop region.
func (e *Engine) LoopRegion() LoopRegion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.region
}
