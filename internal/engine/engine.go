// Package engine is the remix engine: two track players sharing one audio
// graph, a metronome, a loop region on the uploaded track, and a recorder
// that captures voice and drum pad hits for the full mix.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/graph"
	"github.com/satindergrewal/remix/internal/mixdown"
	"github.com/satindergrewal/remix/internal/samples"
	"github.com/satindergrewal/remix/internal/transport"
)

// ErrNoMicrophone is returned by StartRecording when no microphone input is
// attached.
var ErrNoMicrophone = errors.New("no microphone attached")

// CaptureFormat is the container recordings are kept in.
type CaptureFormat string

const (
	CaptureOpus CaptureFormat = "opus"
	CaptureWAV  CaptureFormat = "wav"
)

// Options configures an Engine.
type Options struct {
	SampleRate      int
	FFTSize         int
	RampTau         float64 // time constant of runtime gain and rate changes
	PlaybackDelay   float64 // lead time before a full mix starts
	MicLatency      float64
	SequenceDelay   float64
	NormalizeTarget float32
	MaxNormalize    float32
	MetronomeVolume float64
	Capture         CaptureFormat
	CaptureBitrate  int
	RecordingsURL   string // prefix of recording URLs
	Scheduler       transport.Config
	FFmpegPath      string
}

// DefaultOptions returns the stock engine settings.
func DefaultOptions() Options {
	return Options{
		SampleRate:      audio.SampleRate,
		FFTSize:         2048,
		RampTau:         0.015,
		PlaybackDelay:   0.05,
		MicLatency:      mixdown.MicLatency,
		SequenceDelay:   mixdown.SequenceDelay,
		NormalizeTarget: 0.8,
		MaxNormalize:    5,
		MetronomeVolume: 0.5,
		Capture:         CaptureOpus,
		CaptureBitrate:  96000,
		RecordingsURL:   "/api/recordings/",
		Scheduler:       transport.DefaultConfig(),
		FFmpegPath:      "ffmpeg",
	}
}

// Engine owns the audio graph and all track, loop and recorder state.
// Methods are safe for concurrent use. Events are delivered on subscriber
// goroutines, never while engine state is locked.
type Engine struct {
	opts     Options
	ctx      *graph.Context
	bank     *samples.Bank
	sched    *transport.Scheduler
	exporter *mixdown.Exporter
	events   *bus

	captureEnc mixdown.Encoder

	voiceGain     *graph.Gain
	uploadedGain  *graph.Gain
	metronomeGain *graph.Gain
	micGain       *graph.Gain
	analyser      *graph.Analyser
	capture       *capture

	mu        sync.Mutex
	user      track
	record    track
	userBuf   *audio.Buffer
	voiceBuf  *audio.Buffer
	region    LoopRegion
	drumPitch float64
	metronome bool
	mic       *graph.StreamInput
	rec       recorder
	takes     map[string]*mixdown.Blob
}

// New builds the engine graph on a fresh context. Drive the context with a
// graph.Driver for live output.
func New(bank *samples.Bank, opts Options) *Engine {
	c := graph.NewContext(opts.SampleRate)
	e := &Engine{
		opts:      opts,
		ctx:       c,
		bank:      bank,
		exporter:  mixdown.NewExporter(opts.FFmpegPath),
		events:    newBus(),
		user:      newTrack(),
		record:    newTrack(),
		drumPitch: 1,
		takes:     make(map[string]*mixdown.Blob),
	}
	e.exporter.Rate = opts.SampleRate
	e.captureEnc = newCaptureEncoder(opts)

	e.voiceGain = c.NewGain(e.record.volume)
	e.uploadedGain = c.NewGain(e.user.volume)
	e.metronomeGain = c.NewGain(opts.MetronomeVolume)
	e.micGain = c.NewGain(1)
	e.analyser = c.NewAnalyser(opts.FFTSize)
	e.capture = newCapture(c)

	c.Connect(e.voiceGain, c.Destination())
	c.Connect(e.voiceGain, e.analyser)
	c.Connect(e.uploadedGain, c.Destination())
	c.Connect(e.uploadedGain, e.analyser)
	// clicks are heard but neither analysed nor recorded
	c.Connect(e.metronomeGain, c.Destination())
	// the microphone is recorded but never monitored
	c.Connect(e.micGain, e.capture.tap)

	e.sched = transport.NewScheduler(c, opts.Scheduler, e.click, func(i int) {
		e.events.publish(Beat{Index: i})
	})
	return e
}

// Context returns the audio context the engine renders into.
func (e *Engine) Context() *graph.Context {
	return e.ctx
}

// Bank returns the sample bank.
func (e *Engine) Bank() *samples.Bank {
	return e.bank
}

// Subscribe registers fn for all events and returns a function that
// unsubscribes it.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	return e.events.subscribe(fn)
}

func (e *Engine) emit(events ...Event) {
	if len(events) > 0 {
		e.events.publish(events...)
	}
}

// Close stops playback, recording and the metronome and detaches the
// microphone.
func (e *Engine) Close() {
	e.sched.Stop()
	e.mu.Lock()
	e.user.stop()
	e.record.stop()
	e.rec.recording = false
	e.capture.stop()
	if e.mic != nil {
		e.mic.Close()
		e.mic = nil
	}
	e.mu.Unlock()
}

// --- Analysis ---

// TimeDomainData returns the latest analysis window of the voice and
// uploaded buses.
func (e *Engine) TimeDomainData() []float32 {
	return e.analyser.TimeDomainData()
}

// ByteTimeDomainData is TimeDomainData mapped to bytes around 128.
func (e *Engine) ByteTimeDomainData() []byte {
	return e.analyser.ByteTimeDomainData()
}

// FrequencyData returns the smoothed spectrum as bytes.
func (e *Engine) FrequencyData() []byte {
	return e.analyser.FrequencyData()
}

// --- Loading ---

// LoadSample fetches a drum sample by name. Errors are logged.
func (e *Engine) LoadSample(ctx context.Context, name, url string) {
	e.bank.Load(ctx, name, url)
}

// LoadUserFile decodes r as the uploaded track. It reports whether decoding
// succeeded; on failure the previous upload is kept.
func (e *Engine) LoadUserFile(ctx context.Context, r io.Reader) bool {
	data, err := io.ReadAll(r)
	if err != nil {
		log.Printf("Upload read failed: %v", err)
		return false
	}
	buf, err := audio.Decode(ctx, data)
	if err != nil {
		log.Printf("Upload decode failed: %v", err)
		return false
	}

	e.mu.Lock()
	events := e.stopUserLocked()
	e.userBuf = buf
	e.region = LoopRegion{}
	e.mu.Unlock()

	log.Printf("Loaded upload: %.2fs, %d channels, %d Hz", buf.Duration(), buf.NumChannels(), buf.Rate)
	e.emit(append(events, UserFileLoaded{Buffer: buf}, UserLoopState{})...)
	return true
}

// --- Drums ---

// TriggerDrum plays a drum hit now and, while recording, appends it to the
// drum sequence. It reports false when the bank has no buffer for kind.
func (e *Engine) TriggerDrum(kind samples.Kind) bool {
	buf := e.bank.Get(kind)
	if buf.Empty() {
		log.Printf("No sample loaded for %s", kind)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	src := e.ctx.NewBufferSource(buf)
	src.PlaybackRate().SetValue(e.drumPitch)
	e.ctx.Connect(src, e.voiceGain)
	now := e.ctx.CurrentTime()
	src.Start(now, 0)
	e.recordEventLocked(kind, now)
	return true
}

// SetDrumPitch sets the playback rate of drum hits, clamped to [0.5, 2].
func (e *Engine) SetDrumPitch(p float64) {
	e.mu.Lock()
	e.drumPitch = clampPitch(p)
	e.mu.Unlock()
}

// DrumPitch returns the drum playback rate.
func (e *Engine) DrumPitch() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drumPitch
}

// --- Metronome ---

// SetBPM changes the metronome tempo, clamped to [40, 208].
func (e *Engine) SetBPM(bpm float64) float64 {
	v := e.sched.SetBPM(bpm)
	e.emit(BPM{BPM: v})
	return v
}

// BPM returns the metronome tempo.
func (e *Engine) BPM() float64 {
	return e.sched.BPM()
}

// SetMetronome starts or stops the metronome.
func (e *Engine) SetMetronome(on bool) {
	e.mu.Lock()
	e.metronome = on
	e.mu.Unlock()
	if on {
		e.sched.Start()
	} else {
		e.sched.Stop()
	}
	e.emit(Metronome{On: on})
}

// MetronomeOn reports whether the metronome is running.
func (e *Engine) MetronomeOn() bool {
	return e.sched.Running()
}

// SetClickMuted silences the click while beat events keep flowing.
func (e *Engine) SetClickMuted(muted bool) {
	e.sched.SetClicks(!muted)
}

func (e *Engine) click(when float64, accent bool) {
	src := e.ctx.NewBufferSource(e.bank.Click(accent))
	e.ctx.Connect(src, e.metronomeGain)
	src.Start(when, 0)
}

// --- Export ---

// Snapshot captures everything a full mix depends on. Later engine changes
// do not affect the returned value.
func (e *Engine) Snapshot() mixdown.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() mixdown.Config {
	drums := make(map[samples.Kind]*audio.Buffer)
	for _, k := range samples.Kinds {
		if buf := e.bank.Get(k); buf != nil {
			drums[k] = buf
		}
	}
	return mixdown.Config{
		Uploaded:        mixdown.Track{Volume: e.user.volume, Pitch: e.user.pitch},
		Recorded:        mixdown.Track{Volume: e.record.volume, Pitch: e.record.pitch},
		DrumPitch:       e.drumPitch,
		Events:          append([]mixdown.DrumEvent(nil), e.rec.events...),
		RecordingOffset: e.rec.offset,
		MicLatency:      e.opts.MicLatency,
		SequenceDelay:   e.opts.SequenceDelay,
		Background:      e.userBuf,
		Voice:           e.voiceBuf,
		Drums:           drums,
	}
}

// ExportMix renders and encodes the full mix. A nil blob with a nil error
// means there was nothing to mix.
func (e *Engine) ExportMix(ctx context.Context) (*mixdown.Blob, error) {
	blob, err := e.exporter.Export(ctx, e.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("export mix: %w", err)
	}
	if blob == nil {
		log.Println("Export skipped: empty mix")
		return nil, nil
	}
	log.Printf("Exported mix: %d bytes %s", len(blob.Data), blob.MIME)
	return blob, nil
}

// --- Status ---

// Status is a point-in-time view of the engine for the API.
type Status struct {
	User            TrackState          `json:"user"`
	Record          TrackState          `json:"record"`
	Loop            LoopRegion          `json:"loop"`
	BPM             float64             `json:"bpm"`
	Metronome       bool                `json:"metronome"`
	Recording       bool                `json:"recording"`
	Microphone      bool                `json:"microphone"`
	DrumPitch       float64             `json:"drum_pitch"`
	RecordingOffset float64             `json:"recording_offset"`
	Events          []mixdown.DrumEvent `json:"events"`
	Time            float64             `json:"time"`
}

// Status returns the current engine state.
func (e *Engine) Status() Status {
	bpm := e.sched.BPM()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		User:            e.user.state(),
		Record:          e.record.state(),
		Loop:            e.region,
		BPM:             bpm,
		Metronome:       e.metronome,
		Recording:       e.rec.recording,
		Microphone:      e.mic != nil,
		DrumPitch:       e.drumPitch,
		RecordingOffset: e.rec.offset,
		Events:          append([]mixdown.DrumEvent(nil), e.rec.events...),
		Time:            e.ctx.CurrentTime(),
	}
}
