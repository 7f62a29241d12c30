package engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/graph"
	"github.com/satindergrewal/remix/internal/mixdown"
	"github.com/satindergrewal/remix/internal/samples"
)

// recorder is the state of the current or last recording session.
type recorder struct {
	recording bool
	t0        float64
	offset    float64
	events    []mixdown.DrumEvent
}

// capture collects what the microphone bus renders while recording. The
// tap callback runs on the render goroutine, so it has its own lock.
type capture struct {
	tap *graph.Tap

	mu  sync.Mutex
	on  bool
	pcm []float32 // interleaved stereo
}

func newCapture(c *graph.Context) *capture {
	cp := &capture{}
	cp.tap = c.NewTap(cp.write)
	return cp
}

func (c *capture) write(block [][]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.on {
		return
	}
	n := len(block[0])
	for i := 0; i < n; i++ {
		for ch := range block {
			c.pcm = append(c.pcm, block[ch][i])
		}
	}
}

func (c *capture) start() {
	c.mu.Lock()
	c.on = true
	c.pcm = nil
	c.mu.Unlock()
}

func (c *capture) stop() []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.on = false
	pcm := c.pcm
	c.pcm = nil
	return pcm
}

// Take is one finished recording.
type Take struct {
	ID   string
	URL  string
	Blob *mixdown.Blob
	Gain float32 // normalization gain applied to the voice buffer
}

// --- Microphone ---

// AttachMicrophone returns the input microphone audio should be written to,
// creating it on first use. Recording is only possible while attached.
func (e *Engine) AttachMicrophone() *graph.StreamInput {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mic == nil {
		e.mic = e.ctx.NewStreamInput(audio.Channels)
		e.ctx.Connect(e.mic, e.micGain)
		log.Println("Microphone attached")
	}
	return e.mic
}

// DetachMicrophone disconnects the microphone input.
func (e *Engine) DetachMicrophone(in *graph.StreamInput) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mic == nil || e.mic != in {
		return
	}
	e.mic.Close()
	e.mic = nil
	log.Println("Microphone detached")
}

// --- Recording ---

// StartRecording begins capturing the microphone and drum pad hits. The
// position of a playing uploaded track becomes the recording offset used
// to align the full mix. It fails with ErrNoMicrophone when no microphone is
// attached and is a no-op while already recording.
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	if e.mic == nil {
		e.mu.Unlock()
		log.Println("Recording unavailable: no microphone")
		return ErrNoMicrophone
	}
	if e.rec.recording {
		e.mu.Unlock()
		return nil
	}
	now := e.ctx.CurrentTime()
	e.rec = recorder{
		recording: true,
		t0:        now,
		offset:    e.user.position(now),
	}
	// the old voice belongs to the old offset
	e.voiceBuf = nil
	e.capture.start()
	offset := e.rec.offset
	e.mu.Unlock()

	log.Printf("Recording started (offset %.3fs)", offset)
	e.emit(IsRecording{Recording: true})
	return nil
}

// recordEventLocked appends a drum hit at context time now while recording.
func (e *Engine) recordEventLocked(kind samples.Kind, now float64) {
	if !e.rec.recording {
		return
	}
	t := max(0, now-e.rec.t0)
	if n := len(e.rec.events); n > 0 && t < e.rec.events[n-1].Time {
		t = e.rec.events[n-1].Time
	}
	e.rec.events = append(e.rec.events, mixdown.DrumEvent{Kind: kind, Time: t})
}

// StopRecording ends the session, encodes the capture, and stores the
// decoded, normalized result as the voice of the full mix. It returns nil
// when nothing was captured. When the capture cannot be decoded back the
// take is still kept and retrievable by ID, but the voice stays unset.
func (e *Engine) StopRecording(ctx context.Context) (*Take, error) {
	e.mu.Lock()
	if !e.rec.recording {
		e.mu.Unlock()
		return nil, nil
	}
	e.rec.recording = false
	pcm := e.capture.stop()
	e.voiceBuf = nil
	events := len(e.rec.events)
	e.mu.Unlock()
	e.emit(IsRecording{Recording: false})

	frames := len(pcm) / audio.Channels
	if frames == 0 {
		log.Printf("Recording captured no audio (%d drum events)", events)
		return nil, nil
	}

	blob, err := e.captureEnc.Encode(ctx, audio.FromInterleaved(pcm, audio.Channels, e.opts.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("encode recording: %w", err)
	}
	take := &Take{ID: uuid.NewString(), Blob: blob, Gain: 1}
	take.URL = e.opts.RecordingsURL + take.ID

	voice, err := audio.Decode(ctx, blob.Data)
	if err != nil {
		log.Printf("Recording decode failed, keeping raw take %s: %v", take.ID, err)
	} else {
		voice, take.Gain = audio.Normalize(voice, e.opts.NormalizeTarget, e.opts.MaxNormalize)
	}

	e.mu.Lock()
	e.takes[take.ID] = blob
	if err == nil {
		e.voiceBuf = voice
	}
	e.mu.Unlock()

	log.Printf("Recording complete: %s, %.2fs, %d drum events, gain %.2f",
		take.ID, float64(frames)/float64(e.opts.SampleRate), events, take.Gain)
	e.emit(RecordingComplete{ID: take.ID, URL: take.URL})
	return take, nil
}

// opusCapture keeps takes as Ogg Opus.
type opusCapture struct {
	bitrate int
}

func (o opusCapture) Encode(_ context.Context, buf *audio.Buffer) (*mixdown.Blob, error) {
	var out bytes.Buffer
	if err := audio.EncodeOggOpus(&out, buf.Int16(), buf.NumChannels(), o.bitrate); err != nil {
		return nil, err
	}
	return &mixdown.Blob{Data: out.Bytes(), MIME: audio.MIMEOpus}, nil
}

// newCaptureEncoder picks the take format. Opus only runs at its native rate.
func newCaptureEncoder(opts Options) mixdown.Encoder {
	if opts.Capture == CaptureOpus && opts.SampleRate == audio.SampleRate {
		return opusCapture{bitrate: opts.CaptureBitrate}
	}
	return mixdown.WAVEncoder{}
}

// Recording returns a finished take by ID.
func (e *Engine) Recording(id string) (*mixdown.Blob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.takes[id]
	return b, ok
}

// IsRecording reports whether a recording session is active.
func (e *Engine) IsRecording() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.recording
}

// DrumEvents returns a copy of the drum sequence of the last recording.
func (e *Engine) DrumEvents() []mixdown.DrumEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]mixdown.DrumEvent(nil), e.rec.events...)
}

// RecordingOffset returns the uploaded track position at which the last
// recording started.
func (e *Engine) RecordingOffset() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.offset
}

// VoiceBuffer returns the recorded voice, or nil.
func (e *Engine) VoiceBuffer() *audio.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voiceBuf
}
