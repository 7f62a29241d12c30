package engine

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/mixdown"
	"github.com/satindergrewal/remix/internal/samples"
)

const rate = audio.SampleRate

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	bank := samples.NewBank(rate)
	bank.EnsureSynthesized()
	opts := DefaultOptions()
	opts.Capture = CaptureWAV
	e := New(bank, opts)
	t.Cleanup(e.Close)
	return e
}

func tone(seconds float64, amp float32) *audio.Buffer {
	b := audio.NewBuffer(2, int(seconds*rate), rate)
	for i := range b.Data[0] {
		v := amp * float32(math.Sin(2*math.Pi*440*float64(i)/rate))
		b.Data[0][i] = v
		b.Data[1][i] = v
	}
	return b
}

func render(e *Engine, seconds float64) {
	e.Context().Render(int(math.Round(seconds * rate)))
}

func loadUpload(t *testing.T, e *Engine, seconds float64) {
	t.Helper()
	data, err := audio.WAVBytes(tone(seconds, 0.5))
	require.NoError(t, err)
	require.True(t, e.LoadUserFile(context.Background(), bytes.NewReader(data)))
}

// recordTake captures seconds of a tone through an attached microphone.
func recordTake(t *testing.T, e *Engine, seconds float64, amp float32) *Take {
	t.Helper()
	mic := e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	mic.Write(tone(seconds, amp).Interleave())
	render(e, seconds)
	take, err := e.StopRecording(context.Background())
	require.NoError(t, err)
	return take
}

// eventLog collects delivered events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func subscribe(t *testing.T, e *Engine) *eventLog {
	l := &eventLog{}
	unsub := e.Subscribe(func(ev Event) {
		l.mu.Lock()
		l.events = append(l.events, ev)
		l.mu.Unlock()
	})
	t.Cleanup(unsub)
	return l
}

func (l *eventLog) has(ev Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.events {
		if got == ev {
			return true
		}
	}
	return false
}

func (l *eventLog) waitFor(t *testing.T, ev Event) {
	t.Helper()
	assert.Eventually(t, func() bool { return l.has(ev) }, time.Second, 5*time.Millisecond, "event %#v", ev)
}

// --- Uploaded track ---

func TestPlayUserWithoutUpload(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.PlayUser())
	assert.False(t, e.UserTrack().Playing)
}

func TestLoadUserFile(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)

	loadUpload(t, e, 1)
	assert.InDelta(t, 1.0, e.UserBuffer().Duration(), 1e-9)
	log.waitFor(t, UserFileLoaded{Buffer: e.UserBuffer()})

	assert.False(t, e.LoadUserFile(context.Background(), bytes.NewReader([]byte("not audio"))))
	assert.InDelta(t, 1.0, e.UserBuffer().Duration(), 1e-9, "failed decode keeps the previous upload")
}

func TestRecordingOffsetScalesWithPitch(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 5)
	e.SetUserPitch(1.5)
	require.True(t, e.PlayUser())

	render(e, 2)
	e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	assert.InDelta(t, 3.0, e.RecordingOffset(), 1e-9)
}

func TestRecordingOffsetZeroWhenStopped(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 5)
	render(e, 1)
	e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	assert.Zero(t, e.RecordingOffset())
}

func TestPitchAndVolumeClamped(t *testing.T) {
	e := newTestEngine(t)
	e.SetUserPitch(4)
	e.SetUserVolume(-1)
	e.SetRecordPitch(0.1)
	e.SetRecordVolume(3)
	e.SetDrumPitch(9)

	assert.Equal(t, MaxPitch, e.UserTrack().Pitch)
	assert.Zero(t, e.UserTrack().Volume)
	assert.Equal(t, MinPitch, e.RecordTrack().Pitch)
	assert.Equal(t, 1.0, e.RecordTrack().Volume)
	assert.Equal(t, MaxPitch, e.DrumPitch())
}

func TestNaturalEnd(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)
	loadUpload(t, e, 0.1)
	require.True(t, e.PlayUser())
	log.waitFor(t, UserPlay{Playing: true})

	render(e, 0.2)
	assert.Eventually(t, func() bool { return !e.UserTrack().Playing }, time.Second, 5*time.Millisecond)
	log.waitFor(t, UserPlay{Playing: false})
	log.waitFor(t, Play{Playing: false})
}

func TestSimpleLoopRestarts(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 0.1)
	e.SetUserLoop(true)
	require.True(t, e.PlayUser())

	render(e, 0.2)
	assert.Eventually(t, func() bool {
		s := e.UserTrack()
		return s.Playing && s.StartedAt != nil && *s.StartedAt > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStaleCompletionIgnored(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 0.1)
	require.True(t, e.PlayUser())
	// restarting stops the first source, whose completion must not end
	// the second session
	require.True(t, e.PlayUser())
	render(e, 0.05)

	assert.Never(t, func() bool { return !e.UserTrack().Playing }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestStopUser(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)
	loadUpload(t, e, 1)
	require.True(t, e.PlayUser())
	e.StopUser()

	s := e.UserTrack()
	assert.False(t, s.Playing)
	assert.Nil(t, s.StartedAt)
	log.waitFor(t, UserPlay{Playing: false})
}

// --- Loop region ---

func TestLoopToggleWhileStopped(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 2)

	r := e.ToggleUserLoop()
	assert.Equal(t, LoopRegion{State: LoopActive, Start: 0, End: 2}, r)
	assert.Equal(t, LoopRegion{}, e.ToggleUserLoop())
}

func TestLoopToggleWithoutUpload(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, LoopOff, e.ToggleUserLoop().State)
}

func TestLoopCaptureWhilePlaying(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)
	loadUpload(t, e, 4)
	require.True(t, e.PlayUser())

	render(e, 1)
	r := e.ToggleUserLoop()
	assert.Equal(t, LoopRecording, r.State)
	assert.InDelta(t, 1.0, r.Start, 1e-9)

	render(e, 1)
	r = e.ToggleUserLoop()
	assert.Equal(t, LoopActive, r.State)
	assert.InDelta(t, 1.0, r.Start, 1e-9)
	assert.InDelta(t, 2.0, r.End, 1e-9)
	assert.True(t, e.user.sources.Background.Looping(), "bounds apply to the live source")
	log.waitFor(t, UserLoopState{Region: r})

	r = e.ToggleUserLoop()
	assert.Equal(t, LoopOff, r.State)
	assert.False(t, e.user.sources.Background.Looping())
}

func TestLoopTooShortSnapsToWholeBuffer(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 4)
	require.True(t, e.PlayUser())

	render(e, 1)
	e.ToggleUserLoop()
	render(e, 0.01)
	r := e.ToggleUserLoop()
	assert.Equal(t, LoopRegion{State: LoopActive, Start: 0, End: 4}, r)
}

func TestActiveLoopStartsFromRegion(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 4)
	require.True(t, e.PlayUser())
	render(e, 1)
	e.ToggleUserLoop()
	render(e, 1)
	e.ToggleUserLoop()
	e.StopUser()

	require.True(t, e.PlayUser())
	assert.InDelta(t, 1.0, e.user.sources.Background.Position(), 1e-9)
	assert.True(t, e.user.sources.Background.Looping())
}

func TestPositionFollowsLoopWrap(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 4)
	require.True(t, e.PlayUser())
	render(e, 1)
	e.ToggleUserLoop()
	render(e, 1)
	r := e.ToggleUserLoop()
	require.Equal(t, LoopActive, r.State)
	require.InDelta(t, 2.0, r.End, 1e-9)

	// five passes round the region
	render(e, 5)
	e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	assert.InDelta(t, 2.0, e.RecordingOffset(), 1e-9)

	assert.Equal(t, LoopOff, e.ToggleUserLoop().State)
	r = e.ToggleUserLoop()
	assert.Equal(t, LoopRecording, r.State)
	assert.InDelta(t, 2.0, r.Start, 1e-9)
	render(e, 0.5)
	r = e.ToggleUserLoop()
	assert.Equal(t, LoopActive, r.State)
	assert.InDelta(t, 2.0, r.Start, 1e-9)
	assert.InDelta(t, 2.5, r.End, 1e-9)
}

func TestWatchWithoutSources(t *testing.T) {
	e := newTestEngine(t)
	called := false
	e.watch(context.Background(), nil, func() []Event {
		called = true
		return nil
	})
	assert.False(t, called)
}

// --- Recorder ---

func TestStartRecordingRequiresMicrophone(t *testing.T) {
	e := newTestEngine(t)
	assert.ErrorIs(t, e.StartRecording(), ErrNoMicrophone)
	assert.False(t, e.IsRecording())
}

func TestRecordingTake(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)

	take := recordTake(t, e, 0.5, 0.2)
	require.NotNil(t, take)
	assert.Equal(t, audio.MIMEWAV, take.Blob.MIME)
	assert.Equal(t, "/api/recordings/"+take.ID, take.URL)
	assert.InDelta(t, 4.0, take.Gain, 0.01)

	voice := e.VoiceBuffer()
	require.NotNil(t, voice)
	assert.InDelta(t, 0.5, voice.Duration(), 1e-9)
	assert.InDelta(t, 0.8, voice.Peak(), 0.01)

	blob, ok := e.Recording(take.ID)
	require.True(t, ok)
	assert.Equal(t, take.Blob, blob)
	assert.False(t, e.IsRecording())
	log.waitFor(t, RecordingComplete{ID: take.ID, URL: take.URL})
	log.waitFor(t, IsRecording{Recording: false})
}

// garbageEncoder stands in for a capture encoder whose output cannot be
// decoded back.
type garbageEncoder struct{}

func (garbageEncoder) Encode(context.Context, *audio.Buffer) (*mixdown.Blob, error) {
	return &mixdown.Blob{Data: []byte("not audio"), MIME: audio.MIMEOpus}, nil
}

func TestRecordingKeepsUndecodableTake(t *testing.T) {
	e := newTestEngine(t)
	e.captureEnc = garbageEncoder{}
	log := subscribe(t, e)

	take := recordTake(t, e, 0.25, 0.4)
	require.NotNil(t, take)
	assert.Nil(t, e.VoiceBuffer())
	assert.Equal(t, float32(1), take.Gain)

	blob, ok := e.Recording(take.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("not audio"), blob.Data)
	log.waitFor(t, RecordingComplete{ID: take.ID, URL: take.URL})
}

func TestNewRecordingDropsOldVoice(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, recordTake(t, e, 0.25, 0.4))
	require.NotNil(t, e.VoiceBuffer())

	require.NoError(t, e.StartRecording())
	assert.Nil(t, e.VoiceBuffer())
	assert.False(t, e.PlayRecord(), "nothing of the new take exists yet")
}

func TestCaptureEncoderFormat(t *testing.T) {
	opts := DefaultOptions()
	assert.IsType(t, opusCapture{}, newCaptureEncoder(opts))
	opts.SampleRate = 44100
	assert.IsType(t, mixdown.WAVEncoder{}, newCaptureEncoder(opts))
	opts = DefaultOptions()
	opts.Capture = CaptureWAV
	assert.IsType(t, mixdown.WAVEncoder{}, newCaptureEncoder(opts))
}

func TestRecordingSilenceIsEmpty(t *testing.T) {
	e := newTestEngine(t)
	e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	take, err := e.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Nil(t, take)
	assert.Nil(t, e.VoiceBuffer())
}

func TestStopRecordingWhenIdle(t *testing.T) {
	e := newTestEngine(t)
	take, err := e.StopRecording(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, take)
}

func TestDrumEventsDuringRecording(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, e.TriggerDrum(samples.Kick))
	assert.Empty(t, e.DrumEvents(), "hits outside a recording are not sequenced")

	e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	e.TriggerDrum(samples.Kick)
	render(e, 0.5)
	e.TriggerDrum(samples.Snare)
	render(e, 0.25)
	e.TriggerDrum(samples.HiHat)

	assert.Equal(t, []mixdown.DrumEvent{
		{Kind: samples.Kick, Time: 0},
		{Kind: samples.Snare, Time: 0.5},
		{Kind: samples.HiHat, Time: 0.75},
	}, e.DrumEvents())

	// a new recording resets the sequence
	_, err := e.StopRecording(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.StartRecording())
	assert.Empty(t, e.DrumEvents())
}

func TestTriggerDrumWithoutSample(t *testing.T) {
	bank := samples.NewBank(rate)
	e := New(bank, DefaultOptions())
	t.Cleanup(e.Close)
	assert.False(t, e.TriggerDrum(samples.Snare))
}

// --- Full mix ---

func TestPlayRecordRequiresTake(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.PlayRecord())
}

func TestTracksAreMutuallyExclusive(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 2)
	require.NotNil(t, recordTake(t, e, 0.25, 0.4))

	require.True(t, e.PlayUser())
	require.True(t, e.PlayRecord())
	assert.False(t, e.UserTrack().Playing)
	assert.True(t, e.RecordTrack().Playing)

	require.True(t, e.PlayUser())
	assert.True(t, e.UserTrack().Playing)
	assert.False(t, e.RecordTrack().Playing)
}

func TestFullMixCouplesBackground(t *testing.T) {
	e := newTestEngine(t)
	loadUpload(t, e, 2)
	require.NotNil(t, recordTake(t, e, 0.25, 0.4))
	e.SetUserVolume(0.5)
	e.SetUserPitch(1.5)

	require.True(t, e.PlayRecord())
	e.SetRecordVolume(0.5)
	e.SetRecordPitch(2)
	assert.InDelta(t, 0.25, e.uploadedGain.Gain().Target(), 1e-12)
	assert.InDelta(t, 3.0, e.record.sources.Background.PlaybackRate().Target(), 1e-12)
	assert.InDelta(t, 2.0, e.record.sources.Voice.PlaybackRate().Target(), 1e-12)

	e.StopRecord()
	assert.InDelta(t, 0.5, e.uploadedGain.Gain().Target(), 1e-12, "uploaded volume restored")
}

func TestFullMixStartsAfterDelay(t *testing.T) {
	e := newTestEngine(t)
	require.NotNil(t, recordTake(t, e, 0.25, 0.4))
	now := e.Context().CurrentTime()
	require.True(t, e.PlayRecord())
	require.NotNil(t, e.RecordTrack().StartedAt)
	assert.InDelta(t, now+e.opts.PlaybackDelay, *e.RecordTrack().StartedAt, 1e-9)
}

func TestRecordLoopEvent(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)
	e.SetRecordLoop(true)
	assert.True(t, e.RecordTrack().Loop)
	log.waitFor(t, RecordLoop{On: true})
}

func TestExportEmptyMix(t *testing.T) {
	e := newTestEngine(t)
	blob, err := e.ExportMix(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, blob)
}

func TestSnapshotIsolated(t *testing.T) {
	e := newTestEngine(t)
	e.AttachMicrophone()
	require.NoError(t, e.StartRecording())
	e.TriggerDrum(samples.Kick)
	snap := e.Snapshot()
	e.TriggerDrum(samples.Snare)
	e.SetRecordPitch(2)

	assert.Len(t, snap.Events, 1)
	assert.Equal(t, 1.0, snap.Recorded.Pitch)
}

// --- Metronome ---

func TestSetBPM(t *testing.T) {
	e := newTestEngine(t)
	log := subscribe(t, e)
	assert.Equal(t, 208.0, e.SetBPM(300))
	assert.Equal(t, 208.0, e.BPM())
	log.waitFor(t, BPM{BPM: 208})
}

// --- Events ---

func TestBusLatestValueWins(t *testing.T) {
	b := newBus()
	gate := make(chan struct{})
	got := make(chan Event, 16)
	unsub := b.subscribe(func(ev Event) {
		if _, ok := ev.(Play); ok {
			<-gate
		}
		got <- ev
	})
	defer unsub()

	b.publish(Play{Playing: true})
	// give the subscriber time to block inside the first callback
	time.Sleep(20 * time.Millisecond)
	b.publish(BPM{BPM: 100}, Beat{Index: 1})
	b.publish(BPM{BPM: 120})
	close(gate)

	var seen []Event
	for len(seen) < 3 {
		select {
		case ev := <-got:
			seen = append(seen, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", seen)
		}
	}
	assert.Equal(t, []Event{Play{Playing: true}, BPM{BPM: 120}, Beat{Index: 1}}, seen)
}

func TestBusUnsubscribe(t *testing.T) {
	b := newBus()
	got := make(chan Event, 4)
	unsub := b.subscribe(func(ev Event) { got <- ev })
	unsub()
	unsub()

	b.publish(Metronome{On: true})
	select {
	case ev := <-got:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopStateJSON(t *testing.T) {
	data, err := LoopActive.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"active"`, string(data))
}
