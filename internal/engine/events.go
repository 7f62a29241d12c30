package engine

import (
	"sync"

	"github.com/satindergrewal/remix/internal/audio"
)

// Event is a state change notification. Name identifies the event kind;
// a subscriber holds at most one undelivered event per name.
type Event interface {
	Name() string
}

// Play reports whether either track is playing.
type Play struct{ Playing bool }

// UserPlay reports the uploaded track's playing state.
type UserPlay struct{ Playing bool }

// RecordPlay reports the full-mix playing state.
type RecordPlay struct{ Playing bool }

// BPM reports a tempo change.
type BPM struct{ BPM float64 }

// Beat reports a metronome beat as it sounds.
type Beat struct{ Index int }

// IsRecording reports the recorder state.
type IsRecording struct{ Recording bool }

// Metronome reports the metronome switch.
type Metronome struct{ On bool }

// RecordingComplete carries the URL of a finished capture.
type RecordingComplete struct {
	ID  string
	URL string
}

// UserFileLoaded carries a newly decoded upload.
type UserFileLoaded struct{ Buffer *audio.Buffer }

// UserLoopState reports the loop region of the uploaded track.
type UserLoopState struct{ Region LoopRegion }

// RecordLoop reports the full-mix loop flag.
type RecordLoop struct{ On bool }

func (Play) Name() string { return "play" }
func (UserPlay) Name() string { return "userPlay" }
func (RecordPlay) Name() string { return "recordPlay" }
func (BPM) Name() string { return "bpm" }
func (Beat) Name() string { return "beat" }
func (IsRecording) Name() string { return "isRecording" }
func (Metronome) Name() string { return "metronome" }
func (RecordingComplete) Name() string { return "recordingComplete" }
func (UserFileLoaded) Name() string { return "userFileLoaded" }
func (UserLoopState) Name() string { return "userLoopState" }
func (RecordLoop) Name() string { return "recordLoop" }

// bus fans events out to subscribers. Each subscriber has its own goroutine
// so a slow callback only delays itself.
type bus struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	fn   func(Event)
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	order   []string
	pending map[string]Event
}

func newBus() *bus {
	return &bus{subs: make(map[*subscriber]struct{})}
}

func (b *bus) subscribe(fn func(Event)) func() {
	s := &subscriber{
		fn:      fn,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[string]Event),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	go s.run()

	return sync.OnceFunc(func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.done)
	})
}

func (b *bus) publish(events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.offer(events)
	}
}

func (s *subscriber) offer(events []Event) {
	s.mu.Lock()
	for _, ev := range events {
		if _, ok := s.pending[ev.Name()]; !ok {
			s.order = append(s.order, ev.Name())
		}
		s.pending[ev.Name()] = ev
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		order, pending := s.order, s.pending
		s.order, s.pending = nil, make(map[string]Event)
		s.mu.Unlock()

		for _, name := range order {
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(pending[name])
		}
	}
}
