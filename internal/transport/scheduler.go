// Package transport is the metronome: a lookahead scheduler that places
// beats on the audio clock ahead of time and reports them to listeners.
package transport

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	MinBPM      = 40
	MaxBPM      = 208
	DefaultBPM  = 120
	BeatsPerBar = 4
)

// Clock is the audio clock beats are scheduled against.
type Clock interface {
	CurrentTime() float64
}

// ClickFunc plays a click at context time when. The first beat of each bar
// is accented.
type ClickFunc func(when float64, accent bool)

// BeatFunc is told the beat index once the beat is actually heard.
type BeatFunc func(index int)

// Config holds scheduler timing.
type Config struct {
	PollInterval time.Duration // how often the lookahead window is filled
	Lookahead    float64       // seconds scheduled ahead of the clock
	StartDelay   float64       // gap between Start and the first beat
}

// DefaultConfig returns 25ms polling with a 100ms lookahead.
func DefaultConfig() Config {
	return Config{
		PollInterval: 25 * time.Millisecond,
		Lookahead:    0.1,
		StartDelay:   0.05,
	}
}

// Beat is one scheduled metronome beat.
type Beat struct {
	Index int
	Time  float64
}

// Scheduler polls the clock and schedules beats inside the lookahead window.
// Timer jitter only affects when beats are scheduled, never when they sound.
type Scheduler struct {
	clock   Clock
	cfg     Config
	clickFn ClickFunc
	beatFn  BeatFunc

	mu       sync.Mutex
	bpm      float64
	beat     int
	nextTime float64
	clicks   bool
	running  bool
	gen      uint64
	cancel   context.CancelFunc
}

// NewScheduler creates a stopped scheduler at DefaultBPM.
func NewScheduler(clock Clock, cfg Config, click ClickFunc, beat BeatFunc) *Scheduler {
	return &Scheduler{
		clock:   clock,
		cfg:     cfg,
		clickFn: click,
		beatFn:  beat,
		bpm:     DefaultBPM,
		clicks:  true,
	}
}

// ClampBPM limits bpm to [MinBPM, MaxBPM].
func ClampBPM(bpm float64) float64 {
	return min(max(bpm, MinBPM), MaxBPM)
}

// SetBPM changes the tempo from the next scheduled beat on and returns the
// clamped value.
func (s *Scheduler) SetBPM(bpm float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bpm = ClampBPM(bpm)
	return s.bpm
}

// BPM returns the current tempo.
func (s *Scheduler) BPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bpm
}

// SetClicks enables or disables the audible click. Beat notifications are
// delivered either way.
func (s *Scheduler) SetClicks(on bool) {
	s.mu.Lock()
	s.clicks = on
	s.mu.Unlock()
}

// Running reports whether the poll loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start begins scheduling from beat 0, StartDelay after the current clock
// time. It is a no-op while already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.gen++
	s.beat = 0
	s.nextTime = s.clock.CurrentTime() + s.cfg.StartDelay

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	log.Printf("Metronome started at %.0f BPM", s.bpm)
}

// Stop cancels polling and any beat notification not yet delivered.
// Clicks already handed to the audio clock still sound.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.gen++
	s.cancel()
	log.Println("Metronome stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Scheduler) poll() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	now := s.clock.CurrentTime()
	beats := s.advance(now)
	clicks, gen := s.clicks, s.gen
	s.mu.Unlock()

	for _, b := range beats {
		if clicks && s.clickFn != nil {
			s.clickFn(b.Time, b.Index == 0)
		}
		if s.beatFn == nil {
			continue
		}
		index := b.Index
		time.AfterFunc(seconds(b.Time-now), func() {
			s.mu.Lock()
			live := s.running && s.gen == gen
			s.mu.Unlock()
			if live {
				s.beatFn(index)
			}
		})
	}
}

// advance returns every beat due before now+Lookahead and moves the
// schedule past them. Called with the lock held.
func (s *Scheduler) advance(now float64) []Beat {
	var beats []Beat
	for s.nextTime < now+s.cfg.Lookahead {
		beats = append(beats, Beat{Index: s.beat, Time: s.nextTime})
		s.nextTime += 60 / s.bpm
		s.beat = (s.beat + 1) % BeatsPerBar
	}
	return beats
}

func seconds(d float64) time.Duration {
	if d < 0 {
		return 0
	}
	return time.Duration(d * float64(time.Second))
}
