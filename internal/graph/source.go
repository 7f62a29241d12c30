package graph

import (
	"math"
	"sync"

	"github.com/satindergrewal/remix/internal/audio"
)

// BufferSource plays an audio.Buffer once, or looped, from a scheduled
// start frame. Buffers at a different rate are resampled by linear
// interpolation.
type BufferSource struct {
	ctx  *Context
	buf  *audio.Buffer
	rate *Param

	loop               bool
	loopStart, loopEnd float64

	scheduled bool
	start     int64
	pos       float64 // in buffer frames
	ended     bool

	done     chan struct{}
	doneOnce sync.Once
	out      block
}

// NewBufferSource creates an idle source for buf. It makes no sound until
// Start is called.
func (c *Context) NewBufferSource(buf *audio.Buffer) *BufferSource {
	return &BufferSource{
		ctx:  c,
		buf:  buf,
		rate: newParam(c, 1),
		done: make(chan struct{}),
		out:  newBlock(),
	}
}

// PlaybackRate is the speed multiplier; it shifts pitch and tempo together.
func (s *BufferSource) PlaybackRate() *Param {
	return s.rate
}

// SetLoop sets loop bounds in buffer seconds. end <= 0 or past the buffer
// means the buffer end. Takes effect on the next rendered frame.
func (s *BufferSource) SetLoop(on bool, start, end float64) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.loop, s.loopStart, s.loopEnd = on, start, end
}

// Looping reports whether the loop flag is set.
func (s *BufferSource) Looping() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.loop
}

// Start schedules playback at context time when, from offset seconds into
// the buffer. A time already in the past starts at the next frame.
func (s *BufferSource) Start(when, offset float64) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	if s.scheduled || s.ended {
		return
	}
	s.scheduled = true
	s.start = max(s.ctx.frameAt(when), s.ctx.frame)
	s.pos = max(0, offset) * float64(s.buf.Rate)
}

// Stop silences the source for good and closes Done.
func (s *BufferSource) Stop() {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	s.finish()
}

// Done is closed once the source has played out or been stopped.
func (s *BufferSource) Done() <-chan struct{} {
	return s.done
}

// Position returns the playhead in buffer seconds.
func (s *BufferSource) Position() float64 {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.pos / float64(s.buf.Rate)
}

// Buffer returns the buffer being played.
func (s *BufferSource) Buffer() *audio.Buffer {
	return s.buf
}

func (s *BufferSource) finish() {
	s.ended = true
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *BufferSource) finished() bool {
	return s.ended
}

// loopBounds returns the active loop window in buffer frames.
func (s *BufferSource) loopBounds() (lo, hi float64) {
	length := float64(s.buf.Len())
	rate := float64(s.buf.Rate)
	lo, hi = s.loopStart*rate, s.loopEnd*rate
	if hi <= 0 || hi > length {
		hi = length
	}
	if lo < 0 || lo >= hi {
		lo = 0
	}
	return lo, hi
}

func (s *BufferSource) render(pass uint64, n int) [][]float32 {
	if !s.out.fresh(pass, n) {
		return s.out.view
	}
	out := s.out.view
	if !s.scheduled || s.ended || s.buf.Empty() {
		if s.scheduled && s.buf.Empty() {
			s.finish()
		}
		return out
	}

	length := float64(s.buf.Len())
	step := float64(s.buf.Rate) / float64(s.ctx.rate)
	chans := s.buf.NumChannels()
	first := int(max(0, s.start-s.ctx.frame))

	for i := first; i < n; i++ {
		if s.loop {
			lo, hi := s.loopBounds()
			if s.pos >= hi {
				s.pos = lo + math.Mod(s.pos-hi, hi-lo)
			}
		} else if s.pos >= length {
			s.finish()
			break
		}

		idx := int(s.pos)
		frac := float32(s.pos - float64(idx))
		for ch := range out {
			data := s.buf.Data[min(ch, chans-1)]
			a := data[idx]
			b := a
			if idx+1 < len(data) {
				b = data[idx+1]
			}
			out[ch][i] = a + (b-a)*frac
		}
		s.pos += s.rate.next() * step
	}
	return out
}
