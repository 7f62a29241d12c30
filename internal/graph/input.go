package graph

import "sync"

// StreamInput is a source fed with live interleaved PCM from another
// goroutine, such as a decoded microphone track. When the queue runs dry it
// renders silence.
type StreamInput struct {
	mu       sync.Mutex
	channels int
	queue    []float32
	limit    int
	closed   bool

	out block
}

// NewStreamInput creates an input for PCM with the given channel count at
// the context rate. At most one second is buffered; older audio is dropped.
func (c *Context) NewStreamInput(channels int) *StreamInput {
	return &StreamInput{
		channels: channels,
		limit:    c.rate * channels,
		out:      newBlock(),
	}
}

// Write queues interleaved samples.
func (s *StreamInput) Write(pcm []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, pcm...)
	if over := len(s.queue) - s.limit; over > 0 {
		over += (s.channels - over%s.channels) % s.channels
		s.queue = append(s.queue[:0], s.queue[over:]...)
	}
}

// WriteInt16 queues interleaved 16-bit samples.
func (s *StreamInput) WriteInt16(pcm []int16) {
	f := make([]float32, len(pcm))
	for i, v := range pcm {
		f[i] = float32(v) / 32768
	}
	s.Write(f)
}

// Buffered returns the number of queued frames.
func (s *StreamInput) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) / s.channels
}

// Close marks the input as ended; it is removed from its destinations on
// the next render.
func (s *StreamInput) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.queue = nil
}

func (s *StreamInput) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *StreamInput) render(pass uint64, n int) [][]float32 {
	if !s.out.fresh(pass, n) {
		return s.out.view
	}
	out := s.out.view

	s.mu.Lock()
	defer s.mu.Unlock()
	frames := min(n, len(s.queue)/s.channels)
	for i := 0; i < frames; i++ {
		for ch := range out {
			out[ch][i] = s.queue[i*s.channels+min(ch, s.channels-1)]
		}
	}
	s.queue = append(s.queue[:0], s.queue[frames*s.channels:]...)
	return out
}
