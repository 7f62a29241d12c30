package graph

import (
	"context"
	"sync"
	"time"

	"github.com/satindergrewal/remix/internal/audio"
)

// Driver renders a Context in real time, one 20ms frame per tick, and
// publishes interleaved 16-bit frames for the monitor stream.
type Driver struct {
	ctx     *Context
	frameCh chan []int16

	mu       sync.RWMutex
	rendered time.Duration
	dropped  int
}

// NewDriver creates a realtime driver for c.
func NewDriver(c *Context) *Driver {
	return &Driver{
		ctx:     c,
		frameCh: make(chan []int16, 100),
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (d *Driver) Frames() <-chan []int16 {
	return d.frameCh
}

// Status returns how much audio has been rendered and how many frames were
// dropped because nobody was reading.
func (d *Driver) Status() (rendered time.Duration, dropped int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rendered, d.dropped
}

// Run renders until ctx is cancelled. The clock keeps moving even when the
// frame channel is full: a stalled listener must not stall the engine.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		block := d.ctx.Render(audio.FrameSize)
		frame := make([]int16, audio.FrameSize*len(block))
		for ch, data := range block {
			for i, s := range data {
				frame[i*len(block)+ch] = audio.Quantize(s)
			}
		}

		d.mu.Lock()
		d.rendered += audio.FrameDuration
		select {
		case d.frameCh <- frame:
		default:
			d.dropped++
		}
		d.mu.Unlock()
	}
}
