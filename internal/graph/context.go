// Package graph is a small pull-based audio graph: gain stages, buffer
// sources scheduled on a sample clock, an analyser and capture taps.
//
// A Context renders in quanta of Quantum frames. Every node renders at most
// once per quantum, so a node feeding several destinations produces the same
// block for each of them. The context's clock is the number of frames
// rendered so far; nothing else advances it.
package graph

import (
	"math"
	"sync"
)

// Quantum is the render block size in frames.
const Quantum = 128

// Channels is the channel count of every node output.
const Channels = 2

// Node produces one block of audio per render pass.
// Implementations live in this package.
type Node interface {
	render(pass uint64, n int) [][]float32
}

// Input is anything a Node can be connected to.
type Input interface {
	addInput(Node)
	removeInput(Node)
}

// finisher is implemented by nodes that stop producing sound for good.
type finisher interface {
	finished() bool
}

// Context owns the clock and the node graph. All node mutation goes through
// the context lock, so nodes can be driven from any goroutine.
type Context struct {
	mu    sync.Mutex
	rate  int
	frame int64
	pass  uint64
	dest  *Gain
	sinks []Node
}

// NewContext creates a context running at rate frames per second.
func NewContext(rate int) *Context {
	c := &Context{rate: rate}
	c.dest = newGain(c, 1)
	return c
}

// SampleRate returns the context rate in Hz.
func (c *Context) SampleRate() int {
	return c.rate
}

// CurrentTime returns the context clock in seconds.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Frame returns the number of frames rendered so far.
func (c *Context) Frame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

func (c *Context) now() float64 {
	return float64(c.frame) / float64(c.rate)
}

// Destination is the output bus whose signal Render returns.
func (c *Context) Destination() *Gain {
	return c.dest
}

// AddSink registers a node that is rendered every quantum even though
// nothing downstream pulls from it.
func (c *Context) AddSink(n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, n)
}

// Connect routes src into dst.
func (c *Context) Connect(src Node, dst Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst.addInput(src)
}

// Disconnect removes src from dst. It is a no-op when they are not connected.
func (c *Context) Disconnect(src Node, dst Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst.removeInput(src)
}

// Render advances the clock by frames and returns the destination output,
// one slice per channel.
func (c *Context) Render(frames int) [][]float32 {
	out := make([][]float32, Channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for done := 0; done < frames; {
		n := min(Quantum, frames-done)
		c.pass++
		block := c.dest.render(c.pass, n)
		for _, s := range c.sinks {
			s.render(c.pass, n)
		}
		for ch := range out {
			copy(out[ch][done:done+n], block[ch])
		}
		c.frame += int64(n)
		done += n
	}
	return out
}

// frameAt converts a context time in seconds to a frame index.
func (c *Context) frameAt(t float64) int64 {
	return int64(math.Ceil(t*float64(c.rate) - 1e-9))
}

// block is the per-node output cache for one render pass.
type block struct {
	pass uint64
	buf  [][]float32
	view [][]float32
}

func newBlock() block {
	b := block{buf: make([][]float32, Channels), view: make([][]float32, Channels)}
	for ch := range b.buf {
		b.buf[ch] = make([]float32, Quantum)
	}
	return b
}

// fresh reports whether the block still needs rendering for pass and, if so,
// clears n frames of it.
func (b *block) fresh(pass uint64, n int) bool {
	for ch := range b.buf {
		b.view[ch] = b.buf[ch][:n]
	}
	if b.pass == pass {
		return false
	}
	b.pass = pass
	for ch := range b.view {
		clear(b.view[ch])
	}
	return true
}

// mixer sums a set of inputs. Finished inputs are dropped after they render.
type mixer struct {
	inputs []Node
}

func (m *mixer) addInput(n Node) {
	for _, in := range m.inputs {
		if in == n {
			return
		}
	}
	m.inputs = append(m.inputs, n)
}

func (m *mixer) removeInput(n Node) {
	for i, in := range m.inputs {
		if in == n {
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			return
		}
	}
}

func (m *mixer) mix(pass uint64, out [][]float32, n int) {
	live := m.inputs[:0]
	for _, in := range m.inputs {
		src := in.render(pass, n)
		for ch := range out {
			dst := out[ch]
			for i, s := range src[ch][:n] {
				dst[i] += s
			}
		}
		if f, ok := in.(finisher); ok && f.finished() {
			continue
		}
		live = append(live, in)
	}
	clear(m.inputs[len(live):])
	m.inputs = live
}
