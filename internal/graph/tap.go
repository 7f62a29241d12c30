package graph

// Tap is a sink that hands every rendered block of its inputs to a
// callback. The callback runs on the render goroutine with the context lock
// held: it must copy what it keeps and must not call back into the context.
type Tap struct {
	mixer
	fn  func(block [][]float32)
	out block
}

// NewTap creates a tap and registers it as a sink of c.
func (c *Context) NewTap(fn func(block [][]float32)) *Tap {
	t := &Tap{fn: fn, out: newBlock()}
	c.AddSink(t)
	return t
}

func (t *Tap) render(pass uint64, n int) [][]float32 {
	if !t.out.fresh(pass, n) {
		return t.out.view
	}
	t.mix(pass, t.out.view, n)
	t.fn(t.out.view)
	return t.out.view
}
