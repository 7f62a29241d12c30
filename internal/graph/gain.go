package graph

// Gain sums its inputs and scales the result by a smoothed gain param.
type Gain struct {
	mixer
	ctx  *Context
	gain *Param
	out  block
}

// NewGain creates a gain stage with an initial value.
func (c *Context) NewGain(v float64) *Gain {
	return newGain(c, v)
}

func newGain(c *Context, v float64) *Gain {
	return &Gain{ctx: c, gain: newParam(c, v), out: newBlock()}
}

// Gain returns the gain param.
func (g *Gain) Gain() *Param {
	return g.gain
}

// RampTo moves the gain to v with time constant tau seconds.
func (g *Gain) RampTo(v, tau float64) {
	g.gain.SetTargetAtTime(v, tau)
}

// Value returns the current gain.
func (g *Gain) Value() float64 {
	return g.gain.Value()
}

func (g *Gain) render(pass uint64, n int) [][]float32 {
	if !g.out.fresh(pass, n) {
		return g.out.view
	}
	out := g.out.view
	g.mix(pass, out, n)
	for i := 0; i < n; i++ {
		k := float32(g.gain.next())
		for ch := range out {
			out[ch][i] *= k
		}
	}
	return out
}
