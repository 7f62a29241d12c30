package graph

import "math"

// Param is an automatable value read once per frame by the node owning it.
type Param struct {
	ctx    *Context
	value  float64
	target float64
	coeff  float64
}

func newParam(c *Context, v float64) *Param {
	return &Param{ctx: c, value: v, target: v}
}

// SetValue jumps to v immediately. Meant for node creation; runtime changes
// should go through SetTargetAtTime.
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.value, p.target, p.coeff = v, v, 0
}

// SetTargetAtTime approaches target exponentially with time constant tau
// seconds, starting at the next rendered frame.
func (p *Param) SetTargetAtTime(target, tau float64) {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	p.target = target
	if tau <= 0 {
		p.value, p.coeff = target, 0
		return
	}
	p.coeff = 1 - math.Exp(-1/(tau*float64(p.ctx.rate)))
}

// Value returns the current value.
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.value
}

// Target returns the value the param is heading to.
func (p *Param) Target() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.target
}

// next returns the value for the current frame and advances the ramp.
// Called with the context lock held.
func (p *Param) next() float64 {
	v := p.value
	if p.coeff != 0 {
		p.value += (p.target - p.value) * p.coeff
		if math.Abs(p.target-p.value) < 1e-5 {
			p.value, p.coeff = p.target, 0
		}
	}
	return v
}
