package graph

import (
	"math"
	"math/cmplx"

	"github.com/maddyblue/go-dsp/fft"
)

// Analyser keeps the most recent FFTSize mono samples of its inputs and
// produces time and frequency snapshots on demand. It is a sink: the context
// renders it every quantum.
type Analyser struct {
	mixer
	ctx *Context
	out block

	ring []float32
	pos  int

	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
	smoothed    []float64
}

// NewAnalyser creates an analyser with a power-of-two fftSize and registers
// it as a sink of c.
func (c *Context) NewAnalyser(fftSize int) *Analyser {
	a := &Analyser{
		ctx:         c,
		out:         newBlock(),
		ring:        make([]float32, fftSize),
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
		smoothed:    make([]float64, fftSize/2),
	}
	c.AddSink(a)
	return a
}

// FFTSize returns the analysis window length.
func (a *Analyser) FFTSize() int {
	return len(a.ring)
}

func (a *Analyser) render(pass uint64, n int) [][]float32 {
	if !a.out.fresh(pass, n) {
		return a.out.view
	}
	out := a.out.view
	a.mix(pass, out, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := range out {
			sum += out[ch][i]
		}
		a.ring[a.pos] = sum / float32(len(out))
		a.pos = (a.pos + 1) % len(a.ring)
	}
	return out
}

// window returns the ring contents oldest first. Called with the lock held.
func (a *Analyser) window() []float32 {
	w := make([]float32, len(a.ring))
	n := copy(w, a.ring[a.pos:])
	copy(w[n:], a.ring[:a.pos])
	return w
}

// TimeDomainData returns the latest FFTSize samples, oldest first.
func (a *Analyser) TimeDomainData() []float32 {
	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	return a.window()
}

// ByteTimeDomainData maps the time-domain samples to bytes, 128 being zero.
func (a *Analyser) ByteTimeDomainData() []byte {
	samples := a.TimeDomainData()
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = byte(clamp(128*(float64(s)+1), 0, 255))
	}
	return out
}

// FrequencyData returns FFTSize/2 magnitude bins mapped linearly from
// [MinDecibels, MaxDecibels] to [0, 255]. Each call folds the current
// spectrum into the running average controlled by Smoothing.
func (a *Analyser) FrequencyData() []byte {
	a.ctx.mu.Lock()
	samples := a.window()
	a.ctx.mu.Unlock()

	size := len(samples)
	x := make([]float64, size)
	for i, s := range samples {
		x[i] = float64(s) * blackman(i, size)
	}
	spectrum := fft.FFTReal(x)

	a.ctx.mu.Lock()
	defer a.ctx.mu.Unlock()
	out := make([]byte, len(a.smoothed))
	span := a.MaxDecibels - a.MinDecibels
	for k := range a.smoothed {
		mag := cmplx.Abs(spectrum[k]) / float64(size)
		a.smoothed[k] = a.Smoothing*a.smoothed[k] + (1-a.Smoothing)*mag
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		out[k] = byte(clamp(255*(db-a.MinDecibels)/span, 0, 255))
	}
	return out
}

func blackman(i, n int) float64 {
	x := 2 * math.Pi * float64(i) / float64(n)
	return 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
