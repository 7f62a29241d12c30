package samples

import (
	"math"
	"math/rand"

	"github.com/satindergrewal/remix/internal/audio"
)

func mono(rate int, seconds float64) *audio.Buffer {
	return audio.NewBuffer(1, int(seconds*float64(rate)), rate)
}

// SynthKick renders a 0.5s sine sweep falling from 150Hz with an e^-8t
// amplitude envelope.
func SynthKick(rate int) *audio.Buffer {
	b := mono(rate, 0.5)
	for i := range b.Data[0] {
		t := float64(i) / float64(rate)
		// phase is the integral of f(t) = 150·e^(-10t)
		phase := 2 * math.Pi * 150 * (1 - math.Exp(-10*t)) / 10
		b.Data[0][i] = float32(math.Sin(phase) * math.Exp(-8*t))
	}
	return b
}

// SynthSnare renders 0.2s of 80% noise and 20% 180Hz tone under e^-20t.
func SynthSnare(rate int, rng *rand.Rand) *audio.Buffer {
	b := mono(rate, 0.2)
	for i := range b.Data[0] {
		t := float64(i) / float64(rate)
		noise := rng.Float64()*2 - 1
		tone := math.Sin(2 * math.Pi * 180 * t)
		b.Data[0][i] = float32((0.8*noise + 0.2*tone) * math.Exp(-20*t))
	}
	return b
}

// SynthHiHat renders 0.08s of noise at 30% under e^-50t.
func SynthHiHat(rate int, rng *rand.Rand) *audio.Buffer {
	b := mono(rate, 0.08)
	for i := range b.Data[0] {
		t := float64(i) / float64(rate)
		noise := rng.Float64()*2 - 1
		b.Data[0][i] = float32(0.3 * noise * math.Exp(-50*t))
	}
	return b
}

// SynthClick renders a 50ms metronome blip at freq Hz.
func SynthClick(rate int, freq float64) *audio.Buffer {
	b := mono(rate, 0.05)
	for i := range b.Data[0] {
		t := float64(i) / float64(rate)
		b.Data[0][i] = float32(math.Sin(2*math.Pi*freq*t) * math.Exp(-60*t))
	}
	return b
}
