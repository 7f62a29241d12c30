package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is decoded audio held in memory, one slice per channel.
// Buffers are treated as immutable once handed out.
type Buffer struct {
	Data [][]float32
	Rate int
}

// NewBuffer allocates a silent buffer.
func NewBuffer(channels, frames, rate int) *Buffer {
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	return &Buffer{Data: data, Rate: rate}
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	return len(b.Data)
}

// Len returns the number of frames (samples per channel).
func (b *Buffer) Len() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.Rate == 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.Rate)
}

// Empty reports whether the buffer is nil or holds no frames.
func (b *Buffer) Empty() bool {
	return b == nil || b.Len() == 0
}

// Peak returns the largest absolute sample value across all channels.
func (b *Buffer) Peak() float32 {
	var peak float32
	for _, ch := range b.Data {
		for _, s := range ch {
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
	}
	return peak
}

// Interleave returns the samples as a single interleaved slice.
func (b *Buffer) Interleave() []float32 {
	n, chans := b.Len(), b.NumChannels()
	out := make([]float32, n*chans)
	for ch, data := range b.Data {
		for i, s := range data {
			out[i*chans+ch] = s
		}
	}
	return out
}

// Int16 returns interleaved 16-bit PCM, clipped to [-1, 1] before conversion.
func (b *Buffer) Int16() []int16 {
	f := b.Interleave()
	out := make([]int16, len(f))
	for i, s := range f {
		out[i] = Quantize(s)
	}
	return out
}

// FromInterleaved builds a Buffer from interleaved float samples.
func FromInterleaved(samples []float32, channels, rate int) *Buffer {
	frames := len(samples) / channels
	b := NewBuffer(channels, frames, rate)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			b.Data[ch][i] = samples[i*channels+ch]
		}
	}
	return b
}

// FromInt16 builds a Buffer from interleaved 16-bit PCM.
func FromInt16(samples []int16, channels, rate int) *Buffer {
	return FromInterleaved(Int16ToFloat(samples), channels, rate)
}

// Int16ToFloat converts 16-bit PCM to floats in [-1, 1).
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// Quantize converts one float sample to 16-bit PCM with symmetric clipping.
func Quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}
