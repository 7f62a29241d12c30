package audio

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- Buffer ---

func TestBufferDuration(t *testing.T) {
	b := NewBuffer(2, 24000, 48000)
	if b.Duration() != 0.5 {
		t.Errorf("Duration = %v, want 0.5", b.Duration())
	}
	var nilBuf *Buffer
	if nilBuf.Duration() != 0 || !nilBuf.Empty() {
		t.Error("nil buffer should be empty with zero duration")
	}
}

func TestInterleaveRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.1, 0.2, -0.2, 0.3, -0.3}
	b := FromInterleaved(in, 2, 44100)
	if b.Len() != 3 || b.NumChannels() != 2 {
		t.Fatalf("got %d frames x %d channels, want 3x2", b.Len(), b.NumChannels())
	}
	if b.Data[1][2] != -0.3 {
		t.Errorf("right channel frame 2 = %v, want -0.3", b.Data[1][2])
	}
	for i, v := range b.Interleave() {
		if v != in[i] {
			t.Errorf("sample[%d] = %v, want %v", i, v, in[i])
		}
	}
}

func TestQuantizeClipping(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{1.5, 32767},
		{-3, -32768},
		{0.5, 16383},
	}
	for _, tt := range tests {
		if got := Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// --- SamplesToBytes ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}

	recovered := bytesToSamples(buf)
	for i, v := range samples {
		if recovered[i] != v {
			t.Errorf("Round-trip sample[%d]: got %d, want %d", i, recovered[i], v)
		}
	}
}

// --- Normalize ---

func sine(peak float32, frames int) *Buffer {
	b := NewBuffer(2, frames, SampleRate)
	for i := 0; i < frames; i++ {
		v := peak * float32(math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		b.Data[0][i] = v
		b.Data[1][i] = v / 2
	}
	return b
}

func TestNormalizeReachesTarget(t *testing.T) {
	out, gain := Normalize(sine(0.4, 4800), 0.8, 5)
	if math.Abs(float64(gain)-2) > 1e-3 {
		t.Errorf("gain = %v, want ~2", gain)
	}
	if p := out.Peak(); math.Abs(float64(p)-0.8) > 1e-3 {
		t.Errorf("peak after normalize = %v, want 0.8", p)
	}
}

func TestNormalizeCapsGain(t *testing.T) {
	out, gain := Normalize(sine(0.01, 4800), 0.8, 5)
	if gain != 5 {
		t.Errorf("gain = %v, want capped at 5", gain)
	}
	if p := out.Peak(); p > 0.0501 {
		t.Errorf("peak = %v, want <= 0.05", p)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once, _ := Normalize(sine(0.3, 4800), 0.8, 5)
	twice, gain := Normalize(once, 0.8, 5)
	if twice != once {
		t.Error("normalizing a normalized buffer should return the same buffer")
	}
	if gain != 1 {
		t.Errorf("second pass gain = %v, want 1", gain)
	}
}

func TestNormalizeSkipsSilenceAndLoud(t *testing.T) {
	silent := NewBuffer(1, 100, SampleRate)
	if out, _ := Normalize(silent, 0.8, 5); out != silent {
		t.Error("silent buffer should be returned unchanged")
	}
	loud := sine(0.95, 100)
	if out, _ := Normalize(loud, 0.8, 5); out != loud {
		t.Error("buffer above target should be returned unchanged")
	}
}

// --- Codecs ---

func TestWAVRoundTrip(t *testing.T) {
	in := sine(0.5, 2400)
	data, err := WAVBytes(in)
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}

	out, err := Decode(context.Background(), data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Rate != SampleRate || out.NumChannels() != 2 || out.Len() != in.Len() {
		t.Fatalf("decoded %dHz %dch %d frames, want %dHz 2ch %d frames",
			out.Rate, out.NumChannels(), out.Len(), SampleRate, in.Len())
	}
	for i := 0; i < in.Len(); i += 97 {
		if d := math.Abs(float64(out.Data[0][i] - in.Data[0][i])); d > 1.0/8192 {
			t.Errorf("frame %d differs by %v after 16-bit round trip", i, d)
		}
	}
}

func TestDecodeEmpty(t *testing.T) {
	if _, err := Decode(context.Background(), nil); err == nil {
		t.Error("Decode(nil) should fail")
	}
}

func TestSniffing(t *testing.T) {
	if !isWAV([]byte("RIFF\x00\x00\x00\x00WAVEfmt ")) {
		t.Error("RIFF/WAVE not detected")
	}
	if !isMP3([]byte("ID3\x04")) || !isMP3([]byte{0xFF, 0xFB, 0x90}) {
		t.Error("MP3 not detected")
	}
	if isMP3([]byte("OggS")) || isWAV([]byte("OggS")) {
		t.Error("Ogg misdetected")
	}
}

func TestEncodeOggOpusHeader(t *testing.T) {
	var out bytes.Buffer
	pcm := sine(0.5, FrameSize*3+10).Int16()
	if err := EncodeOggOpus(&out, pcm, Channels, 64000); err != nil {
		t.Fatalf("EncodeOggOpus: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("OggS")) {
		t.Error("output does not start with an Ogg page")
	}
	if !bytes.Contains(out.Bytes(), []byte("OpusHead")) {
		t.Error("output has no OpusHead header")
	}
}

// onset returns the first frame whose left sample reaches level.
func onset(b *Buffer, level float32) int {
	for i, v := range b.Data[0] {
		if v >= level || v <= -level {
			return i
		}
	}
	return -1
}

func TestOggOpusKeepsAlignment(t *testing.T) {
	// 100ms of silence, then a tone
	in := NewBuffer(2, SampleRate/2, SampleRate)
	for i := SampleRate / 10; i < in.Len(); i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		in.Data[0][i] = v
		in.Data[1][i] = v
	}
	var out bytes.Buffer
	if err := EncodeOggOpus(&out, in.Int16(), Channels, 96000); err != nil {
		t.Fatalf("EncodeOggOpus: %v", err)
	}
	back, err := Decode(context.Background(), out.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := onset(in, 0.1)
	got := onset(back, 0.1)
	// within 3ms of the input onset
	if tol := SampleRate * 3 / 1000; got < want-tol || got > want+tol {
		t.Errorf("tone onset at frame %d, want %d (±%d)", got, want, tol)
	}
}

func TestOggOpusRoundTrip(t *testing.T) {
	var out bytes.Buffer
	in := sine(0.5, SampleRate/2)
	if err := EncodeOggOpus(&out, in.Int16(), Channels, 96000); err != nil {
		t.Fatalf("EncodeOggOpus: %v", err)
	}
	if !isOggOpus(out.Bytes()) {
		t.Fatal("encoded stream not sniffed as Ogg Opus")
	}

	back, err := Decode(context.Background(), out.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.NumChannels() != 2 || back.Rate != SampleRate {
		t.Fatalf("decoded %dch %dHz, want 2ch %dHz", back.NumChannels(), back.Rate, SampleRate)
	}
	// off by at most one frame of tail padding
	if d := math.Abs(back.Duration() - in.Duration()); d > FrameDuration.Seconds()+0.005 {
		t.Errorf("duration %.3fs, want %.3fs within one frame", back.Duration(), in.Duration())
	}
	if p := back.Peak(); p < 0.3 || p > 0.7 {
		t.Errorf("peak %.2f after lossy round trip, want ~0.5", p)
	}
}
