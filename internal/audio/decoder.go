package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"gopkg.in/hraban/opus.v2"
)

// ErrUnsupportedFormat is returned when no decoder accepts the input.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// FFmpegPath is the binary used for containers the native decoders don't handle.
var FFmpegPath = "ffmpeg"

// Decode turns an encoded container into a Buffer. WAV, MP3 and Ogg Opus are
// decoded natively; anything else (WebM, FLAC, AAC...) goes through FFmpeg.
func Decode(ctx context.Context, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: %w: empty input", ErrUnsupportedFormat)
	}
	switch {
	case isWAV(data):
		buf, err := DecodeWAV(bytes.NewReader(data))
		if err == nil {
			return buf, nil
		}
		// go-audio only handles integer PCM; float WAVs go through FFmpeg.
		return DecodeFFmpeg(ctx, data)
	case isMP3(data):
		return DecodeMP3(bytes.NewReader(data))
	case isOggOpus(data):
		return DecodeOggOpus(data)
	default:
		return DecodeFFmpeg(ctx, data)
	}
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

func isOggOpus(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == "OggS" && opusHead(data) >= 0
}

// opusHead returns the offset of the OpusHead packet, or -1.
func opusHead(data []byte) int {
	// the identification header sits in the first page
	return bytes.Index(data[:min(len(data), 512)], []byte("OpusHead"))
}

// DecodeOggOpus decodes an Ogg Opus file to 48kHz PCM with libopusfile.
func DecodeOggOpus(data []byte) (*Buffer, error) {
	head := opusHead(data)
	if head < 0 || head+10 > len(data) {
		return nil, fmt.Errorf("opus decode: %w: no OpusHead", ErrUnsupportedFormat)
	}
	channels := int(data[head+9])
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("opus decode: %w: %d channels", ErrUnsupportedFormat, channels)
	}

	s, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	defer s.Close()

	var pcm []int16
	chunk := make([]int16, 5760*channels) // 120ms, the longest Opus packet
	for {
		n, err := s.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		pcm = append(pcm, chunk[:n*channels]...)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("opus decode: %w: no audio", ErrUnsupportedFormat)
	}
	return FromInt16(pcm, channels, SampleRate), nil
}

// DecodeWAV decodes integer PCM WAV data.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav decode: %w", ErrUnsupportedFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav decode: %w", err)
	}
	return fromIntBuffer(pcm)
}

func fromIntBuffer(pcm *goaudio.IntBuffer) (*Buffer, error) {
	if pcm.Format == nil || pcm.Format.NumChannels == 0 || pcm.SourceBitDepth == 0 {
		return nil, fmt.Errorf("wav decode: %w: missing format", ErrUnsupportedFormat)
	}
	if pcm.SourceBitDepth == 8 {
		// 8-bit WAV is unsigned
		for i, v := range pcm.Data {
			pcm.Data[i] = v - 128
		}
	}
	scale := float32(int64(1) << (pcm.SourceBitDepth - 1))
	samples := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = float32(v) / scale
	}
	return FromInterleaved(samples, pcm.Format.NumChannels, pcm.Format.SampleRate), nil
}

// DecodeMP3 decodes MPEG audio with the pure-Go decoder (always stereo, 16-bit).
func DecodeMP3(r io.Reader) (*Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	return FromInt16(bytesToSamples(raw), 2, dec.SampleRate()), nil
}

// DecodeFFmpeg runs FFmpeg to decode any container to 48kHz stereo PCM.
func DecodeFFmpeg(ctx context.Context, data []byte) (*Buffer, error) {
	cmd := exec.CommandContext(ctx, FFmpegPath,
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	if len(out) < FrameBytes/FrameSize {
		return nil, fmt.Errorf("ffmpeg decode: %w: no audio", ErrUnsupportedFormat)
	}
	return FromInt16(bytesToSamples(out), Channels, SampleRate), nil
}

func bytesToSamples(raw []byte) []int16 {
	// Ensure even byte count for int16 alignment
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
