package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

const (
	MIMEWAV  = "audio/wav"
	MIMEMP3  = "audio/mpeg"
	MIMEOpus = "audio/ogg; codecs=opus"
)

// EncodeWAV writes buf as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, buf *Buffer) error {
	pcm := buf.Int16()
	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(w, buf.Rate, BitDepth, buf.NumChannels(), 1)
	err := enc.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: buf.NumChannels(),
			SampleRate:  buf.Rate,
		},
		Data:           data,
		SourceBitDepth: BitDepth,
	})
	if err != nil {
		return fmt.Errorf("wav encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav encode: %w", err)
	}
	return nil
}

// WAVBytes encodes buf to an in-memory WAV file. The encoder needs to seek
// back to patch the header, so the data goes through a temp file.
func WAVBytes(buf *Buffer) ([]byte, error) {
	f, err := os.CreateTemp("", "remix-*.wav")
	if err != nil {
		return nil, fmt.Errorf("wav temp file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if err := EncodeWAV(f, buf); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("wav rewind: %w", err)
	}
	return io.ReadAll(f)
}

const (
	// oggPreSkip is the pre-skip oggwriter always puts in OpusHead.
	oggPreSkip = 3840
	// opusLookahead is the libopus encoder delay at 48kHz.
	opusLookahead = 312
)

// EncodeOggOpus encodes interleaved 48kHz PCM into an Ogg Opus stream, one
// 20ms Opus packet per Ogg page. The head is padded with silence so that
// the decoder's pre-skip drops the padding and the encoder delay and
// nothing else. oggwriter's last granule position trails the audio by one
// packet, so an extra silent frame goes on the tail.
func EncodeOggOpus(w io.Writer, pcm []int16, channels, bitrate int) error {
	enc, err := opus.NewEncoder(SampleRate, channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return fmt.Errorf("opus bitrate: %w", err)
	}

	ogg, err := oggwriter.NewWith(w, SampleRate, uint16(channels))
	if err != nil {
		return fmt.Errorf("ogg writer: %w", err)
	}

	head := (oggPreSkip - opusLookahead) * channels
	padded := make([]int16, head+len(pcm)+FrameSize*channels)
	copy(padded[head:], pcm)
	pcm = padded

	frame := make([]int16, FrameSize*channels)
	packet := make([]byte, 4000)
	var ts uint32
	var seq uint16
	for off := 0; off < len(pcm); off += len(frame) {
		n := copy(frame, pcm[off:])
		clear(frame[n:])

		size, err := enc.Encode(frame, packet)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		err = ogg.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: packet[:size],
		})
		if err != nil {
			return fmt.Errorf("ogg write: %w", err)
		}
		ts += FrameSize
		seq++
	}
	return ogg.Close()
}
