package mixdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"time"

	"github.com/satindergrewal/remix/internal/audio"
)

// Blob is an encoded mix.
type Blob struct {
	Data []byte
	MIME string
}

// Encoder turns rendered PCM into a file format.
type Encoder interface {
	Encode(ctx context.Context, buf *audio.Buffer) (*Blob, error)
}

// Encode runs the primary encoder and falls back on any failure. Only a
// fallback failure is returned.
func (e *Exporter) Encode(ctx context.Context, buf *audio.Buffer) (*Blob, error) {
	if e.Primary != nil {
		blob, err := e.Primary.Encode(ctx, buf)
		if err == nil {
			return blob, nil
		}
		log.Printf("Export encode failed, falling back: %v", err)
	}
	blob, err := e.Fallback.Encode(ctx, buf)
	if err != nil {
		return nil, fmt.Errorf("fallback encode: %w", err)
	}
	return blob, nil
}

// MP3Encoder encodes constant-bitrate MP3 with ffmpeg's libmp3lame, feeding
// PCM in MP3-frame-sized chunks.
type MP3Encoder struct {
	Command     string
	Bitrate     int // kbps
	Timeout     time.Duration
	ChunkFrames int
}

// NewMP3Encoder returns a 128kbps encoder with a 60s limit.
func NewMP3Encoder(command string) *MP3Encoder {
	return &MP3Encoder{
		Command:     command,
		Bitrate:     128,
		Timeout:     60 * time.Second,
		ChunkFrames: 1152,
	}
}

// encodeError wraps an ffmpeg failure with its command line and output.
type encodeError struct {
	cmd     string
	output  string
	wrapped error
}

func (e *encodeError) Error() string {
	return fmt.Sprintf("ffmpeg error: %s\nCommand: %s\nOutput: %s", e.wrapped, e.cmd, e.output)
}

func (e *encodeError) Unwrap() error {
	return e.wrapped
}

func newEncodeError(cmd *exec.Cmd, output []byte, err error) error {
	cmdStr := cmd.String()
	if len(cmdStr) > 200 {
		cmdStr = cmdStr[:200] + "..."
	}
	return &encodeError{cmd: cmdStr, output: string(bytes.TrimSpace(output)), wrapped: err}
}

// errNoOutput is returned when ffmpeg exits cleanly without writing audio.
var errNoOutput = errors.New("encoder produced no output")

func (m *MP3Encoder) Encode(ctx context.Context, buf *audio.Buffer) (*Blob, error) {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	channels := buf.NumChannels()
	cmd := exec.CommandContext(ctx, m.Command,
		"-f", "s16le",
		"-ar", strconv.Itoa(buf.Rate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", m.Bitrate),
		"-f", "mp3",
		"-loglevel", "error",
		"pipe:1",
	)
	// a killed ffmpeg must not leave Wait blocked on its pipes
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mp3 stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, newEncodeError(cmd, nil, err)
	}

	pcm := buf.Int16()
	chunk := m.ChunkFrames * channels
	var writeErr error
	for off := 0; off < len(pcm) && writeErr == nil; off += chunk {
		end := min(off+chunk, len(pcm))
		_, writeErr = stdin.Write(audio.SamplesToBytes(pcm[off:end]))
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return nil, newEncodeError(cmd, stderr.Bytes(), err)
	}
	if writeErr != nil {
		return nil, newEncodeError(cmd, stderr.Bytes(), writeErr)
	}
	if stdout.Len() == 0 {
		return nil, newEncodeError(cmd, stderr.Bytes(), errNoOutput)
	}
	return &Blob{Data: stdout.Bytes(), MIME: audio.MIMEMP3}, nil
}

// WAVEncoder writes 16-bit PCM WAV.
type WAVEncoder struct{}

func (WAVEncoder) Encode(_ context.Context, buf *audio.Buffer) (*Blob, error) {
	data, err := audio.WAVBytes(buf)
	if err != nil {
		return nil, err
	}
	return &Blob{Data: data, MIME: audio.MIMEWAV}, nil
}
