package mixdown

import (
	"context"
	"errors"
	"math"

	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/graph"
)

// ErrEmptyMix means there is nothing to render.
var ErrEmptyMix = errors.New("empty mix")

// Render mixes cfg offline at rate into a stereo buffer. Given the same
// snapshot it produces the same samples.
func Render(cfg Config, rate int) (*audio.Buffer, error) {
	l := Plan(cfg)
	if l.Duration <= 0 {
		return nil, ErrEmptyMix
	}

	c := graph.NewContext(rate)
	bg := c.NewGain(l.PropVolume)
	voice := c.NewGain(cfg.Recorded.Volume)
	c.Connect(bg, c.Destination())
	c.Connect(voice, c.Destination())
	l.Start(c, cfg, 0, bg, voice)

	frames := int(math.Ceil(l.Duration * float64(rate)))
	return &audio.Buffer{Data: c.Render(frames), Rate: rate}, nil
}

// Exporter renders and encodes mixes. Primary is tried first; any failure
// falls back to Fallback.
type Exporter struct {
	Rate     int
	Primary  Encoder
	Fallback Encoder
}

// NewExporter returns an exporter producing 128kbps MP3 through ffmpeg with
// a WAV fallback.
func NewExporter(ffmpegPath string) *Exporter {
	return &Exporter{
		Rate:     audio.SampleRate,
		Primary:  NewMP3Encoder(ffmpegPath),
		Fallback: WAVEncoder{},
	}
}

// Export renders cfg and encodes it. An empty mix returns a nil blob and no
// error.
func (e *Exporter) Export(ctx context.Context, cfg Config) (*Blob, error) {
	buf, err := Render(cfg, e.Rate)
	if errors.Is(err, ErrEmptyMix) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.Encode(ctx, buf)
}
