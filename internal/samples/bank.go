// Package samples holds the drum hit and metronome click buffers.
package samples

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/satindergrewal/remix/internal/audio"
)

// Kind names a drum sound.
type Kind int

const (
	Kick Kind = iota
	Snare
	HiHat
)

// Kinds lists every drum kind in pad order.
var Kinds = []Kind{Kick, Snare, HiHat}

func (k Kind) String() string {
	switch k {
	case Kick:
		return "kick"
	case Snare:
		return "snare"
	case HiHat:
		return "hihat"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a name such as "kick" or "hi-hat" to its Kind.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "kick":
		return Kick, true
	case "snare":
		return Snare, true
	case "hihat", "hat":
		return HiHat, true
	}
	return 0, false
}

// Bank stores one buffer per drum kind plus the two metronome clicks.
// Empty slots are filled by synthesis on demand.
type Bank struct {
	rate   int
	client *http.Client

	mu     sync.RWMutex
	hits   map[Kind]*audio.Buffer
	clicks [2]*audio.Buffer
	rng    *rand.Rand
}

// NewBank creates an empty bank producing buffers at rate.
func NewBank(rate int) *Bank {
	return &Bank{
		rate:   rate,
		client: &http.Client{Timeout: 30 * time.Second},
		hits:   make(map[Kind]*audio.Buffer),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the noise source used by synthesis.
func (b *Bank) SetRand(src rand.Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rand.New(src)
}

// SetHTTPClient replaces the client used by Load.
func (b *Bank) SetHTTPClient(c *http.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = c
}

// Load fetches and decodes a sample into the slot called name. Failures are
// logged and leave the slot untouched.
func (b *Bank) Load(ctx context.Context, name, url string) {
	kind, ok := ParseKind(name)
	if !ok {
		log.Printf("Unknown sample %q", name)
		return
	}
	buf, err := b.fetch(ctx, url)
	if err != nil {
		log.Printf("Sample %s load failed: %v", kind, err)
		return
	}
	b.Set(kind, buf)
	log.Printf("Loaded sample %s (%.2fs)", kind, buf.Duration())
}

func (b *Bank) fetch(ctx context.Context, url string) (*audio.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return audio.Decode(ctx, data)
}

// Set stores buf in the kind's slot.
func (b *Bank) Set(kind Kind, buf *audio.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits[kind] = buf
}

// Get returns the buffer for kind, or nil when the slot is empty.
func (b *Bank) Get(kind Kind) *audio.Buffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hits[kind]
}

// EnsureSynthesized fills every empty slot with a synthesized sound.
func (b *Bank) EnsureSynthesized() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range Kinds {
		if !b.hits[k].Empty() {
			continue
		}
		switch k {
		case Kick:
			b.hits[k] = SynthKick(b.rate)
		case Snare:
			b.hits[k] = SynthSnare(b.rate, b.rng)
		case HiHat:
			b.hits[k] = SynthHiHat(b.rate, b.rng)
		}
	}
}

// Click returns the metronome click, the higher accented one when accent
// is set.
func (b *Bank) Click(accent bool) *audio.Buffer {
	i := 0
	if accent {
		i = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clicks[i] == nil {
		freq := 800.0
		if accent {
			freq = 1000
		}
		b.clicks[i] = SynthClick(b.rate, freq)
	}
	return b.clicks[i]
}
