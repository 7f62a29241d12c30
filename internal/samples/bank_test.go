package samples

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/remix/internal/audio"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"kick", Kick, true},
		{"Snare", Snare, true},
		{"hi-hat", HiHat, true},
		{"hihat", HiHat, true},
		{"cowbell", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseKind(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
			assert.Equal(t, got, must(ParseKind(got.String())))
		}
	}
}

func must(k Kind, _ bool) Kind { return k }

func TestSynthLengths(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 24000, SynthKick(48000).Len())
	assert.Equal(t, 9600, SynthSnare(48000, rng).Len())
	assert.Equal(t, 3840, SynthHiHat(48000, rng).Len())
	assert.Equal(t, 2400, SynthClick(48000, 1000).Len())
}

func TestKickIsReproducible(t *testing.T) {
	a, b := SynthKick(44100), SynthKick(44100)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, float32(0), a.Data[0][0], "sweep starts at zero phase")
	assert.LessOrEqual(t, a.Peak(), float32(1))
}

func TestNoiseFollowsRandSource(t *testing.T) {
	a := SynthSnare(48000, rand.New(rand.NewSource(7)))
	b := SynthSnare(48000, rand.New(rand.NewSource(7)))
	c := SynthSnare(48000, rand.New(rand.NewSource(8)))
	assert.Equal(t, a.Data, b.Data)
	assert.NotEqual(t, a.Data, c.Data)

	hat := SynthHiHat(48000, rand.New(rand.NewSource(7)))
	assert.LessOrEqual(t, hat.Peak(), float32(0.3))
}

func TestEnsureSynthesizedKeepsLoaded(t *testing.T) {
	bank := NewBank(48000)
	loaded := audio.NewBuffer(2, 10, 48000)
	loaded.Data[0][0] = 1
	bank.Set(Snare, loaded)

	bank.EnsureSynthesized()
	assert.Same(t, loaded, bank.Get(Snare))
	for _, k := range Kinds {
		assert.False(t, bank.Get(k).Empty(), k.String())
	}
}

func TestClickAccent(t *testing.T) {
	bank := NewBank(48000)
	accent, normal := bank.Click(true), bank.Click(false)
	assert.NotEqual(t, accent.Data, normal.Data)
	assert.Same(t, accent, bank.Click(true), "clicks are cached")
}

// --- Load ---

func wavServer(t *testing.T) *httptest.Server {
	t.Helper()
	wav, err := audio.WAVBytes(SynthKick(48000))
	require.NoError(t, err)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kick.wav":
			w.Header().Set("Content-Type", audio.MIMEWAV)
			w.Write(wav)
		case "/garbage.wav":
			w.Write([]byte("RIFF....WAVEnot really"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestLoad(t *testing.T) {
	srv := wavServer(t)
	defer srv.Close()

	bank := NewBank(48000)
	bank.Load(context.Background(), "kick", srv.URL+"/kick.wav")
	got := bank.Get(Kick)
	require.NotNil(t, got)
	assert.InDelta(t, 0.5, got.Duration(), 1e-9)
}

func TestLoadFailuresAreSwallowed(t *testing.T) {
	srv := wavServer(t)
	defer srv.Close()

	bank := NewBank(48000)
	bank.Load(context.Background(), "snare", srv.URL+"/missing.wav")
	bank.Load(context.Background(), "snare", srv.URL+"/garbage.wav")
	bank.Load(context.Background(), "cowbell", srv.URL+"/kick.wav")
	bank.Load(context.Background(), "hihat", "http://127.0.0.1:0/nope")
	assert.Nil(t, bank.Get(Snare))
	assert.Nil(t, bank.Get(HiHat))
}

func TestSetHTTPClientWhileLoading(t *testing.T) {
	srv := wavServer(t)
	defer srv.Close()

	bank := NewBank(48000)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bank.SetHTTPClient(srv.Client())
		}()
		go func() {
			defer wg.Done()
			bank.Load(context.Background(), "kick", srv.URL+"/kick.wav")
		}()
	}
	wg.Wait()
	assert.NotNil(t, bank.Get(Kick))
}
