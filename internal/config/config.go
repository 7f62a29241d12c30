package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Values come from defaults, then
// an optional YAML file, then REMIX_* environment variables.
type Config struct {
	// Server
	Port int `yaml:"port"`

	// Audio
	FFmpegPath      string  `yaml:"ffmpeg"`
	FFTSize         int     `yaml:"fft_size"`
	BPM             float64 `yaml:"bpm"`
	MetronomeVolume float64 `yaml:"metronome_volume"`
	MicLatency      float64 `yaml:"mic_latency"`    // seconds, negative shifts the voice earlier
	SequenceDelay   float64 `yaml:"sequence_delay"` // seconds added to every drum hit in the full mix
	NormalizeTarget float64 `yaml:"normalize_target"`
	Capture         string  `yaml:"capture"` // opus or wav
	CaptureBitrate  int     `yaml:"capture_bitrate"`

	// Drum samples, fetched at startup; missing ones are synthesized
	Samples Samples `yaml:"samples"`

	// Monitor streams
	MonitorBitrate int `yaml:"monitor_bitrate"` // MP3 kbps
	WebRTCBitrate  int `yaml:"webrtc_bitrate"`  // Opus bps
	ListenerBuffer int `yaml:"listener_buffer"` // frames

	// MIDI input port name; empty disables pads
	MIDIPort string `yaml:"midi_port"`

	Storage Storage `yaml:"storage"`
}

// Samples are the drum sample URLs.
type Samples struct {
	Kick  string `yaml:"kick"`
	Snare string `yaml:"snare"`
	HiHat string `yaml:"hihat"`
}

// Storage selects where exports are kept.
type Storage struct {
	Type            string `yaml:"type"` // local or gcs
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

func defaults() Config {
	return Config{
		Port:            8080,
		FFmpegPath:      "ffmpeg",
		FFTSize:         2048,
		BPM:             120,
		MetronomeVolume: 0.5,
		MicLatency:      -0.08,
		SequenceDelay:   0.085,
		NormalizeTarget: 0.8,
		Capture:         "opus",
		CaptureBitrate:  96000,
		MonitorBitrate:  192,
		WebRTCBitrate:   128000,
		ListenerBuffer:  50,
		Storage: Storage{
			Type: "local",
			Dir:  "exports",
		},
	}
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies the
// environment on top. An empty path is the same as Load.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("REMIX_PORT", cfg.Port)

	cfg.FFmpegPath = envStr("REMIX_FFMPEG", cfg.FFmpegPath)
	cfg.FFTSize = envInt("REMIX_FFT_SIZE", cfg.FFTSize)
	cfg.BPM = envFloat("REMIX_BPM", cfg.BPM)
	cfg.MetronomeVolume = envFloat("REMIX_METRONOME_VOLUME", cfg.MetronomeVolume)
	cfg.MicLatency = envFloat("REMIX_MIC_LATENCY", cfg.MicLatency)
	cfg.SequenceDelay = envFloat("REMIX_SEQUENCE_DELAY", cfg.SequenceDelay)
	cfg.NormalizeTarget = envFloat("REMIX_NORMALIZE_TARGET", cfg.NormalizeTarget)
	cfg.Capture = envStr("REMIX_CAPTURE", cfg.Capture)
	cfg.CaptureBitrate = envInt("REMIX_CAPTURE_BITRATE", cfg.CaptureBitrate)

	cfg.Samples.Kick = envStr("REMIX_SAMPLE_KICK", cfg.Samples.Kick)
	cfg.Samples.Snare = envStr("REMIX_SAMPLE_SNARE", cfg.Samples.Snare)
	cfg.Samples.HiHat = envStr("REMIX_SAMPLE_HIHAT", cfg.Samples.HiHat)

	cfg.MonitorBitrate = envInt("REMIX_MONITOR_BITRATE", cfg.MonitorBitrate)
	cfg.WebRTCBitrate = envInt("REMIX_WEBRTC_BITRATE", cfg.WebRTCBitrate)
	cfg.ListenerBuffer = envInt("REMIX_LISTENER_BUFFER", cfg.ListenerBuffer)
	cfg.MIDIPort = envStr("REMIX_MIDI_PORT", cfg.MIDIPort)

	cfg.Storage.Type = envStr("REMIX_STORAGE", cfg.Storage.Type)
	cfg.Storage.Dir = envStr("REMIX_EXPORT_DIR", cfg.Storage.Dir)
	cfg.Storage.Bucket = envStr("REMIX_GCS_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.Prefix = envStr("REMIX_GCS_PREFIX", cfg.Storage.Prefix)
	cfg.Storage.CredentialsFile = envStr("GOOGLE_APPLICATION_CREDENTIALS", cfg.Storage.CredentialsFile)
	cfg.Storage.PublicBaseURL = envStr("REMIX_GCS_PUBLIC_URL", cfg.Storage.PublicBaseURL)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
