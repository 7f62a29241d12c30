package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver

	"github.com/satindergrewal/remix/internal/audio"
	"github.com/satindergrewal/remix/internal/config"
	"github.com/satindergrewal/remix/internal/engine"
	"github.com/satindergrewal/remix/internal/graph"
	"github.com/satindergrewal/remix/internal/pads"
	"github.com/satindergrewal/remix/internal/samples"
	"github.com/satindergrewal/remix/internal/storage"
	"github.com/satindergrewal/remix/internal/stream"
)

type args struct {
	Config string `arg:"-c,--config,env:REMIX_CONFIG" help:"YAML config file"`
	Port   int    `arg:"-p,--port" help:"HTTP port, overrides config"`
	MIDI   string `arg:"--midi" help:"MIDI input port for drum pads, overrides config"`
}

func (args) Description() string {
	return "remix: real-time remix engine with drum pads, looping, recording and mixdown"
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.LoadFile(a.Config)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if a.Port != 0 {
		cfg.Port = a.Port
	}
	if a.MIDI != "" {
		cfg.MIDIPort = a.MIDI
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("remix starting up...")
	audio.FFmpegPath = cfg.FFmpegPath

	bank := samples.NewBank(audio.SampleRate)
	for name, url := range map[string]string{
		"kick":  cfg.Samples.Kick,
		"snare": cfg.Samples.Snare,
		"hihat": cfg.Samples.HiHat,
	} {
		if url != "" {
			bank.Load(ctx, name, url)
		}
	}
	bank.EnsureSynthesized()

	eng := engine.New(bank, engineOptions(cfg))
	defer eng.Close()
	eng.SetBPM(cfg.BPM)

	// Render loop drives the graph in real time
	driver := graph.NewDriver(eng.Context())
	go driver.Run(ctx)

	broadcaster := stream.NewBroadcaster(cfg.ListenerBuffer)
	go broadcaster.Run(ctx, driver.Frames())
	webrtcHandler := stream.NewWebRTCHandler(broadcaster, eng, cfg.WebRTCBitrate)

	sink, err := openSink(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Storage: %v", err)
	}
	defer sink.Close()

	if cfg.MIDIPort != "" {
		stop, err := pads.Listen(cfg.MIDIPort, pads.GeneralMIDI, eng.TriggerDrum)
		if err != nil {
			log.Printf("MIDI pads unavailable: %v", err)
		} else {
			defer stop()
		}
	}

	srv := &server{
		eng:         eng,
		sink:        sink,
		driver:      driver,
		broadcaster: broadcaster,
		webrtc:      webrtcHandler,
	}
	unsubscribe := eng.Subscribe(srv.archive(ctx))
	defer unsubscribe()

	mux := http.NewServeMux()
	mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.FFmpegPath, cfg.MonitorBitrate))
	mux.Handle("/offer", webrtcHandler)
	srv.routes(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		httpServer.Close()
	}()

	log.Printf("remix live on %s", addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}

func engineOptions(cfg config.Config) engine.Options {
	opts := engine.DefaultOptions()
	opts.FFTSize = cfg.FFTSize
	opts.MetronomeVolume = cfg.MetronomeVolume
	opts.MicLatency = cfg.MicLatency
	opts.SequenceDelay = cfg.SequenceDelay
	opts.NormalizeTarget = float32(cfg.NormalizeTarget)
	opts.Capture = engine.CaptureFormat(cfg.Capture)
	opts.CaptureBitrate = cfg.CaptureBitrate
	opts.FFmpegPath = cfg.FFmpegPath
	return opts
}

func openSink(ctx context.Context, cfg config.Storage) (storage.Sink, error) {
	switch cfg.Type {
	case "gcs":
		log.Printf("Storing exports in gs://%s/%s", cfg.Bucket, cfg.Prefix)
		return storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
			CredentialsFile: cfg.CredentialsFile,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
	case "local", "":
		log.Printf("Storing exports in %s", cfg.Dir)
		return storage.NewLocal(cfg.Dir)
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}
