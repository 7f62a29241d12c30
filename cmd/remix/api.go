package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/satindergrewal/remix/internal/engine"
	"github.com/satindergrewal/remix/internal/graph"
	"github.com/satindergrewal/remix/internal/samples"
	"github.com/satindergrewal/remix/internal/storage"
	"github.com/satindergrewal/remix/internal/stream"
)

const maxUpload = 100 << 20

type server struct {
	eng         *engine.Engine
	sink        storage.Sink
	driver      *graph.Driver
	broadcaster *stream.Broadcaster
	webrtc      *stream.WebRTCHandler
}

func (s *server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", s.upload)
	mux.HandleFunc("POST /api/samples/{kind}", s.loadSample)
	mux.HandleFunc("POST /api/drum/{kind}", s.drum)
	mux.HandleFunc("POST /api/drum-pitch", s.drumPitch)

	mux.HandleFunc("POST /api/user/play", s.ok(func() bool { return s.eng.PlayUser() }))
	mux.HandleFunc("POST /api/user/stop", s.ok(func() bool { s.eng.StopUser(); return true }))
	mux.HandleFunc("POST /api/user/loop", s.toggleLoop)
	mux.HandleFunc("POST /api/user/config", s.trackConfig(s.eng.SetUserVolume, s.eng.SetUserPitch, s.eng.SetUserLoop))
	mux.HandleFunc("POST /api/record/play", s.ok(func() bool { return s.eng.PlayRecord() }))
	mux.HandleFunc("POST /api/record/stop", s.ok(func() bool { s.eng.StopRecord(); return true }))
	mux.HandleFunc("POST /api/record/config", s.trackConfig(s.eng.SetRecordVolume, s.eng.SetRecordPitch, s.eng.SetRecordLoop))

	mux.HandleFunc("POST /api/recording/start", s.startRecording)
	mux.HandleFunc("POST /api/recording/stop", s.stopRecording)
	mux.HandleFunc("GET /api/recordings/{id}", s.recording)

	mux.HandleFunc("POST /api/bpm", s.bpm)
	mux.HandleFunc("POST /api/metronome", s.metronome)

	mux.HandleFunc("POST /api/export", s.export)
	mux.HandleFunc("GET /api/exports", s.listExports)
	mux.HandleFunc("GET /api/exports/{name}", s.getExport)

	mux.HandleFunc("GET /api/analysis", s.analysis)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("GET /api/events", s.events)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

// ok adapts an action reporting success to a handler.
func (s *server) ok(action func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !action() {
			http.Error(w, "nothing to play", http.StatusConflict)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func (s *server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	var body io.Reader = r.Body
	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()
		body = file
	}
	if !s.eng.LoadUserFile(r.Context(), body) {
		http.Error(w, "could not decode audio", http.StatusUnprocessableEntity)
		return
	}
	buf := s.eng.UserBuffer()
	writeJSON(w, map[string]any{"ok": true, "duration": buf.Duration(), "channels": buf.NumChannels()})
}

func (s *server) loadSample(w http.ResponseWriter, r *http.Request) {
	kind, ok := samples.ParseKind(r.PathValue("kind"))
	if !ok {
		http.Error(w, "unknown drum", http.StatusNotFound)
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}
	s.eng.LoadSample(r.Context(), kind.String(), req.URL)
	writeJSON(w, map[string]any{"ok": true, "loaded": !s.eng.Bank().Get(kind).Empty()})
}

func (s *server) drum(w http.ResponseWriter, r *http.Request) {
	kind, ok := samples.ParseKind(r.PathValue("kind"))
	if !ok {
		http.Error(w, "unknown drum", http.StatusNotFound)
		return
	}
	if !s.eng.TriggerDrum(kind) {
		http.Error(w, "no sample loaded", http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) drumPitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pitch float64 `json:"pitch"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.eng.SetDrumPitch(req.Pitch)
	writeJSON(w, map[string]any{"ok": true, "pitch": s.eng.DrumPitch()})
}

func (s *server) toggleLoop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.eng.ToggleUserLoop())
}

func (s *server) trackConfig(volume, pitch func(float64), loop func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Volume *float64 `json:"volume"`
			Pitch  *float64 `json:"pitch"`
			Loop   *bool    `json:"loop"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.Volume != nil {
			volume(*req.Volume)
		}
		if req.Pitch != nil {
			pitch(*req.Pitch)
		}
		if req.Loop != nil {
			loop(*req.Loop)
		}
		writeJSON(w, s.eng.Status())
	}
}

func (s *server) startRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.StartRecording(); err != nil {
		if errors.Is(err, engine.ErrNoMicrophone) {
			http.Error(w, err.Error(), http.StatusPreconditionFailed)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "offset": s.eng.RecordingOffset()})
}

func (s *server) stopRecording(w http.ResponseWriter, r *http.Request) {
	take, err := s.eng.StopRecording(r.Context())
	if err != nil {
		log.Printf("Recording failed: %v", err)
		http.Error(w, "recording failed", http.StatusInternalServerError)
		return
	}
	if take == nil {
		writeJSON(w, map[string]any{"ok": true, "empty": true})
		return
	}
	writeJSON(w, map[string]any{
		"ok":     true,
		"id":     take.ID,
		"url":    take.URL,
		"gain":   take.Gain,
		"events": s.eng.DrumEvents(),
		"voice":  s.eng.VoiceBuffer() != nil,
	})
}

func (s *server) recording(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.eng.Recording(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", blob.MIME)
	w.Write(blob.Data)
}

func (s *server) bpm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BPM float64 `json:"bpm"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, map[string]any{"ok": true, "bpm": s.eng.SetBPM(req.BPM)})
}

func (s *server) metronome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On    bool  `json:"on"`
		Muted *bool `json:"muted"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Muted != nil {
		s.eng.SetClickMuted(*req.Muted)
	}
	s.eng.SetMetronome(req.On)
	writeJSON(w, map[string]any{"ok": true, "metronome": s.eng.MetronomeOn()})
}

func (s *server) export(w http.ResponseWriter, r *http.Request) {
	blob, err := s.eng.ExportMix(r.Context())
	if err != nil {
		log.Printf("Export failed: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	if blob == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	name := fmt.Sprintf("mix-%s.%s", uuid.NewString(), storage.Extension(blob.MIME))
	location, err := s.sink.Save(r.Context(), name, blob.Data, blob.MIME)
	if err != nil {
		log.Printf("Export store failed: %v", err)
		http.Error(w, "could not store export", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{
		"ok":       true,
		"name":     name,
		"location": location,
		"mime":     blob.MIME,
		"bytes":    len(blob.Data),
	})
}

func (s *server) listExports(w http.ResponseWriter, r *http.Request) {
	names, err := s.sink.List(r.Context(), "mix-")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"exports": names})
}

func (s *server) getExport(w http.ResponseWriter, r *http.Request) {
	rc, err := s.sink.Open(r.Context(), r.PathValue("name"))
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

func (s *server) analysis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"time":      ints(s.eng.ByteTimeDomainData()),
		"frequency": ints(s.eng.FrequencyData()),
	})
}

// ints keeps byte arrays as JSON numbers rather than base64.
func ints(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	rendered, dropped := s.driver.Status()
	listeners := s.broadcaster.ListenerCount()
	writeJSON(w, map[string]any{
		"engine":           s.eng.Status(),
		"rendered":         rendered.Seconds(),
		"dropped_frames":   dropped,
		"http_listeners":   listeners["http"],
		"webrtc_listeners": s.webrtc.PeerCount(),
	})
}

// events streams engine events as server-sent events.
func (s *server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := make(chan engine.Event, 16)
	unsubscribe := s.eng.Subscribe(func(ev engine.Event) {
		select {
		case ch <- ev:
		case <-r.Context().Done():
		}
	})
	defer unsubscribe()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
		case ev := <-ch:
			data, err := json.Marshal(eventPayload(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name(), data)
		}
		flusher.Flush()
	}
}

func eventPayload(ev engine.Event) any {
	switch e := ev.(type) {
	case engine.UserFileLoaded:
		return map[string]any{"duration": e.Buffer.Duration(), "channels": e.Buffer.NumChannels()}
	case engine.UserLoopState:
		return e.Region
	}
	return ev
}

// archive copies every finished take to the sink.
func (s *server) archive(ctx context.Context) func(engine.Event) {
	return func(ev engine.Event) {
		done, ok := ev.(engine.RecordingComplete)
		if !ok {
			return
		}
		blob, ok := s.eng.Recording(done.ID)
		if !ok {
			return
		}
		name := fmt.Sprintf("take-%s.%s", done.ID, storage.Extension(blob.MIME))
		if _, err := s.sink.Save(ctx, name, blob.Data, blob.MIME); err != nil {
			log.Printf("Archive take %s failed: %v", done.ID, err)
		}
	}
}
