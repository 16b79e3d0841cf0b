// Package server exposes the SVS link over HTTP and pushes application
// events to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/chaz8081/svs-remote/internal/ble"
	"github.com/chaz8081/svs-remote/internal/nowplaying"
	"github.com/chaz8081/svs-remote/internal/preset"
	"github.com/chaz8081/svs-remote/internal/svs"
)

// maxCommandBytes bounds a raw command body.
const maxCommandBytes = 64 << 10

// Link is the peripheral link the server drives.
type Link interface {
	DiscoverAndConnect(ctx context.Context) error
	SendCommand(ctx context.Context, payload []byte) error
	Status() ble.Status
}

// Controller sets sub controls.
type Controller interface {
	SetVolume(ctx context.Context, db float64) error
	SetPhase(ctx context.Context, deg float64) error
	Apply(ctx context.Context, controls svs.Controls) error
}

// NowPlaying reports the latest media snapshot.
type NowPlaying interface {
	Latest() (nowplaying.Snapshot, bool)
}

// Server holds the HTTP handlers.
type Server struct {
	link       Link
	controller Controller
	presets    *preset.Store
	nowPlaying NowPlaying
	hub        *Hub
	logger     *slog.Logger
}

// New creates a Server. presets and nowPlaying may be nil, which disables
// the preset endpoints.
func New(link Link, controller Controller, presets *preset.Store, nowPlaying NowPlaying, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		link:       link,
		controller: controller,
		presets:    presets,
		nowPlaying: nowPlaying,
		hub:        hub,
		logger:     logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("POST /api/volume", s.handleVolume)
	mux.HandleFunc("POST /api/phase", s.handlePhase)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/nowplaying", s.handleNowPlaying)
	if s.presets != nil {
		mux.HandleFunc("GET /api/presets/resolve", s.handleResolvePreset)
		mux.HandleFunc("POST /api/presets/apply", s.handleApplyPreset)
		mux.HandleFunc("POST /api/presets", s.handleSavePreset)
		mux.HandleFunc("DELETE /api/presets", s.handleDeletePresets)
		mux.HandleFunc("GET /api/templates", s.handleListTemplates)
		mux.HandleFunc("PUT /api/templates/{name}", s.handleSaveTemplate)
		mux.HandleFunc("POST /api/templates/{name}/apply", s.handleApplyTemplate)
		mux.HandleFunc("DELETE /api/templates/{name}", s.handleDeleteTemplate)
	}
	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return mux
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.link.DiscoverAndConnect(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	status := s.link.Status()
	if s.hub != nil {
		s.hub.Emit("device-connected", status)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.link.SendCommand(r.Context(), payload); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type valueRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	s.handleValue(w, r, s.controller.SetVolume)
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	s.handleValue(w, r, s.controller.SetPhase)
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request, set func(context.Context, float64) error) {
	var req valueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, errors.New(`body must be {"value": <number>}`))
		return
	}
	if err := set(r.Context(), *req.Value); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.link.Status())
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, _ *http.Request) {
	if s.nowPlaying == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	snap, ok := s.nowPlaying.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// fail maps link and controller errors to a status and an error string.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ble.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, ble.ErrDeviceNotFound), errors.Is(err, ble.ErrNoAdapter):
		status = http.StatusServiceUnavailable
	case errors.Is(err, svs.ErrOutOfRange), errors.Is(err, preset.ErrNoKey):
		status = http.StatusBadRequest
	}
	s.logger.Warn("[HTTP] request failed", "status", status, "error", err)
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
