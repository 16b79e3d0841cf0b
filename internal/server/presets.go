package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chaz8081/svs-remote/internal/preset"
	"github.com/chaz8081/svs-remote/internal/svs"
)

// playing returns the preset lookup key fields for what is playing now,
// or nil when nothing has been reported.
func (s *Server) playing() *preset.Playing {
	if s.nowPlaying == nil {
		return nil
	}
	snap, ok := s.nowPlaying.Latest()
	if !ok {
		return nil
	}
	return &preset.Playing{Title: snap.Title, Artist: snap.Artist, Album: snap.Album}
}

func (s *Server) handleResolvePreset(w http.ResponseWriter, r *http.Request) {
	res, err := s.presets.Resolve(r.Context(), s.playing())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	res, err := s.presets.Resolve(r.Context(), s.playing())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.controller.Apply(r.Context(), res.Active.Item.Controls); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Active)
}

type savePresetRequest struct {
	Scope    string          `json:"type"`
	Controls svs.Controls    `json:"controls"`
	Playing  *preset.Playing `json:"playing,omitempty"`
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	var req savePresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	scope, err := preset.ParseScope(req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := req.Playing
	if p == nil {
		p = s.playing()
	}
	if p == nil && scope != preset.ScopeHome {
		writeError(w, http.StatusConflict, errors.New("nothing is playing"))
		return
	}
	if p == nil {
		p = &preset.Playing{}
	}
	if err := s.presets.Save(r.Context(), scope, *p, req.Controls); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePresets(w http.ResponseWriter, r *http.Request) {
	p := s.playing()
	if p == nil {
		writeError(w, http.StatusConflict, errors.New("nothing is playing"))
		return
	}
	if err := s.presets.Delete(r.Context(), *p); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := s.presets.Templates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var controls svs.Controls
	if err := json.NewDecoder(r.Body).Decode(&controls); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.presets.SaveTemplate(r.Context(), r.PathValue("name"), controls); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	controls, err := s.presets.Template(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if controls == nil {
		writeError(w, http.StatusNotFound, errors.New("template not found"))
		return
	}
	if err := s.controller.Apply(r.Context(), *controls); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.presets.DeleteTemplate(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
