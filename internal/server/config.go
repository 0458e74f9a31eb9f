package server

import (
	"net/http"

	"github.com/agentgate/agentgate/internal/config"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Raw())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeBody(w, r, &patch) {
		return
	}
	if _, err := s.deps.Config.Merge(patch, config.SourceAPI); err != nil {
		writeValidation(w, "invalid_config", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Config.Raw())
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Prefs.Get())
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if !decodeBody(w, r, &patch) {
		return
	}
	merged, err := s.deps.Prefs.Merge(patch)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}
