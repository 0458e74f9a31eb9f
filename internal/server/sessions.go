package server

import (
	"errors"
	"net/http"

	"github.com/agentgate/agentgate/internal/metastore"
)

type sessionPatch struct {
	CustomName            *string `json:"custom_name"`
	Pinned                *bool   `json:"pinned"`
	Archived              *bool   `json:"archived"`
	ContinuationSessionID *string `json:"continuation_session_id"`
	PermissionMode        *string `json:"permission_mode"`
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch sessionPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	if patch.PermissionMode != nil &&
		!metastore.ValidPermissionMode(*patch.PermissionMode) {
		writeValidation(w, "invalid_permission_mode",
			"permission_mode must be default, strict, or bypass")
		return
	}

	info, err := s.deps.Meta.Update(id, metastore.SessionUpdate{
		CustomName:            patch.CustomName,
		Pinned:                patch.Pinned,
		Archived:              patch.Archived,
		ContinuationSessionID: patch.ContinuationSessionID,
		PermissionMode:        patch.PermissionMode,
	})
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Meta.Delete(id); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleArchiveAll(w http.ResponseWriter, _ *http.Request) {
	n, err := s.deps.Meta.ArchiveAll()
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"archived": n})
}
