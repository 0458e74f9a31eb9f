package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agentgate/agentgate/internal/permission"
)

// waitPollLimit bounds a single long poll; clients re-poll until
// the request resolves or expires.
const waitPollLimit = 60 * time.Second

type submitPermissionBody struct {
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
	SessionID   string          `json:"session_id"`
	StreamingID string          `json:"streaming_id"`
}

func (s *Server) handleSubmitPermission(w http.ResponseWriter, r *http.Request) {
	var body submitPermissionBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ToolName == "" {
		writeValidation(w, "missing_field", "tool_name is required")
		return
	}

	req := s.deps.Broker.Submit(permission.Submission{
		ToolName:    body.ToolName,
		ToolInput:   body.ToolInput,
		SessionID:   body.SessionID,
		StreamingID: body.StreamingID,
	})
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, _ *http.Request) {
	pending := s.deps.Broker.Pending()
	if pending == nil {
		pending = []permission.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": pending})
}

func (s *Server) handleWaitPermission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), waitPollLimit)
	defer cancel()

	req, err := s.deps.Broker.Wait(ctx, id)
	switch {
	case errors.Is(err, permission.ErrNotFound):
		writeError(w, http.StatusNotFound, "permission request not found")
		return
	case errors.Is(err, context.DeadlineExceeded):
		// Still pending; the client polls again.
		req, err = s.deps.Broker.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "permission request not found")
			return
		}
	case err != nil:
		// Client went away.
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decisionBody struct {
	Action        string          `json:"action"`
	ModifiedInput json.RawMessage `json:"modified_input"`
	Reason        string          `json:"reason"`
}

func (s *Server) handleDecidePermission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body decisionBody
	if !decodeBody(w, r, &body) {
		return
	}

	var (
		req permission.Request
		err error
	)
	switch body.Action {
	case "approve":
		req, err = s.deps.Broker.Approve(id, body.ModifiedInput)
	case "deny":
		req, err = s.deps.Broker.Deny(id, body.Reason)
	default:
		writeValidation(w, "invalid_action", "action must be approve or deny")
		return
	}

	switch {
	case errors.Is(err, permission.ErrNotFound):
		writeError(w, http.StatusNotFound, "permission request not found")
	case errors.Is(err, permission.ErrResolved):
		writeError(w, http.StatusConflict, "permission request already resolved")
	case err != nil:
		s.writeInternal(w, err)
	default:
		writeJSON(w, http.StatusOK, req)
	}
}
