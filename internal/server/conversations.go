package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agentgate/agentgate/internal/conversations"
	"github.com/agentgate/agentgate/internal/transcript"
)

// parseBoolParam reads an optional true/false query parameter.
// Writes a 400 and returns false in ok on a malformed value.
func parseBoolParam(w http.ResponseWriter, r *http.Request, name string) (val *bool, ok bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		writeValidation(w, "invalid_param", name+" must be true or false")
		return nil, false
	}
	return &b, true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	archived, ok := parseBoolParam(w, r, "archived")
	if !ok {
		return
	}
	pinned, ok := parseBoolParam(w, r, "pinned")
	if !ok {
		return
	}
	hasCont, ok := parseBoolParam(w, r, "hasContinuation")
	if !ok {
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeValidation(w, "invalid_param", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	page, err := s.deps.Lister.List(r.Context(), conversations.Filter{
		Archived:        archived,
		Pinned:          pinned,
		HasContinuation: hasCont,
		Project:         q.Get("project"),
		Limit:           limit,
		Cursor:          q.Get("cursor"),
	})
	if err != nil {
		if errors.Is(err, conversations.ErrInvalidCursor) {
			writeValidation(w, "invalid_cursor", "cursor is invalid")
			return
		}
		if handleContextError(w, err) {
			return
		}
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// messageDTO is the wire shape of one transcript entry.
type messageDTO struct {
	Kind       string          `json:"kind"`
	UUID       string          `json:"uuid,omitempty"`
	ParentUUID string          `json:"parent_uuid,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
	Role       string          `json:"role,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	Text       string          `json:"text,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	LeafUUID   string          `json:"leaf_uuid,omitempty"`
	Model      string          `json:"model,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
}

func toMessageDTO(e transcript.Entry) messageDTO {
	dto := messageDTO{
		Kind:       string(e.Kind),
		UUID:       e.UUID,
		ParentUUID: e.ParentUUID,
		Timestamp:  e.Timestamp,
		Role:       e.Role,
		Text:       e.Text,
		Summary:    e.Summary,
		LeafUUID:   e.LeafUUID,
		Model:      e.Model,
		CostUSD:    e.CostUSD,
		DurationMS: e.DurationMS,
	}
	if e.ContentJSON != "" {
		dto.Content = json.RawMessage(e.ContentJSON)
	}
	return dto
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entries, err := s.deps.Lister.Messages(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversations.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if handleContextError(w, err) {
			return
		}
		s.writeInternal(w, err)
		return
	}

	msgs := make([]messageDTO, len(entries))
	for i, e := range entries {
		msgs[i] = toMessageDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   msgs,
	})
}

func (s *Server) handleWorkingDirectories(w http.ResponseWriter, r *http.Request) {
	dirs, err := s.deps.Lister.WorkingDirectories(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		s.writeInternal(w, err)
		return
	}
	if dirs == nil {
		dirs = []conversations.WorkingDirectory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"working_directories": dirs,
	})
}
