package server

import (
	"net/http"
	"strconv"
	"time"
)

const logHeartbeat = 30 * time.Second

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeValidation(w, "invalid_param", "n must be a non-negative integer")
			return
		}
		n = v
	}
	lines := s.deps.Logs.Recent(n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Replay the retained tail, then follow.
	for _, line := range s.deps.Logs.Recent(0) {
		if !stream.Send("log", line) {
			return
		}
	}

	ch, cancel := s.deps.Logs.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(logHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			if !stream.Send("log", line) {
				return
			}
		case <-heartbeat.C:
			if !stream.Send("heartbeat", "{}") {
				return
			}
		}
	}
}
