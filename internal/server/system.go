package server

import (
	"net/http"
	"time"
)

func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	sessionStats, err := s.deps.Meta.Stats()
	if err != nil {
		s.writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":             s.version,
		"uptime_seconds":      int(time.Since(s.started).Seconds()),
		"sessions":            sessionStats,
		"dependency_graph":    s.deps.Graph.Stats(),
		"cache":               s.deps.Lister.CacheStats(),
		"pending_permissions": len(s.deps.Broker.Pending()),
	})
}
