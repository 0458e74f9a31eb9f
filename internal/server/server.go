// Package server exposes the HTTP API: conversation listings,
// session metadata, configuration, notifications, permission
// brokering, filesystem views, and log streaming.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/conversations"
	"github.com/agentgate/agentgate/internal/depgraph"
	"github.com/agentgate/agentgate/internal/logbuf"
	"github.com/agentgate/agentgate/internal/metastore"
	"github.com/agentgate/agentgate/internal/permission"
	"github.com/agentgate/agentgate/internal/push"
)

const defaultWriteTimeout = 30 * time.Second

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Deps are the components the server fronts.
type Deps struct {
	Config  *config.Store
	Prefs   *config.Preferences
	Lister  *conversations.Lister
	Meta    *metastore.Store
	Graph   *depgraph.Engine
	Broker  *permission.Broker
	Push    *push.Store
	PushSvc *push.Service
	Logs    *logbuf.Buffer
}

// Server is the HTTP API server.
type Server struct {
	mu      gosync.RWMutex
	deps    Deps
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo
	log     *slog.Logger
	started time.Time

	writeTimeout time.Duration
	skipAuth     bool
	auth         *authGuard

	// handlerDelay is injected before each timeout-wrapped handler,
	// used only by tests to guarantee handlers exceed a short
	// timeout. Zero in production.
	handlerDelay time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithWriteTimeout overrides the per-handler response deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithoutAuth disables bearer-token checks, for tests and trusted
// local tooling.
func WithoutAuth() Option {
	return func(s *Server) { s.skipAuth = true }
}

// New creates a Server over its dependencies.
func New(deps Deps, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		deps:         deps,
		mux:          http.NewServeMux(),
		log:          log,
		started:      time.Now(),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auth = newAuthGuard(func() string {
		return deps.Config.Get().AuthToken
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/config", s.withTimeout(s.handleGetConfig))
	s.mux.Handle("PUT /api/config", s.withTimeout(s.handlePutConfig))
	s.mux.Handle("GET /api/preferences", s.withTimeout(s.handleGetPreferences))
	s.mux.Handle("PUT /api/preferences", s.withTimeout(s.handlePutPreferences))

	s.mux.Handle("GET /api/conversations", s.withTimeout(s.handleListConversations))
	s.mux.Handle("GET /api/conversations/{id}", s.withTimeout(s.handleGetConversation))
	s.mux.Handle("GET /api/working-directories", s.withTimeout(s.handleWorkingDirectories))

	s.mux.Handle("PATCH /api/sessions/{id}", s.withTimeout(s.handlePatchSession))
	s.mux.Handle("DELETE /api/sessions/{id}", s.withTimeout(s.handleDeleteSession))
	s.mux.Handle("POST /api/sessions/archive-all", s.withTimeout(s.handleArchiveAll))

	s.mux.Handle("GET /api/filesystem/list", s.withTimeout(s.handleFilesystemList))
	s.mux.Handle("GET /api/filesystem/read", s.withTimeout(s.handleFilesystemRead))

	s.mux.Handle("GET /api/notifications/status", s.withTimeout(s.handleNotificationStatus))
	s.mux.Handle("POST /api/notifications/register", s.withTimeout(s.handleNotificationRegister))
	s.mux.Handle("POST /api/notifications/unregister", s.withTimeout(s.handleNotificationUnregister))
	s.mux.Handle("POST /api/notifications/test", s.withTimeout(s.handleNotificationTest))

	s.mux.Handle("POST /api/permissions", s.withTimeout(s.handleSubmitPermission))
	s.mux.Handle("GET /api/permissions", s.withTimeout(s.handleListPermissions))
	// Wait is a long poll; the request context bounds it, not the
	// timeout handler.
	s.mux.HandleFunc("GET /api/permissions/{id}/wait", s.handleWaitPermission)
	s.mux.Handle("POST /api/permissions/{id}/decision", s.withTimeout(s.handleDecidePermission))

	s.mux.Handle("GET /api/logs/recent", s.withTimeout(s.handleRecentLogs))
	// SSE: long-lived connection, no timeout handler.
	s.mux.HandleFunc("GET /api/logs/stream", s.handleStreamLogs)

	s.mux.Handle("GET /api/system/status", s.withTimeout(s.handleSystemStatus))
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if !s.skipAuth {
		h = s.authMiddleware(h)
	}
	return corsMiddleware(s.logMiddleware(h))
}

// ListenAndServe starts the HTTP server. An empty addr uses the
// configured host and port.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		cfg := s.deps.Config.Get()
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.log.Info("server listening", "addr", "http://"+addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the given
// port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}
