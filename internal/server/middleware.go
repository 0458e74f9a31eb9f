package server

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// withTimeout applies a write timeout to standard handlers. It uses
// http.TimeoutHandler but ensures the timeout response is JSON.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	msgBytes, _ := json.Marshal(map[string]string{
		"error": "request timed out",
	})
	msg := string(msgBytes)

	inner := h
	if s.handlerDelay > 0 {
		delay := s.handlerDelay
		inner = func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			h(w, r)
		}
	}

	handler := http.TimeoutHandler(inner, s.writeTimeout, msg)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &contentTypeWrapper{
			ResponseWriter: w,
			contentType:    "application/json",
			triggerStatus:  http.StatusServiceUnavailable,
		}
		handler.ServeHTTP(tw, r)
	})
}

// contentTypeWrapper intercepts WriteHeader to set Content-Type on
// a specific status code.
type contentTypeWrapper struct {
	http.ResponseWriter
	contentType   string
	triggerStatus int
	wroteHeader   bool
}

func (w *contentTypeWrapper) WriteHeader(code int) {
	if !w.wroteHeader {
		if code == w.triggerStatus {
			if w.ResponseWriter.Header().Get("Content-Type") == "" {
				w.ResponseWriter.Header().Set("Content-Type", w.contentType)
			}
		}
		w.ResponseWriter.WriteHeader(code)
		w.wroteHeader = true
	}
}

func (w *contentTypeWrapper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods",
				"GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.log.Debug("request", "method", r.Method, "path", r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

const (
	// authFailureBudget failed attempts per IP per minute before 429.
	authFailureBudget = 10
)

// authGuard verifies bearer tokens and rate-limits failures per
// client IP.
type authGuard struct {
	token func() string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newAuthGuard(token func() string) *authGuard {
	return &authGuard{
		token:    token,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (g *authGuard) limiterFor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(
			rate.Every(time.Minute/authFailureBudget), authFailureBudget)
		g.limiters[ip] = lim
	}
	return lim
}

// check returns the status to reject with, or 0 when the request is
// authenticated.
func (g *authGuard) check(r *http.Request) int {
	presented := bearerToken(r)
	expected := g.token()
	if presented != "" && expected != "" &&
		subtle.ConstantTimeCompare(
			[]byte(presented), []byte(expected)) == 1 {
		return 0
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !g.limiterFor(ip).Allow() {
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	// Fallback for EventSource clients that cannot set headers.
	return r.URL.Query().Get("token")
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		switch s.auth.check(r) {
		case 0:
			next.ServeHTTP(w, r)
		case http.StatusTooManyRequests:
			writeError(w, http.StatusTooManyRequests,
				"too many failed authentication attempts")
		default:
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
		}
	})
}
