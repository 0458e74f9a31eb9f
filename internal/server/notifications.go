package server

import (
	"errors"
	"net/http"

	"github.com/agentgate/agentgate/internal/push"
)

func (s *Server) handleNotificationStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.deps.Config.Get().Interface.Notifications

	subs, err := s.deps.Push.ListAll()
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	active, expired := 0, 0
	for _, sub := range subs {
		if sub.Expired {
			expired++
		} else {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          cfg.Enabled,
		"configured":       cfg.VapidPublicKey != "" && cfg.VapidPrivateKey != "",
		"vapid_public_key": cfg.VapidPublicKey,
		"ntfy_configured":  cfg.NtfyURL != "",
		"subscriptions":    active,
		"expired":          expired,
	})
}

type registerBody struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	UserAgent string `json:"user_agent"`
}

func (s *Server) handleNotificationRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if !decodeBody(w, r, &body) {
		return
	}
	err := s.deps.Push.Save(push.Subscription{
		Endpoint:  body.Endpoint,
		P256dh:    body.Keys.P256dh,
		Auth:      body.Keys.Auth,
		UserAgent: body.UserAgent,
	})
	if err != nil {
		writeValidation(w, "invalid_subscription", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleNotificationUnregister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Endpoint string `json:"endpoint"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.deps.Push.Delete(body.Endpoint); err != nil {
		if errors.Is(err, push.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (s *Server) handleNotificationTest(w http.ResponseWriter, r *http.Request) {
	delivered, err := s.deps.PushSvc.Broadcast(r.Context(), push.Notification{
		Title: "Test notification",
		Body:  "Notifications are working.",
		Tag:   "test",
	})
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}
