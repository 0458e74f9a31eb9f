package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/sync/errgroup"
)

const (
	deliveryTimeout  = 60 * time.Second
	deliveryParallel = 8
	notificationTTL  = 300 // seconds the push service may queue for
)

// Settings is the notification slice of the live configuration.
type Settings struct {
	Enabled         bool
	Subject         string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	NtfyURL         string
}

// Notification is one message fanned out to every active channel.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Service delivers notifications to stored Web Push subscriptions
// and an optional ntfy topic. Settings are read per broadcast so
// config changes apply without restart.
type Service struct {
	store    *Store
	settings func() Settings
	client   *http.Client
	log      *slog.Logger
}

// NewService wires the delivery service. settings is consulted on
// every broadcast.
func NewService(store *Store, settings func() Settings, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		settings: settings,
		client:   &http.Client{Timeout: deliveryTimeout},
		log:      log,
	}
}

// GenerateVAPIDKeys returns a fresh private/public VAPID key pair
// for first-run configuration.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generating vapid keys: %w", err)
	}
	return privateKey, publicKey, nil
}

// Broadcast sends n to all active subscriptions and the ntfy topic.
// Delivery failures are logged per endpoint and never fail the
// broadcast; endpoints the push service reports gone are flagged
// expired. Returns the number of successful Web Push deliveries.
func (s *Service) Broadcast(ctx context.Context, n Notification) (int, error) {
	cfg := s.settings()
	if !cfg.Enabled {
		return 0, nil
	}

	delivered := 0
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		var err error
		delivered, err = s.broadcastWebPush(ctx, cfg, n)
		if err != nil {
			return delivered, err
		}
	}
	if cfg.NtfyURL != "" {
		if err := s.sendNtfy(ctx, cfg.NtfyURL, n); err != nil {
			s.log.Warn("ntfy delivery failed", "error", err)
		}
	}
	return delivered, nil
}

func (s *Service) broadcastWebPush(ctx context.Context, cfg Settings, n Notification) (int, error) {
	subs, err := s.store.Active()
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return 0, fmt.Errorf("encoding notification: %w", err)
	}

	results := make([]bool, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deliveryParallel)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = s.deliver(gctx, cfg, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	delivered := 0
	for _, ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// deliver pushes payload to a single endpoint. 404 and 410 mean the
// browser dropped the subscription; those are flagged expired so
// later broadcasts skip them.
func (s *Service) deliver(ctx context.Context, cfg Settings, sub Subscription, payload []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	resp, err := webpush.SendNotificationWithContext(ctx, payload,
		&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		},
		&webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             notificationTTL,
		})
	if err != nil {
		s.log.Warn("web push delivery failed",
			"endpoint", truncateEndpoint(sub.Endpoint), "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound ||
		resp.StatusCode == http.StatusGone:
		s.log.Info("push subscription gone, marking expired",
			"endpoint", truncateEndpoint(sub.Endpoint),
			"status", resp.StatusCode)
		if err := s.store.MarkExpired(sub.Endpoint); err != nil {
			s.log.Warn("marking subscription expired", "error", err)
		}
		return false
	case resp.StatusCode >= 400:
		s.log.Warn("web push rejected",
			"endpoint", truncateEndpoint(sub.Endpoint),
			"status", resp.StatusCode)
		return false
	}
	return true
}

// sendNtfy posts the notification body to an ntfy topic URL.
func (s *Service) sendNtfy(ctx context.Context, topicURL string, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		topicURL, strings.NewReader(n.Body))
	if err != nil {
		return fmt.Errorf("building ntfy request: %w", err)
	}
	req.Header.Set("Title", n.Title)
	if n.Tag != "" {
		req.Header.Set("Tags", n.Tag)
	}
	if n.URL != "" {
		req.Header.Set("Click", n.URL)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy returned %d", resp.StatusCode)
	}
	return nil
}

func truncateEndpoint(endpoint string) string {
	if len(endpoint) > 48 {
		return endpoint[:48] + "..."
	}
	return endpoint
}
