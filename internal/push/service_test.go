package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcastDisabled(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(testSub("https://push.example/a")))

	svc := NewService(store, func() Settings {
		return Settings{Enabled: false}
	}, testLogger())

	n, err := svc.Broadcast(context.Background(), Notification{Title: "hi"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNtfyDelivery(t *testing.T) {
	type received struct {
		title, tags, click, body string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			got <- received{
				title: r.Header.Get("Title"),
				tags:  r.Header.Get("Tags"),
				click: r.Header.Get("Click"),
				body:  string(body),
			}
		}))
	defer srv.Close()

	store, err := Open(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(store, func() Settings {
		return Settings{Enabled: true, NtfyURL: srv.URL + "/agentgate"}
	}, testLogger())

	_, err = svc.Broadcast(context.Background(), Notification{
		Title: "Permission requested",
		Body:  "Bash wants to run ls",
		Tag:   "bell",
		URL:   "http://127.0.0.1:3001/sessions/abc",
	})
	require.NoError(t, err)

	msg := <-got
	assert.Equal(t, "Permission requested", msg.title)
	assert.Equal(t, "bell", msg.tags)
	assert.Equal(t, "Bash wants to run ls", msg.body)
	assert.NotEmpty(t, msg.click)
}

func TestNtfyErrorDoesNotFailBroadcast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
	defer srv.Close()

	store, err := Open(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := NewService(store, func() Settings {
		return Settings{Enabled: true, NtfyURL: srv.URL}
	}, testLogger())

	_, err = svc.Broadcast(context.Background(), Notification{Title: "hi"})
	assert.NoError(t, err)
}

// browserSub builds a subscription with real ECDH keys so the
// webpush library can encrypt a payload for it.
func browserSub(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(secret),
	}
}

func TestGoneEndpointMarkedExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
	defer srv.Close()

	store, err := Open(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(browserSub(t, srv.URL+"/sub")))

	priv, pub, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	svc := NewService(store, func() Settings {
		return Settings{
			Enabled:         true,
			Subject:         "mailto:ops@example.com",
			VAPIDPublicKey:  pub,
			VAPIDPrivateKey: priv,
		}
	}, testLogger())

	delivered, err := svc.Broadcast(context.Background(), Notification{Title: "hi"})
	require.NoError(t, err)
	assert.Zero(t, delivered)

	subs, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Expired)

	active, err := store.Active()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGenerateVAPIDKeys(t *testing.T) {
	priv, pub, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	assert.NotEmpty(t, priv)
	assert.NotEmpty(t, pub)
	assert.NotEqual(t, priv, pub)
}
