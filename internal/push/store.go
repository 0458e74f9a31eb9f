// Package push stores browser push subscriptions and delivers
// notifications over Web Push and ntfy.
package push

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const storeSchemaVersion = 1

// ErrNotFound is returned when an endpoint has no subscription.
var ErrNotFound = errors.New("subscription not found")

// Subscription is one browser push registration.
type Subscription struct {
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	Expired   bool      `json:"expired"`
}

// Store manages push subscriptions in their own SQLite database.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex // serializes writes
}

func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open creates or opens the subscription database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	s := &Store{writer: writer, reader: reader}
	if err := s.init(); err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Exec(schemaSQL); err != nil {
		return err
	}
	_, err := s.writer.Exec(
		`INSERT INTO store_meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`,
		fmt.Sprint(storeSchemaVersion),
	)
	return err
}

// Close closes both connections.
func (s *Store) Close() error {
	return errors.Join(s.writer.Close(), s.reader.Close())
}

// Save upserts a subscription keyed by endpoint. Re-registering a
// known endpoint refreshes its keys and clears the expired flag.
func (s *Store) Save(sub Subscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sub.P256dh == "" || sub.Auth == "" {
		return fmt.Errorf("subscription keys are required")
	}
	now := time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec(
		`INSERT INTO push_subscriptions
		   (endpoint, p256dh, auth, user_agent, created_at, last_seen, expired)
		 VALUES (?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   p256dh = excluded.p256dh,
		   auth = excluded.auth,
		   user_agent = excluded.user_agent,
		   last_seen = excluded.last_seen,
		   expired = 0`,
		sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// Delete removes a subscription by endpoint.
func (s *Store) Delete(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.writer.Exec(
		`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkExpired flags a subscription whose push service rejected it.
func (s *Store) MarkExpired(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writer.Exec(
		`UPDATE push_subscriptions SET expired = 1 WHERE endpoint = ?`,
		endpoint)
	if err != nil {
		return fmt.Errorf("marking subscription expired: %w", err)
	}
	return nil
}

// Active returns all non-expired subscriptions, oldest first.
func (s *Store) Active() ([]Subscription, error) {
	return s.list(`WHERE expired = 0`)
}

// ListAll returns every subscription including expired ones.
func (s *Store) ListAll() ([]Subscription, error) {
	return s.list(``)
}

func (s *Store) list(where string) ([]Subscription, error) {
	rows, err := s.reader.Query(
		`SELECT endpoint, p256dh, auth, user_agent,
		        created_at, last_seen, expired
		 FROM push_subscriptions ` + where + ` ORDER BY created_at, endpoint`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var created, seen string
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth,
			&sub.UserAgent, &created, &seen, &sub.Expired); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(time.RFC3339, created)
		sub.LastSeen, _ = time.Parse(time.RFC3339, seen)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
