// Package permission bridges asynchronous human approval decisions
// into the synchronous RPC expected by the assistant's subordinate
// tool server: requests are submitted, polled with a bounded wait,
// and resolved exactly once.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a request. Requests transition
// exactly once from pending to approved, denied, or expired.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

const (
	// DefaultTimeout bounds how long a request may stay pending.
	DefaultTimeout = 5 * time.Minute
	// DefaultGrace keeps resolved requests readable for late
	// pollers before garbage collection.
	DefaultGrace = time.Minute

	expiredReason = "timed out waiting for a decision"
)

var (
	// ErrNotFound is returned for unknown or collected requests.
	ErrNotFound = errors.New("permission request not found")
	// ErrResolved is returned when deciding an already-resolved
	// request.
	ErrResolved = errors.New("permission request already resolved")
)

// Request is a pending or resolved tool-permission decision.
type Request struct {
	ID            string          `json:"id"`
	StreamingID   string          `json:"streaming_id"`
	SessionID     string          `json:"session_id,omitempty"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
	CreatedAt     time.Time       `json:"created_at"`
	Status        Status          `json:"status"`
	ModifiedInput json.RawMessage `json:"modified_input,omitempty"`
	DenyReason    string          `json:"deny_reason,omitempty"`
}

type pendingRequest struct {
	Request
	done    chan struct{}
	expiry  *time.Timer
	collect *time.Timer
}

// NotifyFunc is invoked when a new request arrives, out of the
// broker's lock.
type NotifyFunc func(Request)

// Broker holds the queue of permission requests.
type Broker struct {
	mu       sync.Mutex
	requests map[string]*pendingRequest
	timeout  time.Duration
	grace    time.Duration
	notify   NotifyFunc
	log      *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithTimeout overrides the pending-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Broker) { b.timeout = d }
}

// WithGrace overrides the post-resolution retention period.
func WithGrace(d time.Duration) Option {
	return func(b *Broker) { b.grace = d }
}

// WithNotify sets the new-request notification callback.
func WithNotify(fn NotifyFunc) Option {
	return func(b *Broker) { b.notify = fn }
}

// NewBroker creates an empty broker.
func NewBroker(log *slog.Logger, opts ...Option) *Broker {
	if log == nil {
		log = slog.Default()
	}
	b := &Broker{
		requests: make(map[string]*pendingRequest),
		timeout:  DefaultTimeout,
		grace:    DefaultGrace,
		log:      log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Submission is the input to Submit.
type Submission struct {
	ToolName    string
	ToolInput   json.RawMessage
	StreamingID string
	SessionID   string
}

// Submit stores a new pending request, arms its expiry timer, and
// fires the notification callback. Returns the stored request with
// its assigned id.
func (b *Broker) Submit(sub Submission) Request {
	req := &pendingRequest{
		Request: Request{
			ID:          uuid.NewString(),
			StreamingID: sub.StreamingID,
			SessionID:   sub.SessionID,
			ToolName:    sub.ToolName,
			ToolInput:   sub.ToolInput,
			CreatedAt:   time.Now().UTC(),
			Status:      StatusPending,
		},
		done: make(chan struct{}),
	}
	req.expiry = time.AfterFunc(b.timeout, func() {
		b.expire(req.ID)
	})

	b.mu.Lock()
	b.requests[req.ID] = req
	snapshot := req.Request
	b.mu.Unlock()

	b.log.Info("permission requested",
		"id", snapshot.ID, "tool", snapshot.ToolName)
	if b.notify != nil {
		go b.notify(snapshot)
	}
	return snapshot
}

// Pending returns pending requests ordered by creation time.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Request
	for _, req := range b.requests {
		if req.Status == StatusPending {
			out = append(out, req.Request)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns the current state of a request. Resolved requests
// remain readable until collected after the grace period.
func (b *Broker) Get(id string) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req.Request, nil
}

// Approve resolves a pending request. A non-nil modifiedInput
// replaces the tool input; the subordinate server must honor the
// returned input, not the original.
func (b *Broker) Approve(
	id string, modifiedInput json.RawMessage,
) (Request, error) {
	return b.resolve(id, func(req *pendingRequest) {
		req.Status = StatusApproved
		if len(modifiedInput) > 0 {
			req.ModifiedInput = modifiedInput
		}
	})
}

// Deny resolves a pending request with a reason.
func (b *Broker) Deny(id, reason string) (Request, error) {
	return b.resolve(id, func(req *pendingRequest) {
		req.Status = StatusDenied
		req.DenyReason = reason
	})
}

func (b *Broker) resolve(
	id string, apply func(*pendingRequest),
) (Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrResolved
	}
	req.expiry.Stop()
	apply(req)
	close(req.done)
	req.collect = time.AfterFunc(b.grace, func() {
		b.remove(id)
	})
	b.log.Info("permission resolved",
		"id", id, "status", req.Status)
	return req.Request, nil
}

// expire transitions a still-pending request to expired so that
// later polls observe a synthesized denial with a timeout reason.
func (b *Broker) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.requests[id]
	if !ok || req.Status != StatusPending {
		return
	}
	req.Status = StatusExpired
	req.DenyReason = expiredReason
	close(req.done)
	req.collect = time.AfterFunc(b.grace, func() {
		b.remove(id)
	})
	b.log.Warn("permission request expired", "id", id)
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.requests, id)
}

// Wait blocks until the request resolves or expires, or ctx ends.
// The returned request reflects the final decision; decisions are
// observable strictly after submission.
func (b *Broker) Wait(ctx context.Context, id string) (Request, error) {
	b.mu.Lock()
	req, ok := b.requests[id]
	b.mu.Unlock()
	if !ok {
		return Request{}, ErrNotFound
	}

	select {
	case <-req.done:
		return b.Get(id)
	case <-ctx.Done():
		return Request{}, ctx.Err()
	}
}

// Close stops all timers and drops state. Pending waiters observe
// an expiry.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, req := range b.requests {
		if req.expiry != nil {
			req.expiry.Stop()
		}
		if req.collect != nil {
			req.collect.Stop()
		}
		if req.Status == StatusPending {
			req.Status = StatusExpired
			req.DenyReason = expiredReason
			close(req.done)
		}
		delete(b.requests, id)
	}
}
