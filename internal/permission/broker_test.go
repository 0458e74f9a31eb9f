package permission

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAssignsIDAndNotifies(t *testing.T) {
	var mu sync.Mutex
	var notified []Request
	b := NewBroker(nil, WithNotify(func(r Request) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, r)
	}))
	defer b.Close()

	req := b.Submit(Submission{
		ToolName:    "Bash",
		ToolInput:   json.RawMessage(`{"command":"ls"}`),
		StreamingID: "stream-1",
	})
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "Bash", req.ToolName)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestApproveWithModifiedInput(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	req := b.Submit(Submission{
		ToolName:  "Bash",
		ToolInput: json.RawMessage(`{"command":"ls"}`),
	})

	// Waiter blocks until the decision lands.
	type result struct {
		req Request
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := b.Wait(context.Background(), req.ID)
		ch <- result{r, err}
	}()

	modified := json.RawMessage(`{"command":"ls -la"}`)
	_, err := b.Approve(req.ID, modified)
	require.NoError(t, err)

	select {
	case got := <-ch:
		require.NoError(t, got.err)
		assert.Equal(t, StatusApproved, got.req.Status)
		assert.JSONEq(t, string(modified), string(got.req.ModifiedInput))
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not observe the approval")
	}

	// Late polls within the grace period still see the resolution.
	late, err := b.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, late.Status)
}

func TestDeny(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	req := b.Submit(Submission{ToolName: "Write"})
	got, err := b.Deny(req.ID, "not in this repo")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)
	assert.Equal(t, "not in this repo", got.DenyReason)
}

func TestResolveExactlyOnce(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	req := b.Submit(Submission{ToolName: "Bash"})
	_, err := b.Approve(req.ID, nil)
	require.NoError(t, err)

	_, err = b.Approve(req.ID, nil)
	assert.ErrorIs(t, err, ErrResolved)
	_, err = b.Deny(req.ID, "nope")
	assert.ErrorIs(t, err, ErrResolved)
}

func TestExpiry(t *testing.T) {
	b := NewBroker(nil,
		WithTimeout(20*time.Millisecond), WithGrace(time.Minute))
	defer b.Close()

	req := b.Submit(Submission{ToolName: "Bash"})
	got, err := b.Wait(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.NotEmpty(t, got.DenyReason)

	// An expired request can no longer be approved.
	_, err = b.Approve(req.ID, nil)
	assert.ErrorIs(t, err, ErrResolved)
}

func TestGarbageCollectionAfterGrace(t *testing.T) {
	b := NewBroker(nil, WithGrace(20*time.Millisecond))
	defer b.Close()

	req := b.Submit(Submission{ToolName: "Bash"})
	_, err := b.Approve(req.ID, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := b.Get(req.ID)
		return err == ErrNotFound
	}, time.Second, 5*time.Millisecond)
}

func TestPendingOrdering(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	first := b.Submit(Submission{ToolName: "Read"})
	second := b.Submit(Submission{ToolName: "Write"})
	resolved := b.Submit(Submission{ToolName: "Bash"})
	_, err := b.Deny(resolved.ID, "no")
	require.NoError(t, err)

	pending := b.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestWaitUnknownRequest(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()
	_, err := b.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWaitRespectsContext(t *testing.T) {
	b := NewBroker(nil)
	defer b.Close()

	req := b.Submit(Submission{ToolName: "Bash"})
	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	_, err := b.Wait(ctx, req.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The request itself is still pending.
	got, err := b.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}
