package depgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/transcript"
)

// mapReader serves messages from an in-memory map.
func mapReader(sessions map[string][]transcript.Message) MessageReader {
	return func(_ context.Context, id string) ([]transcript.Message, error) {
		msgs, ok := sessions[id]
		if !ok {
			return nil, errors.New("unknown session")
		}
		return msgs, nil
	}
}

func refsOf(sessions map[string][]transcript.Message) []SessionRef {
	var refs []SessionRef
	for id, msgs := range sessions {
		refs = append(refs, SessionRef{SessionID: id, MessageCount: len(msgs)})
	}
	return refs
}

func user(text string) transcript.Message {
	return transcript.Message{Role: "user", Content: text}
}

func assistant(text string) transcript.Message {
	return transcript.Message{Role: "assistant", Content: text}
}

func TestPrefixHashesChain(t *testing.T) {
	msgs := []transcript.Message{user("Initial"), assistant("Response 1")}
	hashes := PrefixHashes(msgs)
	require.Len(t, hashes, 2)

	// Base case: empty previous hash.
	h0 := sha256.Sum256(transcript.Canonical(msgs[0]))
	assert.Equal(t, hex.EncodeToString(h0[:]), hashes[0])

	// Chain: previous hex digest prepended to the canonical form.
	h := sha256.New()
	h.Write([]byte(hashes[0]))
	h.Write(transcript.Canonical(msgs[1]))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), hashes[1])

	hexRe := regexp.MustCompile(`^[0-9a-f]{64}$`)
	for _, hash := range hashes {
		assert.Regexp(t, hexRe, hash)
	}
}

func TestPrefixHashesDeterministic(t *testing.T) {
	msgs := []transcript.Message{
		user("a"), assistant("b"), user("c"),
	}
	assert.Equal(t, PrefixHashes(msgs), PrefixHashes(msgs))
	assert.Empty(t, PrefixHashes(nil))
}

func TestEnhanceGapParent(t *testing.T) {
	// gap-B extends gap-A by two messages; the intermediate prefix
	// does not exist as its own session. The highest-index rule
	// must still link B directly to A.
	sessions := map[string][]transcript.Message{
		"gap-A": {user("Initial")},
		"gap-B": {user("Initial"), assistant("Response 1"), user("Follow-up")},
	}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)

	ann := e.Enhance(context.Background(), refsOf(sessions))

	a, ok := e.Lookup("gap-A")
	require.True(t, ok)
	b, ok := e.Lookup("gap-B")
	require.True(t, ok)

	assert.Equal(t, "gap-A", b.ParentSession)
	assert.Equal(t, []string{"gap-B"}, a.ChildrenSessions)
	assert.Equal(t, "gap-B", a.LeafSession)
	assert.Equal(t, "gap-B", b.LeafSession)
	assert.Empty(t, b.ChildrenSessions)

	assert.Equal(t, "gap-B", ann["gap-A"].LeafSession)
	assert.Equal(t, b.EndHash, ann["gap-B"].Hash)
	assert.NotEqual(t, a.EndHash, b.EndHash)
}

func TestEnhanceBranchingLeaves(t *testing.T) {
	sessions := map[string][]transcript.Message{
		"root":     {user("Start")},
		"branch-1": {user("Start"), assistant("Take the left path")},
		"branch-2": {user("Start"), assistant("Take the right path")},
	}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)
	e.Enhance(context.Background(), refsOf(sessions))

	root, _ := e.Lookup("root")
	b1, _ := e.Lookup("branch-1")
	b2, _ := e.Lookup("branch-2")

	assert.Equal(t, "root", b1.ParentSession)
	assert.Equal(t, "root", b2.ParentSession)
	assert.Equal(t, []string{"branch-1", "branch-2"}, root.ChildrenSessions)

	// Equal distances: first child in insertion order wins.
	assert.Equal(t, "branch-1", root.LeafSession)
	assert.Equal(t, "branch-1", b1.LeafSession)
	assert.Equal(t, "branch-2", b2.LeafSession)

	// End hashes pairwise distinct.
	assert.NotEqual(t, root.EndHash, b1.EndHash)
	assert.NotEqual(t, root.EndHash, b2.EndHash)
	assert.NotEqual(t, b1.EndHash, b2.EndHash)

	stats := e.Stats()
	assert.Equal(t, 3, stats.SessionCount)
	assert.Equal(t, 2, stats.LeafCount)
	assert.Equal(t, 1, stats.TreeDepth)
}

func TestEnhanceThreeSessionChain(t *testing.T) {
	sessions := map[string][]transcript.Message{
		"root":       {user("a")},
		"child":      {user("a"), assistant("b")},
		"grandchild": {user("a"), assistant("b"), user("c")},
	}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)
	e.Enhance(context.Background(), refsOf(sessions))

	root, _ := e.Lookup("root")
	child, _ := e.Lookup("child")
	gc, _ := e.Lookup("grandchild")

	assert.Empty(t, root.ParentSession)
	assert.Equal(t, "root", child.ParentSession)
	assert.Equal(t, "child", gc.ParentSession)
	assert.Equal(t, "grandchild", root.LeafSession)
	assert.Equal(t, "grandchild", child.LeafSession)
	assert.Equal(t, 2, e.Stats().TreeDepth)
}

func TestEnhanceParentChoosesClosestAncestor(t *testing.T) {
	// Both "short" and "long" end on prefixes of "deep"; the parent
	// must be the one matching the highest prefix index.
	sessions := map[string][]transcript.Message{
		"short": {user("a")},
		"long":  {user("a"), assistant("b"), user("c")},
		"deep": {
			user("a"), assistant("b"), user("c"), assistant("d"),
		},
	}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)
	e.Enhance(context.Background(), refsOf(sessions))

	deep, _ := e.Lookup("deep")
	long, _ := e.Lookup("long")
	assert.Equal(t, "long", deep.ParentSession)
	assert.Equal(t, "short", long.ParentSession)
}

func TestEnhanceIncrementalGrowth(t *testing.T) {
	sessions := map[string][]transcript.Message{
		"s1": {user("hello")},
	}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)
	e.Enhance(context.Background(), refsOf(sessions))
	first, _ := e.Lookup("s1")

	// Same message count: no recompute, identical state.
	e.Enhance(context.Background(), refsOf(sessions))
	second, _ := e.Lookup("s1")
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	// Grown session is recomputed and a fork appears.
	sessions["s1"] = append(sessions["s1"], assistant("world"))
	sessions["s2"] = []transcript.Message{user("hello"), assistant("other")}
	e.Enhance(context.Background(), refsOf(sessions))

	s1, _ := e.Lookup("s1")
	assert.Equal(t, 2, s1.MessageCount)
	assert.NotEqual(t, first.EndHash, s1.EndHash)

	s2, _ := e.Lookup("s2")
	// Neither fork has a parent: the old one-message prefix of s1
	// no longer exists as any session's end hash.
	assert.Empty(t, s2.ParentSession)
}

func TestEnhanceReaderErrorDegrades(t *testing.T) {
	reader := func(context.Context, string) ([]transcript.Message, error) {
		return nil, errors.New("disk gone")
	}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"), reader, nil,
	)

	ann := e.Enhance(context.Background(), []SessionRef{
		{SessionID: "s1", MessageCount: 3},
	})
	assert.Equal(t, Annotation{LeafSession: "s1"}, ann["s1"])
}

func TestEnhanceCancelledContext(t *testing.T) {
	sessions := map[string][]transcript.Message{"s1": {user("x")}}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ann := e.Enhance(ctx, refsOf(sessions))
	// Degraded: self-leaf, empty hash.
	assert.Equal(t, Annotation{LeafSession: "s1"}, ann["s1"])
	_, ok := e.Lookup("s1")
	assert.False(t, ok)
}

func TestEnhanceEmptySessionHasEmptyHash(t *testing.T) {
	sessions := map[string][]transcript.Message{"empty": {}}
	e := NewEngine(
		filepath.Join(t.TempDir(), "session-deps.json"),
		mapReader(sessions), nil,
	)
	ann := e.Enhance(context.Background(), refsOf(sessions))
	assert.Equal(t, "", ann["empty"].Hash)
	assert.Equal(t, "empty", ann["empty"].LeafSession)
}
