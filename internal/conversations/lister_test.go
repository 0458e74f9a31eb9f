package conversations

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/depgraph"
	"github.com/agentgate/agentgate/internal/metastore"
	"github.com/agentgate/agentgate/internal/testjsonl"
	"github.com/agentgate/agentgate/internal/vcs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLister(t *testing.T) (*Lister, string) {
	t.Helper()
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects")

	meta, err := metastore.Open(filepath.Join(dir, "session-info.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })

	l := NewLister(projects, meta, testLogger())
	graph := depgraph.NewEngine(
		filepath.Join(dir, "session-deps.json"), l.ReadMessages, testLogger())
	l.AttachGraph(graph)
	return l, projects
}

func TestListAggregatesSessions(t *testing.T) {
	l, projects := newTestLister(t)

	testjsonl.WriteSession(t, projects, "proj-a", "older",
		testjsonl.UserJSON("first question", "2024-01-01T09:00:00Z")+"\n"+
			testjsonl.AssistantJSON(testjsonl.TextBlocks("answer"),
				"2024-01-01T09:01:00Z")+"\n")
	testjsonl.WriteSession(t, projects, "proj-a", "newer",
		testjsonl.NewBuilder().
			User("hello").
			Assistant("hi").
			Summary("Greeting exchange", "some-uuid").
			String())

	page, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 2)
	assert.Equal(t, 2, page.Total)

	// Most recent activity first.
	newer := page.Conversations[0]
	assert.Equal(t, "newer", newer.SessionID)
	assert.Equal(t, "proj-a", newer.Project)
	assert.Equal(t, "Greeting exchange", newer.Summary)
	assert.Equal(t, 2, newer.MessageCount)
	assert.Equal(t, metastore.ModeDefault, newer.PermissionMode)

	older := page.Conversations[1]
	assert.Equal(t, "older", older.SessionID)
	assert.Equal(t, 2, older.MessageCount)
	assert.False(t, older.FirstTimestamp.IsZero())
	assert.True(t, older.LastTimestamp.After(older.FirstTimestamp))
}

func TestListAnnotatesContinuations(t *testing.T) {
	l, projects := newTestLister(t)

	testjsonl.WriteSession(t, projects, "proj", "short",
		testjsonl.ChainSession("hello", "hi"))
	testjsonl.WriteSession(t, projects, "proj", "long",
		testjsonl.ChainSession("hello", "hi", "more", "sure"))

	page, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)

	byID := map[string]Conversation{}
	for _, c := range page.Conversations {
		byID[c.SessionID] = c
	}
	// The longer session extends the shorter one, so both resolve
	// to the same leaf.
	assert.Equal(t, "long", byID["short"].LeafSession)
	assert.Equal(t, "long", byID["long"].LeafSession)
	assert.NotEmpty(t, byID["short"].Hash)
	assert.NotEqual(t, byID["short"].Hash, byID["long"].Hash)
}

func TestListFilters(t *testing.T) {
	l, projects := newTestLister(t)

	testjsonl.WriteSession(t, projects, "proj", "active",
		testjsonl.ChainSession("a", "b"))
	testjsonl.WriteSession(t, projects, "proj", "done",
		testjsonl.ChainSession("c", "d"))

	archived := true
	_, err := l.meta.Update("done", metastore.SessionUpdate{Archived: &archived})
	require.NoError(t, err)

	notArchived := false
	page, err := l.List(context.Background(), Filter{Archived: &notArchived})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "active", page.Conversations[0].SessionID)

	page, err = l.List(context.Background(), Filter{Archived: &archived})
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, "done", page.Conversations[0].SessionID)
}

func TestListPagination(t *testing.T) {
	l, projects := newTestLister(t)

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		testjsonl.WriteSession(t, projects, "proj", id,
			testjsonl.ChainSession("msg for "+id, "reply"))
	}

	var seen []string
	cursor := ""
	for {
		page, err := l.List(context.Background(),
			Filter{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		for _, c := range page.Conversations {
			seen = append(seen, c.SessionID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	// Every session exactly once, in stable order.
	assert.Equal(t, []string{"s1", "s2", "s3", "s4", "s5"}, seen)
}

func TestListInvalidCursor(t *testing.T) {
	l, projects := newTestLister(t)
	testjsonl.WriteSession(t, projects, "proj", "s1",
		testjsonl.ChainSession("a", "b"))

	_, err := l.List(context.Background(), Filter{Cursor: "garbage"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMessages(t *testing.T) {
	l, projects := newTestLister(t)
	testjsonl.WriteSession(t, projects, "proj", "s1",
		testjsonl.ChainSession("question", "answer"))

	entries, err := l.Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "question", entries[0].Text)

	_, err = l.Messages(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWorkingDirectories(t *testing.T) {
	l, projects := newTestLister(t)

	testjsonl.WriteSession(t, projects, "proj", "s1",
		testjsonl.UserJSON("a", "2024-01-01T10:00:00Z",
			map[string]any{"cwd": "/home/u/work/api"})+"\n")
	testjsonl.WriteSession(t, projects, "proj", "s2",
		testjsonl.UserJSON("b", "2024-01-01T11:00:00Z",
			map[string]any{"cwd": "/home/u/personal/api"})+"\n")
	testjsonl.WriteSession(t, projects, "proj", "s3",
		testjsonl.UserJSON("c", "2024-01-01T12:00:00Z",
			map[string]any{"cwd": "/home/u/personal/api"})+"\n")

	dirs, err := l.WorkingDirectories(context.Background())
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	// Most recently used first; names disambiguate the shared
	// trailing component.
	assert.Equal(t, "/home/u/personal/api", dirs[0].Path)
	assert.Equal(t, "personal/api", dirs[0].Name)
	assert.Equal(t, 2, dirs[0].ConversationCount)
	assert.Equal(t, "work/api", dirs[1].Name)
	assert.Equal(t, 1, dirs[1].ConversationCount)
}

func TestBackfillHeads(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX echo")
	}
	l, projects := newTestLister(t)
	cwd := t.TempDir()

	testjsonl.WriteSession(t, projects, "proj", "s1",
		testjsonl.UserJSON("a", "2024-01-01T10:00:00Z",
			map[string]any{"cwd": cwd})+"\n")

	prober := vcs.NewProber(func() string { return "echo deadbeef" })
	l.BackfillHeads(context.Background(), prober)

	info, err := l.meta.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", info.InitialCommitHead)

	// A second pass does not overwrite the recorded head.
	prober = vcs.NewProber(func() string { return "echo other" })
	l.BackfillHeads(context.Background(), prober)
	info, err = l.meta.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", info.InitialCommitHead)
}
