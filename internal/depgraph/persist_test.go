package depgraph

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentgate/internal/transcript"
)

func TestRestartPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session-deps.json")
	sessions := map[string][]transcript.Message{
		"root":       {user("a")},
		"child":      {user("a"), assistant("b")},
		"grandchild": {user("a"), assistant("b"), user("c")},
	}

	e1 := NewEngine(path, mapReader(sessions), nil)
	e1.Enhance(context.Background(), refsOf(sessions))
	before := make(map[string]Record)
	for id := range sessions {
		r, ok := e1.Lookup(id)
		require.True(t, ok)
		before[id] = r
	}

	// New process: loads the persisted table, enhances with no new
	// data, and must observe identical relationships and hashes.
	e2 := NewEngine(path, mapReader(sessions), nil)
	e2.Enhance(context.Background(), refsOf(sessions))
	for id, want := range before {
		got, ok := e2.Lookup(id)
		require.True(t, ok)
		ignoreTimes := cmp.FilterPath(func(p cmp.Path) bool {
			field := p.String()
			return field == "CreatedAt" || field == "UpdatedAt"
		}, cmp.Ignore())
		if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
			t.Errorf("record %s changed across restart (-before +after):\n%s",
				id, diff)
		}
	}
}

func TestCorruptFileIsRebuilt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session-deps.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o644))

	sessions := map[string][]transcript.Message{
		"s1": {user("hello"), assistant("world")},
	}
	e := NewEngine(path, mapReader(sessions), nil)
	ann := e.Enhance(context.Background(), refsOf(sessions))
	assert.NotEmpty(t, ann["s1"].Hash)

	// The rebuild replaced the corrupt file with a valid one.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f depsFile
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, schemaVersion, f.SchemaVersion)
	assert.Equal(t, 1, f.TotalSessions)
	assert.Contains(t, f.Sessions, "s1")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deps.json")
	records := map[string]*Record{
		"a": {
			SessionID:    "a",
			PrefixHashes: []string{"h1", "h2"},
			EndHash:      "h2",
			LeafSession:  "a",
			MessageCount: 2,
		},
	}
	require.NoError(t, saveRecords(path, records))

	loaded, err := loadRecords(path)
	require.NoError(t, err)
	require.Contains(t, loaded, "a")
	assert.Equal(t, records["a"].PrefixHashes, loaded["a"].PrefixHashes)
	assert.Equal(t, "h2", loaded["a"].EndHash)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	records, err := loadRecords(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSavePreservesCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deps.json")
	records := map[string]*Record{"a": {SessionID: "a", LeafSession: "a"}}
	require.NoError(t, saveRecords(path, records))

	var first depsFile
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))

	require.NoError(t, saveRecords(path, records))
	var second depsFile
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &second))

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.LastUpdated.Before(first.LastUpdated))
}
