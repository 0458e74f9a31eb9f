// Package testjsonl provides shared JSONL fixture builders for
// transcript test data. Used by the transcript, depgraph,
// conversations, and server test packages.
package testjsonl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// UserJSON returns a user message line as a JSON string.
// content may be a string or a slice of content blocks.
func UserJSON(content any, timestamp string, extra ...map[string]any) string {
	m := map[string]any{
		"type":      "user",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	}
	applyExtra(m, extra)
	return mustMarshal(m)
}

// AssistantJSON returns an assistant message line as a JSON string.
func AssistantJSON(content any, timestamp string, extra ...map[string]any) string {
	m := map[string]any{
		"type":      "assistant",
		"timestamp": timestamp,
		"message": map[string]any{
			"role":    "assistant",
			"content": content,
		},
	}
	applyExtra(m, extra)
	return mustMarshal(m)
}

// SummaryJSON returns a summary line as a JSON string.
func SummaryJSON(summary, leafUUID string) string {
	return mustMarshal(map[string]any{
		"type":     "summary",
		"summary":  summary,
		"leafUuid": leafUUID,
	})
}

// TextBlocks wraps strings into text content blocks.
func TextBlocks(texts ...string) []map[string]string {
	var blocks []map[string]string
	for _, t := range texts {
		blocks = append(blocks, map[string]string{
			"type": "text", "text": t,
		})
	}
	return blocks
}

func applyExtra(m map[string]any, extra []map[string]any) {
	for _, e := range extra {
		for k, v := range e {
			m[k] = v
		}
	}
}

// Builder constructs JSONL transcript content with a fluent API.
type Builder struct {
	lines []string
	seq   int
}

// NewBuilder returns a new empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) stamp() string {
	b.seq++
	return fmt.Sprintf("2024-01-01T10:%02d:00Z", b.seq)
}

// User appends a user message with string content.
func (b *Builder) User(content string) *Builder {
	b.lines = append(b.lines, UserJSON(content, b.stamp()))
	return b
}

// Assistant appends an assistant message with a single text block.
func (b *Builder) Assistant(text string) *Builder {
	b.lines = append(
		b.lines, AssistantJSON(TextBlocks(text), b.stamp()),
	)
	return b
}

// Summary appends a summary line.
func (b *Builder) Summary(summary, leafUUID string) *Builder {
	b.lines = append(b.lines, SummaryJSON(summary, leafUUID))
	return b
}

// Raw appends an arbitrary raw line.
func (b *Builder) Raw(line string) *Builder {
	b.lines = append(b.lines, line)
	return b
}

// String returns the JSONL content with a trailing newline.
func (b *Builder) String() string {
	return strings.Join(b.lines, "\n") + "\n"
}

// WriteSession writes a transcript file named <sessionID>.jsonl
// under dir/project, creating the project directory as needed.
// Returns the file path.
func WriteSession(
	t *testing.T, dir, project, sessionID, content string,
) string {
	t.Helper()
	projDir := filepath.Join(dir, project)
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("creating project dir: %v", err)
	}
	path := filepath.Join(projDir, sessionID+".jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing session file: %v", err)
	}
	return path
}

// ChainSession builds a transcript containing the given user/
// assistant message texts, alternating roles starting with user.
func ChainSession(texts ...string) string {
	b := NewBuilder()
	for i, text := range texts {
		if i%2 == 0 {
			b.User(text)
		} else {
			b.Assistant(text)
		}
	}
	return b.String()
}

func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
