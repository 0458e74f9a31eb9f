package transcript

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	initialScanBufSize = 64 * 1024        // 64KB
	maxScanTokenSize   = 20 * 1024 * 1024 // 20MB
)

// ParseFile parses an append-only JSONL transcript file into
// entries in file order. Malformed lines are skipped and counted;
// only an unreadable file is an error.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	var (
		entries   []Entry
		malformed int
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(
		make([]byte, 0, initialScanBufSize), maxScanTokenSize,
	)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !gjson.Valid(line) {
			malformed++
			continue
		}
		entries = append(entries, parseLine(line, sessionID))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	if malformed > 0 {
		slog.Warn("skipped malformed transcript lines",
			"path", path, "count", malformed)
	}
	return entries, nil
}

// parseLine converts one valid JSON line into an Entry.
func parseLine(line, fileSessionID string) Entry {
	e := Entry{
		UUID:       gjson.Get(line, "uuid").Str,
		ParentUUID: gjson.Get(line, "parentUuid").Str,
		SessionID:  gjson.Get(line, "sessionId").Str,
		Timestamp:  parseTimestamp(gjson.Get(line, "timestamp").Str),
		Cwd:        gjson.Get(line, "cwd").Str,
		Version:    gjson.Get(line, "version").Str,
		CostUSD:    gjson.Get(line, "costUSD").Float(),
		DurationMS: gjson.Get(line, "durationMs").Int(),
	}
	if e.SessionID == "" {
		e.SessionID = fileSessionID
	}

	switch gjson.Get(line, "type").Str {
	case "user":
		e.Kind = KindUser
	case "assistant":
		e.Kind = KindAssistant
		e.Model = gjson.Get(line, "message.model").Str
	case "summary":
		e.Kind = KindSummary
		e.Summary = gjson.Get(line, "summary").Str
		e.LeafUUID = gjson.Get(line, "leafUuid").Str
		return e
	default:
		e.Kind = KindMeta
		return e
	}

	e.Role = gjson.Get(line, "message.role").Str
	if e.Role == "" {
		e.Role = "unknown"
	}
	content := gjson.Get(line, "message.content")
	e.Text = HashText(content)
	e.ContentJSON = content.Raw
	return e
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
