package transcript

import "time"

// EntryKind identifies the type of a transcript line.
type EntryKind string

const (
	KindUser      EntryKind = "user"
	KindAssistant EntryKind = "assistant"
	KindSummary   EntryKind = "summary"
	KindMeta      EntryKind = "meta"
)

// Entry is one parsed line of a transcript file. Entries are
// immutable once parsed.
type Entry struct {
	Kind       EntryKind
	UUID       string
	ParentUUID string
	SessionID  string
	Timestamp  time.Time

	// Role and Text are the hash-visible reduction of the message
	// payload: Role defaults to "unknown" when absent, Text is the
	// concatenation of text-typed content blocks in file order.
	Role string
	Text string

	// ContentJSON preserves the raw message.content value so that
	// non-text blocks survive for display even though they are
	// ignored for hashing.
	ContentJSON string

	// Summary entries carry the summary text and the uuid of the
	// leaf message they describe.
	Summary  string
	LeafUUID string

	// Auxiliary fields carried through but not hashed.
	Cwd        string
	Model      string
	Version    string
	CostUSD    float64
	DurationMS int64
}

// IsMessage reports whether the entry contributes to the session's
// hashable message sequence.
func (e Entry) IsMessage() bool {
	return e.Kind == KindUser || e.Kind == KindAssistant
}

// Message is the hash-visible form of a transcript message.
type Message struct {
	Role    string
	Content string
}

// Messages reduces entries to their hash-visible messages,
// preserving file order and dropping non-message entries.
func Messages(entries []Entry) []Message {
	var msgs []Message
	for _, e := range entries {
		if !e.IsMessage() {
			continue
		}
		msgs = append(msgs, Message{Role: e.Role, Content: e.Text})
	}
	return msgs
}
