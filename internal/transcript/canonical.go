package transcript

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// canonicalMessage mirrors the hash preimage: keys serialize in
// sorted order (content before role) with no whitespace.
type canonicalMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Canonical returns the canonical JSON encoding of a message used
// as the prefix-hash preimage: sorted keys, no whitespace, no HTML
// escaping.
func Canonical(m Message) []byte {
	role := m.Role
	if role == "" {
		role = "unknown"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings cannot fail.
	_ = enc.Encode(canonicalMessage{Content: m.Content, Role: role})
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// HashText reduces a message.content value to its hash-visible
// text: the literal string when content is a string, otherwise the
// concatenation (no separator) of the text fields of all blocks
// whose type is "text", in file order. Non-text blocks are ignored.
func HashText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return ""
	}
	var b bytes.Buffer
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str == "text" {
			b.WriteString(block.Get("text").Str)
		}
		return true
	})
	return b.String()
}
