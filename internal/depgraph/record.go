// Package depgraph maintains the session dependency graph: a
// prefix-hash index over conversation message streams that
// reconstructs parent/child relationships between forks and
// computes each session's nearest descendant leaf.
package depgraph

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/agentgate/agentgate/internal/transcript"
)

// Record holds the dependency state for one session.
type Record struct {
	SessionID        string    `json:"session_id"`
	PrefixHashes     []string  `json:"prefix_hashes"`
	EndHash          string    `json:"end_hash"`
	ParentSession    string    `json:"parent_session,omitempty"`
	ChildrenSessions []string  `json:"children_sessions,omitempty"`
	LeafSession      string    `json:"leaf_session"`
	MessageCount     int       `json:"message_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (r *Record) clone() *Record {
	c := *r
	c.PrefixHashes = append([]string(nil), r.PrefixHashes...)
	c.ChildrenSessions = append([]string(nil), r.ChildrenSessions...)
	return &c
}

// PrefixHashes computes the prefix-hash chain for a message
// sequence in one linear pass:
//
//	h_i = SHA256(h_{i-1} ∥ canonical({role_i, content_i}))
//
// with h_{-1} the empty string. Each hash is 64 lowercase hex
// characters; hashes[i] uniquely identifies the first i+1 messages.
func PrefixHashes(msgs []transcript.Message) []string {
	hashes := make([]string, len(msgs))
	prev := ""
	for i, m := range msgs {
		h := sha256.New()
		h.Write([]byte(prev))
		h.Write(transcript.Canonical(m))
		prev = hex.EncodeToString(h.Sum(nil))
		hashes[i] = prev
	}
	return hashes
}

// endHash returns the last prefix hash, or "" for an empty chain.
func endHash(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	return hashes[len(hashes)-1]
}
