// Package conversations turns raw transcript files into the
// conversation summaries the API serves: per-session aggregation,
// metadata join, dependency annotations, filtering, and cursor
// pagination.
package conversations

import (
	"sort"
	"time"

	"github.com/agentgate/agentgate/internal/convcache"
	"github.com/agentgate/agentgate/internal/transcript"
)

// Conversation is one session as presented to the client.
type Conversation struct {
	SessionID      string    `json:"session_id"`
	Project        string    `json:"project"`
	Path           string    `json:"path"`
	Summary        string    `json:"summary,omitempty"`
	FirstTimestamp time.Time `json:"first_timestamp"`
	LastTimestamp  time.Time `json:"last_timestamp"`
	MessageCount   int       `json:"message_count"`
	Model          string    `json:"model,omitempty"`
	TotalCostUSD   float64   `json:"total_cost_usd,omitempty"`
	Cwd            string    `json:"cwd,omitempty"`

	// Joined from the metadata store.
	CustomName            string `json:"custom_name,omitempty"`
	Pinned                bool   `json:"pinned"`
	Archived              bool   `json:"archived"`
	ContinuationSessionID string `json:"continuation_session_id,omitempty"`
	InitialCommitHead     string `json:"initial_commit_head,omitempty"`
	PermissionMode        string `json:"permission_mode,omitempty"`

	// Dependency annotations.
	LeafSession string `json:"leaf_session,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

// sessionData pairs a summary with the messages that produced it,
// kept around for hashing and the message endpoint.
type sessionData struct {
	conv     Conversation
	entries  []transcript.Entry
	messages []transcript.Message
}

// aggregateSessions reduces cached files into per-session data. A
// file normally holds one session but entries carry their own
// session id, so grouping is by id, not by file.
func aggregateSessions(files []convcache.FileEntries) (map[string]*sessionData, error) {
	sessions := make(map[string]*sessionData)
	for _, f := range files {
		for _, e := range f.Entries {
			if e.SessionID == "" {
				continue
			}
			sd, ok := sessions[e.SessionID]
			if !ok {
				sd = &sessionData{conv: Conversation{
					SessionID: e.SessionID,
					Project:   f.Project,
					Path:      f.Path,
				}}
				sessions[e.SessionID] = sd
			}
			sd.entries = append(sd.entries, e)
			accumulate(&sd.conv, e)
		}
	}
	for _, sd := range sessions {
		sd.messages = transcript.Messages(sd.entries)
	}
	return sessions, nil
}

func accumulate(c *Conversation, e transcript.Entry) {
	if !e.Timestamp.IsZero() {
		if c.FirstTimestamp.IsZero() || e.Timestamp.Before(c.FirstTimestamp) {
			c.FirstTimestamp = e.Timestamp
		}
		if e.Timestamp.After(c.LastTimestamp) {
			c.LastTimestamp = e.Timestamp
		}
	}
	if e.IsMessage() {
		c.MessageCount++
	}
	if e.Kind == transcript.KindSummary && e.Summary != "" {
		c.Summary = e.Summary
	}
	if e.Model != "" {
		c.Model = e.Model
	}
	if e.Cwd != "" {
		c.Cwd = e.Cwd
	}
	c.TotalCostUSD += e.CostUSD
}

// sortConversations orders by last activity descending with session
// id ascending as the stable tiebreak.
func sortConversations(convs []Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastTimestamp.Equal(convs[j].LastTimestamp) {
			return convs[i].LastTimestamp.After(convs[j].LastTimestamp)
		}
		return convs[i].SessionID < convs[j].SessionID
	})
}
