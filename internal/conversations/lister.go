package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentgate/agentgate/internal/convcache"
	"github.com/agentgate/agentgate/internal/depgraph"
	"github.com/agentgate/agentgate/internal/metastore"
	"github.com/agentgate/agentgate/internal/transcript"
	"github.com/agentgate/agentgate/internal/vcs"
)

const defaultPageSize = 50

// ErrSessionNotFound is returned when a session id matches no
// transcript.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Filter narrows and pages a listing. Nil booleans mean no filter.
type Filter struct {
	Archived        *bool
	Pinned          *bool
	HasContinuation *bool
	Project         string
	Limit           int
	Cursor          string
}

// Page is one page of conversations.
type Page struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    string         `json:"next_cursor,omitempty"`
	Total         int            `json:"total"`
}

// Lister drives the parse cache over discovered transcript files
// and assembles the conversation view.
type Lister struct {
	projectsDir string
	cache       *convcache.Cache[map[string]*sessionData]
	meta        *metastore.Store
	log         *slog.Logger

	graph atomic.Pointer[depgraph.Engine]
	snap  atomic.Pointer[map[string]*sessionData]

	cursorMu     sync.RWMutex
	cursorSecret []byte
}

// NewLister creates a lister over projectsDir. Attach the
// dependency engine with AttachGraph once it exists; until then
// listings degrade to self-leaf annotations.
func NewLister(projectsDir string, meta *metastore.Store, log *slog.Logger) *Lister {
	if log == nil {
		log = slog.Default()
	}
	return &Lister{
		projectsDir:  projectsDir,
		cache:        convcache.New[map[string]*sessionData](0, log),
		meta:         meta,
		log:          log,
		cursorSecret: []byte("agentgate-cursor"),
	}
}

// AttachGraph wires the dependency engine. The engine's message
// reader is ReadMessages, so attachment happens after construction.
func (l *Lister) AttachGraph(e *depgraph.Engine) {
	l.graph.Store(e)
}

// SetCursorSecret keys cursor signing, normally with the auth token
// so cursors expire with it.
func (l *Lister) SetCursorSecret(secret []byte) {
	l.cursorMu.Lock()
	defer l.cursorMu.Unlock()
	l.cursorSecret = append([]byte(nil), secret...)
}

// ReadMessages returns the hash-visible messages of a session from
// the most recent refresh.
func (l *Lister) ReadMessages(ctx context.Context, sessionID string) ([]transcript.Message, error) {
	if snap := l.snap.Load(); snap != nil {
		if sd, ok := (*snap)[sessionID]; ok {
			return sd.messages, nil
		}
	}
	return nil, fmt.Errorf("reading messages: %w: %s", ErrSessionNotFound, sessionID)
}

// CacheStats exposes parse-cache counters for the status endpoint.
func (l *Lister) CacheStats() convcache.Stats {
	return l.cache.Stats()
}

// discover walks projectsDir for transcript files and records their
// modification times.
func (l *Lister) discover() (map[string]int64, error) {
	pattern := filepath.Join(l.projectsDir, "*", "*.jsonl")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("discovering transcripts: %w", err)
	}
	mtimes := make(map[string]int64, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		mtimes[path] = info.ModTime().UnixMilli()
	}
	return mtimes, nil
}

// refresh brings the cache up to date and publishes the session
// snapshot used by ReadMessages and Messages.
func (l *Lister) refresh(ctx context.Context) (map[string]*sessionData, error) {
	mtimes, err := l.discover()
	if err != nil {
		return nil, err
	}

	parse := func(ctx context.Context, path string) ([]transcript.Entry, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return transcript.ParseFile(path)
	}
	projectOf := func(path string) string {
		return filepath.Base(filepath.Dir(path))
	}

	sessions, err := l.cache.GetOrParse(ctx, mtimes, parse, projectOf, aggregateSessions)
	if err != nil {
		return nil, err
	}
	l.snap.Store(&sessions)
	return sessions, nil
}

// List returns a filtered, annotated, paginated conversation page.
func (l *Lister) List(ctx context.Context, f Filter) (Page, error) {
	sessions, err := l.refresh(ctx)
	if err != nil {
		return Page{}, err
	}

	ids := make([]string, 0, len(sessions))
	refs := make([]depgraph.SessionRef, 0, len(sessions))
	for id, sd := range sessions {
		ids = append(ids, id)
		refs = append(refs, depgraph.SessionRef{
			SessionID:    id,
			MessageCount: len(sd.messages),
		})
	}

	if _, err := l.meta.SyncMissing(ids); err != nil {
		return Page{}, fmt.Errorf("syncing session metadata: %w", err)
	}
	infos, err := l.meta.ListAll()
	if err != nil {
		return Page{}, fmt.Errorf("loading session metadata: %w", err)
	}
	metaByID := make(map[string]metastore.SessionInfo, len(infos))
	for _, info := range infos {
		metaByID[info.SessionID] = info
	}

	var annotations map[string]depgraph.Annotation
	if g := l.graph.Load(); g != nil {
		annotations = g.Enhance(ctx, refs)
	}

	convs := make([]Conversation, 0, len(sessions))
	for id, sd := range sessions {
		c := sd.conv
		if info, ok := metaByID[id]; ok {
			c.CustomName = info.CustomName
			c.Pinned = info.Pinned
			c.Archived = info.Archived
			c.ContinuationSessionID = info.ContinuationSessionID
			c.InitialCommitHead = info.InitialCommitHead
			c.PermissionMode = info.PermissionMode
		}
		if ann, ok := annotations[id]; ok {
			c.LeafSession = ann.LeafSession
			c.Hash = ann.Hash
		} else {
			c.LeafSession = id
		}
		if !matches(c, f) {
			continue
		}
		convs = append(convs, c)
	}
	sortConversations(convs)

	return l.paginate(convs, f)
}

func matches(c Conversation, f Filter) bool {
	if f.Archived != nil && c.Archived != *f.Archived {
		return false
	}
	if f.Pinned != nil && c.Pinned != *f.Pinned {
		return false
	}
	if f.HasContinuation != nil &&
		(c.ContinuationSessionID != "") != *f.HasContinuation {
		return false
	}
	if f.Project != "" && c.Project != f.Project {
		return false
	}
	return true
}

func (l *Lister) paginate(convs []Conversation, f Filter) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	total := len(convs)
	start := 0
	if f.Cursor != "" {
		cur, err := l.decodeCursor(f.Cursor)
		if err != nil {
			return Page{}, err
		}
		curTime, err := time.Parse(timeLayout, cur.UpdatedAt)
		if err != nil {
			return Page{}, ErrInvalidCursor
		}
		if cur.Total > 0 {
			total = cur.Total
		}
		start = len(convs)
		for i, c := range convs {
			if afterCursor(c, curTime, cur.ID) {
				start = i
				break
			}
		}
	}

	end := start + limit
	if end > len(convs) {
		end = len(convs)
	}
	page := Page{
		Conversations: convs[start:end],
		Total:         total,
	}
	if end < len(convs) {
		last := convs[end-1]
		page.NextCursor = l.encodeCursor(Cursor{
			UpdatedAt: last.LastTimestamp.UTC().Format(timeLayout),
			ID:        last.SessionID,
			Total:     total,
		})
	}
	return page, nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// afterCursor reports whether c sorts strictly after the cursor
// position in (updated desc, id asc) order.
func afterCursor(c Conversation, curTime time.Time, curID string) bool {
	if !c.LastTimestamp.Equal(curTime) {
		return c.LastTimestamp.Before(curTime)
	}
	return c.SessionID > curID
}

// Messages returns the full entry list of one session, refreshing
// the cache first so recent appends are visible.
func (l *Lister) Messages(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	sessions, err := l.refresh(ctx)
	if err != nil {
		return nil, err
	}
	sd, ok := sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sd.entries, nil
}

// BackfillHeads probes the repository head for sessions that have a
// working directory but no recorded initial commit, storing at most
// one head per session. Probe failures are logged and skipped.
func (l *Lister) BackfillHeads(ctx context.Context, prober *vcs.Prober) {
	sessions, err := l.refresh(ctx)
	if err != nil {
		l.log.Warn("head backfill skipped", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for id, sd := range sessions {
		cwd := sd.conv.Cwd
		if cwd == "" {
			continue
		}
		g.Go(func() error {
			info, err := l.meta.Get(id)
			if err != nil || info.InitialCommitHead != "" {
				return nil
			}
			head, err := prober.Head(gctx, cwd)
			if err != nil {
				l.log.Debug("head probe failed",
					"session", id, "cwd", cwd, "error", err)
				return nil
			}
			if _, err := l.meta.Update(id, metastore.SessionUpdate{
				InitialCommitHead: &head,
			}); err != nil {
				l.log.Warn("storing probed head failed",
					"session", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
