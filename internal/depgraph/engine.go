package depgraph

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgate/agentgate/internal/transcript"
)

// fullRebuildThreshold is the affected-session fraction above which
// an update is counted as a full rebuild. Both paths run the same
// rebuild primitives; the split is kept as a stats signal and a
// future optimization point.
const fullRebuildThreshold = 0.3

// MessageReader fetches the hash-visible messages of a session.
type MessageReader func(ctx context.Context, sessionID string) ([]transcript.Message, error)

// SessionRef identifies a session and its current message count as
// observed by the caller.
type SessionRef struct {
	SessionID    string
	MessageCount int
}

// Annotation is the per-conversation result of Enhance.
type Annotation struct {
	LeafSession string
	Hash        string
}

// Stats summarizes the graph.
type Stats struct {
	SessionCount        int   `json:"session_count"`
	TreeDepth           int   `json:"tree_depth"`
	LeafCount           int   `json:"leaf_count"`
	FullRebuilds        int64 `json:"full_rebuilds"`
	IncrementalRebuilds int64 `json:"incremental_rebuilds"`
}

// snapshot is the immutable state read without locking.
type snapshot struct {
	records   map[string]*Record
	treeDepth int
	leafCount int
}

// Engine maintains dependency records and persists them as JSON.
// Reads are lock-free against the current snapshot; updates
// serialize on the engine mutex.
type Engine struct {
	mu     sync.Mutex
	path   string
	reader MessageReader
	log    *slog.Logger
	snap   atomic.Pointer[snapshot]

	fullRebuilds        atomic.Int64
	incrementalRebuilds atomic.Int64
}

// NewEngine creates an engine persisting to path. A missing or
// corrupt persisted file is treated as empty; the graph is rebuilt
// on the next Enhance.
func NewEngine(path string, reader MessageReader, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{path: path, reader: reader, log: log}

	records, err := loadRecords(path)
	if err != nil {
		log.Warn("dependency file unreadable, starting empty",
			"path", path, "error", err)
		records = make(map[string]*Record)
	}
	snap := &snapshot{records: records}
	snap.treeDepth, snap.leafCount = measure(records)
	e.snap.Store(snap)
	return e
}

// Enhance brings the graph up to date with the given sessions and
// returns per-session annotations. It never fails user-visibly: on
// any error every session is annotated with itself as leaf and an
// empty hash.
func (e *Engine) Enhance(
	ctx context.Context, refs []SessionRef,
) map[string]Annotation {
	if err := e.update(ctx, refs); err != nil {
		e.log.Error("dependency update failed, degrading",
			"error", err)
		out := make(map[string]Annotation, len(refs))
		for _, ref := range refs {
			out[ref.SessionID] = Annotation{LeafSession: ref.SessionID}
		}
		return out
	}

	snap := e.snap.Load()
	out := make(map[string]Annotation, len(refs))
	for _, ref := range refs {
		if r, ok := snap.records[ref.SessionID]; ok {
			out[ref.SessionID] = Annotation{
				LeafSession: r.LeafSession,
				Hash:        r.EndHash,
			}
			continue
		}
		out[ref.SessionID] = Annotation{LeafSession: ref.SessionID}
	}
	return out
}

// Lookup returns a copy of the record for sessionID.
func (e *Engine) Lookup(sessionID string) (Record, bool) {
	r, ok := e.snap.Load().records[sessionID]
	if !ok {
		return Record{}, false
	}
	return *r.clone(), true
}

// Stats returns graph statistics from the current snapshot.
func (e *Engine) Stats() Stats {
	snap := e.snap.Load()
	return Stats{
		SessionCount:        len(snap.records),
		TreeDepth:           snap.treeDepth,
		LeafCount:           snap.leafCount,
		FullRebuilds:        e.fullRebuilds.Load(),
		IncrementalRebuilds: e.incrementalRebuilds.Load(),
	}
}

// update recomputes prefix hashes for changed sessions, rebuilds
// relationships, and persists the result.
func (e *Engine) update(ctx context.Context, refs []SessionRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := cloneRecords(e.snap.Load().records)

	var toUpdate []SessionRef
	for _, ref := range refs {
		r, ok := records[ref.SessionID]
		if !ok || r.MessageCount != ref.MessageCount {
			toUpdate = append(toUpdate, ref)
		}
	}
	if len(toUpdate) == 0 {
		return nil
	}
	sort.Slice(toUpdate, func(i, j int) bool {
		return toUpdate[i].SessionID < toUpdate[j].SessionID
	})

	now := time.Now().UTC()
	affected := make(map[string]struct{})
	for _, ref := range toUpdate {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := e.reader(ctx, ref.SessionID)
		if err != nil {
			if errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// One unreadable session does not abort the batch.
			e.log.Warn("reading session messages failed",
				"session", ref.SessionID, "error", err)
			continue
		}

		hashes := PrefixHashes(msgs)
		newEnd := endHash(hashes)

		old := records[ref.SessionID]
		created := now
		oldEnd := ""
		if old != nil {
			created = old.CreatedAt
			oldEnd = old.EndHash
			markAffected(affected, records, old, oldEnd)
		}
		markAffectedByHash(affected, records, newEnd)
		affected[ref.SessionID] = struct{}{}

		records[ref.SessionID] = &Record{
			SessionID:    ref.SessionID,
			PrefixHashes: hashes,
			EndHash:      newEnd,
			LeafSession:  ref.SessionID,
			MessageCount: len(msgs),
			CreatedAt:    created,
			UpdatedAt:    now,
		}
	}

	if len(records) > 0 &&
		float64(len(affected)) > fullRebuildThreshold*float64(len(records)) {
		e.fullRebuilds.Add(1)
	} else {
		e.incrementalRebuilds.Add(1)
	}

	// The rebuild primitives are deterministic and cheap at the
	// scales observed, so both paths run them over the full set.
	discoverParents(records)
	depth, leaves := propagateLeaves(records)

	if err := saveRecords(e.path, records); err != nil {
		// In-memory state stays authoritative; the next update
		// retries the write.
		e.log.Warn("persisting dependency records failed",
			"path", e.path, "error", err)
	}

	e.snap.Store(&snapshot{
		records:   records,
		treeDepth: depth,
		leafCount: leaves,
	})
	return nil
}

// markAffected collects the sessions influenced by an updated
// session's previous state: its old parent, old children, and any
// session whose prefix hashes contain the old end hash.
func markAffected(
	affected map[string]struct{},
	records map[string]*Record,
	old *Record, oldEnd string,
) {
	if old.ParentSession != "" {
		affected[old.ParentSession] = struct{}{}
	}
	for _, child := range old.ChildrenSessions {
		affected[child] = struct{}{}
	}
	markAffectedByHash(affected, records, oldEnd)
}

func markAffectedByHash(
	affected map[string]struct{},
	records map[string]*Record,
	hash string,
) {
	if hash == "" {
		return
	}
	for id, r := range records {
		for _, h := range r.PrefixHashes {
			if h == hash {
				affected[id] = struct{}{}
				break
			}
		}
	}
}

// discoverParents rebuilds parent and children links. For each
// session it scans prefix_hashes[0..len-2] from the highest index
// down and links to the first other session whose end hash matches;
// the highest-index rule selects the closest ancestor even when
// intermediate forks do not exist as independent sessions.
func discoverParents(records map[string]*Record) {
	index := make(map[string]string, len(records))
	for id, r := range records {
		if r.EndHash != "" {
			index[r.EndHash] = id
		}
	}

	ids := sortedIDs(records)
	for _, id := range ids {
		records[id].ParentSession = ""
		records[id].ChildrenSessions = nil
	}
	for _, id := range ids {
		r := records[id]
		for i := len(r.PrefixHashes) - 2; i >= 0; i-- {
			p, ok := index[r.PrefixHashes[i]]
			if ok && p != id {
				r.ParentSession = p
				break
			}
		}
	}
	// Children in sorted-id insertion order; leaf tie-breaks
	// depend on this order being stable.
	for _, id := range ids {
		if p := records[id].ParentSession; p != "" {
			records[p].ChildrenSessions =
				append(records[p].ChildrenSessions, id)
		}
	}
}

// propagateLeaves assigns each session its nearest descendant leaf
// with a Kahn-style reverse topological pass. Ties between children
// at equal distance resolve to the first minimum in children order.
// Returns the longest node-to-leaf distance and the leaf count.
func propagateLeaves(records map[string]*Record) (depth, leaves int) {
	dist := make(map[string]int, len(records))
	pending := make(map[string]int, len(records))

	var queue []string
	for _, id := range sortedIDs(records) {
		n := len(records[id].ChildrenSessions)
		pending[id] = n
		if n == 0 {
			records[id].LeafSession = id
			dist[id] = 0
			leaves++
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if dist[id] > depth {
			depth = dist[id]
		}

		p := records[id].ParentSession
		if p == "" {
			continue
		}
		parent, ok := records[p]
		if !ok {
			continue
		}
		pending[p]--
		if pending[p] > 0 {
			continue
		}

		best := -1
		for _, child := range parent.ChildrenSessions {
			if d := dist[child] + 1; best == -1 || d < best {
				best = d
				parent.LeafSession = records[child].LeafSession
			}
		}
		dist[p] = best
		queue = append(queue, p)
	}
	return depth, leaves
}

// measure recomputes depth and leaf count for a loaded snapshot.
func measure(records map[string]*Record) (depth, leaves int) {
	tmp := cloneRecords(records)
	return propagateLeaves(tmp)
}

func cloneRecords(records map[string]*Record) map[string]*Record {
	out := make(map[string]*Record, len(records))
	for id, r := range records {
		out[id] = r.clone()
	}
	return out
}

func sortedIDs(records map[string]*Record) []string {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
