// Package convcache memoizes parsed transcript files keyed by
// modification time and guarantees at-most-one concurrent parse
// pass across callers.
package convcache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	gosync "sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/agentgate/agentgate/internal/transcript"
)

const defaultMaxParallel = 8

// ParseFunc parses one transcript file into entries.
type ParseFunc func(ctx context.Context, path string) ([]transcript.Entry, error)

// AggregateFunc reduces all cached files to the caller's result.
// The cache does not understand sessions; grouping is the caller's
// concern.
type AggregateFunc[T any] func(files []FileEntries) (T, error)

// FileEntries is the cached parse result for one file.
type FileEntries struct {
	Path    string
	Project string
	Mtime   int64
	Entries []transcript.Entry
}

// Stats reports cache counters.
type Stats struct {
	Files     int   `json:"files"`
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache memoizes per-file parse results. T is the aggregate result
// type produced for callers.
type Cache[T any] struct {
	mu    gosync.RWMutex
	files map[string]FileEntries

	hits      int64
	misses    int64
	evictions int64

	group  singleflight.Group
	execMu gosync.Mutex // serializes distinct signatures

	maxParallel int
	log         *slog.Logger
}

// New creates an empty cache. maxParallel bounds concurrent file
// parses; zero selects the default.
func New[T any](maxParallel int, log *slog.Logger) *Cache[T] {
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache[T]{
		files:       make(map[string]FileEntries),
		maxParallel: maxParallel,
		log:         log,
	}
}

// GetOrParse refreshes the cache against fileMtimes and returns the
// caller's aggregate over all cached entries. Concurrent calls with
// an identical signature share one execution; distinct signatures
// queue and execute serially.
func (c *Cache[T]) GetOrParse(
	ctx context.Context,
	fileMtimes map[string]int64,
	parse ParseFunc,
	projectOf func(path string) string,
	aggregate AggregateFunc[T],
) (T, error) {
	sig := signature(fileMtimes)
	v, err, _ := c.group.Do(sig, func() (any, error) {
		c.execMu.Lock()
		defer c.execMu.Unlock()
		return c.refresh(ctx, fileMtimes, parse, projectOf, aggregate)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Cache[T]) refresh(
	ctx context.Context,
	fileMtimes map[string]int64,
	parse ParseFunc,
	projectOf func(path string) string,
	aggregate AggregateFunc[T],
) (T, error) {
	var zero T

	stale, removed := c.partition(fileMtimes)

	if len(stale) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.maxParallel)
		for _, path := range stale {
			g.Go(func() error {
				entries, err := parse(gctx, path)
				if err != nil {
					// Leave the file uncached so the next call
					// retries it. Not fatal for the batch.
					c.log.Warn("parsing transcript failed",
						"path", path, "error", err)
					c.evict(path)
					return nil
				}
				c.Update(path, entries, fileMtimes[path], projectOf(path))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return zero, err
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}

	for _, path := range removed {
		c.evict(path)
	}

	out, err := aggregate(c.snapshot())
	if err != nil {
		return zero, fmt.Errorf("aggregating conversations: %w", err)
	}
	return out, nil
}

// partition splits fileMtimes into files needing a parse (new or
// changed) and cached files no longer present.
func (c *Cache[T]) partition(
	fileMtimes map[string]int64,
) (stale, removed []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, mtime := range fileMtimes {
		cached, ok := c.files[path]
		if ok && cached.Mtime == mtime {
			c.hits++
			continue
		}
		c.misses++
		stale = append(stale, path)
	}
	for path := range c.files {
		if _, ok := fileMtimes[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(stale)
	return stale, removed
}

// IsValid reports whether path is cached at exactly mtime.
func (c *Cache[T]) IsValid(path string, mtime int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.files[path]
	return ok && cached.Mtime == mtime
}

// Update installs a parse result for one file atomically.
func (c *Cache[T]) Update(
	path string, entries []transcript.Entry, mtime int64, project string,
) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = FileEntries{
		Path:    path,
		Project: project,
		Mtime:   mtime,
		Entries: entries,
	}
}

func (c *Cache[T]) evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[path]; ok {
		delete(c.files, path)
		c.evictions++
	}
}

// Clear drops all cached entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = make(map[string]FileEntries)
}

// Stats returns current cache counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := 0
	for _, f := range c.files {
		entries += len(f.Entries)
	}
	return Stats{
		Files:     len(c.files),
		Entries:   entries,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// snapshot returns cached files ordered by path for deterministic
// aggregation.
func (c *Cache[T]) snapshot() []FileEntries {
	c.mu.RLock()
	defer c.mu.RUnlock()
	files := make([]FileEntries, 0, len(c.files))
	for _, f := range c.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files
}

// signature produces a stable key for a file→mtime map.
func signature(fileMtimes map[string]int64) string {
	paths := make([]string, 0, len(fileMtimes))
	for path := range fileMtimes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "%s\x00%d\x00", path, fileMtimes[path])
	}
	return b.String()
}
