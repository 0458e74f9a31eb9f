// Package fsview exposes a read-only view of the local filesystem
// for the web client: directory listings with gitignore awareness
// and size-capped file reads.
package fsview

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxReadSize caps Read payloads.
const MaxReadSize = 1 << 20 // 1 MiB

// ErrTooLarge is returned when a file exceeds MaxReadSize.
var ErrTooLarge = fmt.Errorf("file exceeds %d bytes", MaxReadSize)

// Entry is one row of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List returns the entries under root, sorted directories first
// then by name. With recursive set the walk descends; .git is
// always skipped, and with respectGitignore set, paths matching the
// root's .gitignore patterns are filtered out. root must be an
// absolute path to a directory.
func List(root string, recursive, respectGitignore bool) ([]Entry, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("path must be absolute: %s", root)
	}
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	var ignore *ignoreRules
	if respectGitignore {
		ignore = loadIgnoreRules(root)
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are omitted, not fatal.
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if d.Name() == ".git" && d.IsDir() {
			return filepath.SkipDir
		}
		if ignore != nil && ignore.match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		fi, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		e := Entry{
			Name:    d.Name(),
			Path:    path,
			IsDir:   d.IsDir(),
			ModTime: fi.ModTime().UTC(),
		}
		if !d.IsDir() {
			e.Size = fi.Size()
		}
		entries = append(entries, e)

		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

// Read returns the contents of an absolute file path, refusing
// anything larger than MaxReadSize.
func Read(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("path must be absolute: %s", path)
	}
	path = filepath.Clean(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("is a directory: %s", path)
	}
	if info.Size() > MaxReadSize {
		return nil, ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxReadSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) > MaxReadSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// ignoreRules holds the patterns of the root .gitignore. Patterns
// are matched with doublestar against root-relative slash paths.
type ignoreRules struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern string
	negate  bool
	dirOnly bool
	rooted  bool
}

func loadIgnoreRules(root string) *ignoreRules {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}

	rules := &ignoreRules{}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := ignorePattern{pattern: line}
		if strings.HasPrefix(p.pattern, "!") {
			p.negate = true
			p.pattern = p.pattern[1:]
		}
		if strings.HasSuffix(p.pattern, "/") {
			p.dirOnly = true
			p.pattern = strings.TrimSuffix(p.pattern, "/")
		}
		if strings.Contains(strings.TrimSuffix(p.pattern, "/"), "/") {
			p.rooted = true
			p.pattern = strings.TrimPrefix(p.pattern, "/")
		}
		rules.patterns = append(rules.patterns, p)
	}
	if len(rules.patterns) == 0 {
		return nil
	}
	return rules
}

// match reports whether rel (OS-specific separators) is ignored.
// Later patterns win, mirroring gitignore precedence.
func (r *ignoreRules) match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	ignored := false
	for _, p := range r.patterns {
		if p.dirOnly && !isDir {
			// Directory-only patterns still cover files beneath a
			// matched directory via the parent check below.
			if !r.underDir(rel, p.pattern) {
				continue
			}
			ignored = !p.negate
			continue
		}
		if r.patternMatches(p, rel) {
			ignored = !p.negate
		}
	}
	return ignored
}

func (r *ignoreRules) patternMatches(p ignorePattern, rel string) bool {
	if p.rooted {
		ok, _ := doublestar.Match(p.pattern, rel)
		return ok
	}
	// Unanchored patterns match at any depth.
	if ok, _ := doublestar.Match(p.pattern, rel); ok {
		return true
	}
	ok, _ := doublestar.Match("**/"+p.pattern, rel)
	return ok
}

func (r *ignoreRules) underDir(rel, dir string) bool {
	if ok, _ := doublestar.Match(dir, rel); ok {
		return true
	}
	if ok, _ := doublestar.Match("**/"+dir, rel); ok {
		return true
	}
	if ok, _ := doublestar.Match(dir+"/**", rel); ok {
		return true
	}
	ok, _ := doublestar.Match("**/"+dir+"/**", rel)
	return ok
}
