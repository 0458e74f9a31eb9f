package conversations

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// WorkingDirectory is one distinct transcript cwd with usage stats.
type WorkingDirectory struct {
	Path              string    `json:"path"`
	Name              string    `json:"name"`
	ConversationCount int       `json:"conversation_count"`
	LastUsed          time.Time `json:"last_used"`
}

// WorkingDirectories aggregates the distinct working directories
// across all sessions, most recently used first. Names are the
// shortest path suffix that is unique across the set.
func (l *Lister) WorkingDirectories(ctx context.Context) ([]WorkingDirectory, error) {
	sessions, err := l.refresh(ctx)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*WorkingDirectory)
	for _, sd := range sessions {
		cwd := sd.conv.Cwd
		if cwd == "" {
			continue
		}
		wd, ok := byPath[cwd]
		if !ok {
			wd = &WorkingDirectory{Path: cwd}
			byPath[cwd] = wd
		}
		wd.ConversationCount++
		if sd.conv.LastTimestamp.After(wd.LastUsed) {
			wd.LastUsed = sd.conv.LastTimestamp
		}
	}

	dirs := make([]WorkingDirectory, 0, len(byPath))
	for _, wd := range byPath {
		dirs = append(dirs, *wd)
	}
	assignNames(dirs)
	sort.Slice(dirs, func(i, j int) bool {
		if !dirs[i].LastUsed.Equal(dirs[j].LastUsed) {
			return dirs[i].LastUsed.After(dirs[j].LastUsed)
		}
		return dirs[i].Path < dirs[j].Path
	})
	return dirs, nil
}

// assignNames gives each directory the shortest trailing-component
// suffix that no other directory shares.
func assignNames(dirs []WorkingDirectory) {
	split := make([][]string, len(dirs))
	for i, wd := range dirs {
		split[i] = strings.Split(
			strings.Trim(filepath.ToSlash(wd.Path), "/"), "/")
	}

	for i := range dirs {
		for depth := 1; ; depth++ {
			name := suffix(split[i], depth)
			unique := true
			for j := range dirs {
				if j != i && suffix(split[j], depth) == name {
					unique = false
					break
				}
			}
			if unique || depth >= len(split[i]) {
				dirs[i].Name = name
				break
			}
		}
	}
}

func suffix(parts []string, n int) string {
	if n > len(parts) {
		n = len(parts)
	}
	return strings.Join(parts[len(parts)-n:], "/")
}
