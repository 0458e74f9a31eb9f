package depgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const schemaVersion = 1

// depsFile is the on-disk shape of the dependency table.
type depsFile struct {
	SchemaVersion int                `json:"schema_version"`
	CreatedAt     time.Time          `json:"created_at"`
	LastUpdated   time.Time          `json:"last_updated"`
	TotalSessions int                `json:"total_sessions"`
	Sessions      map[string]*Record `json:"sessions"`
}

// loadRecords reads the persisted dependency table. A missing file
// yields an empty table; a corrupt file returns an error so the
// caller can log and rebuild from scratch.
func loadRecords(path string) (map[string]*Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var f depsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Sessions == nil {
		f.Sessions = make(map[string]*Record)
	}
	for id, r := range f.Sessions {
		if r == nil {
			delete(f.Sessions, id)
			continue
		}
		r.SessionID = id
	}
	return f.Sessions, nil
}

// saveRecords writes the table through an atomic replace: a sibling
// temp file is written, fsynced, and renamed over the target.
func saveRecords(path string, records map[string]*Record) error {
	// Preserve the original creation time when rewriting.
	createdAt := time.Now().UTC()
	if data, err := os.ReadFile(path); err == nil {
		var prev depsFile
		if json.Unmarshal(data, &prev) == nil && !prev.CreatedAt.IsZero() {
			createdAt = prev.CreatedAt
		}
	}

	f := depsFile{
		SchemaVersion: schemaVersion,
		CreatedAt:     createdAt,
		LastUpdated:   time.Now().UTC(),
		TotalSessions: len(records),
		Sessions:      records,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dependency records: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
