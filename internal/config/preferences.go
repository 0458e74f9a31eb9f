package config

import (
	"log/slog"
	"sync"
)

// Preferences is the free-form preferences.json store. The document
// is schemaless client state; the server only merges and persists.
type Preferences struct {
	mu   sync.Mutex
	path string
	doc  map[string]any
	log  *slog.Logger
}

// LoadPreferences reads preferences.json. A missing or corrupt file
// starts from an empty document rather than failing startup.
func LoadPreferences(path string, log *slog.Logger) *Preferences {
	if log == nil {
		log = slog.Default()
	}
	doc, err := readDocument(path)
	if err != nil {
		log.Warn("resetting unreadable preferences", "path", path, "error", err)
		doc = map[string]any{}
	}
	return &Preferences{path: path, doc: doc, log: log}
}

// Get returns a deep copy of the current document.
func (p *Preferences) Get() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return deepCopyValue(p.doc).(map[string]any)
}

// Merge deep-merges patch into the document and persists it
// atomically. Keys not named by patch keep their values.
func (p *Preferences) Merge(patch map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	merged := DeepMerge(p.doc, patch)
	if err := writeDocument(p.path, merged); err != nil {
		return nil, err
	}
	p.doc = merged
	return deepCopyValue(merged).(map[string]any), nil
}
