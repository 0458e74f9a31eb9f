package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source identifies where a configuration change originated.
type Source string

const (
	SourceAPI      Source = "api"
	SourceExternal Source = "external"
)

// ChangeFunc receives the previous and new snapshots on every
// applied change.
type ChangeFunc func(old, new Config, source Source)

const watchDebounce = 200 * time.Millisecond

// Store is the live configuration store. Readers hold an immutable
// snapshot; writers deep-merge, persist atomically, and swap.
type Store struct {
	mu   sync.Mutex
	path string
	raw  map[string]any // on-disk document, unknown keys included
	snap atomic.Pointer[Config]
	subs []ChangeFunc
	log  *slog.Logger

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Load reads, bootstraps, and validates the configuration at path.
// On first run identity fields are generated and the file is
// written. Validation failure is fatal to the caller.
func Load(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	raw, err := readDocument(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	raw = applyDefaults(raw, defaults())

	changed, err := bootstrapIdentity(raw)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping identity: %w", err)
	}

	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if changed {
		if err := writeDocument(path, raw); err != nil {
			return nil, fmt.Errorf("writing config: %w", err)
		}
	}

	s := &Store{
		path: path,
		raw:  raw,
		log:  log,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.snap.Store(&cfg)
	return s, nil
}

// Get returns the current snapshot.
func (s *Store) Get() Config {
	return *s.snap.Load()
}

// Raw returns a deep copy of the full on-disk document, unknown
// keys included.
func (s *Store) Raw() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyValue(s.raw).(map[string]any)
}

// Subscribe registers a change callback. Callbacks run outside the
// store lock, in registration order.
func (s *Store) Subscribe(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Merge deep-merges patch into the document, validates, persists
// atomically, swaps the snapshot, and notifies subscribers. Nested
// scalars not named by patch keep their values; unknown top-level
// keys are preserved verbatim.
func (s *Store) Merge(patch map[string]any, source Source) (Config, error) {
	s.mu.Lock()
	merged := DeepMerge(s.raw, patch)

	cfg, err := decodeConfig(merged)
	if err != nil {
		s.mu.Unlock()
		return Config{}, err
	}

	// Identity never changes after bootstrap.
	old := *s.snap.Load()
	cfg.MachineID = old.MachineID
	cfg.AuthToken = old.AuthToken
	merged["machine_id"] = old.MachineID
	merged["auth_token"] = old.AuthToken

	if err := cfg.Validate(); err != nil {
		s.mu.Unlock()
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	if err := writeDocument(s.path, merged); err != nil {
		s.mu.Unlock()
		return Config{}, err
	}

	s.raw = merged
	s.snap.Store(&cfg)
	subs := append([]ChangeFunc(nil), s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(old, cfg, source)
	}
	return cfg, nil
}

// Watch starts the filesystem watcher that revalidates the file
// when it is edited externally. Invalid JSON is logged and the
// previous state kept; valid changes swap the snapshot and notify
// subscribers with SourceExternal.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: atomic replaces recreate the file, and
	// watching the path directly would drop after the first rename.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching config dir: %w", err)
	}
	s.watcher = w
	go s.watchLoop()
	return nil
}

// Stop shuts the watcher down and waits for it to finish.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.watcher != nil {
			<-s.done
			s.watcher.Close()
		}
	})
}

func (s *Store) watchLoop() {
	defer close(s.done)

	var pending bool
	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(watchDebounce)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("config watcher error", "error", err)

		case <-timer.C:
			pending = false
			s.reloadExternal()
		}
	}
}

// reloadExternal re-reads the file after an external edit.
func (s *Store) reloadExternal() {
	raw, err := readDocument(s.path)
	if err != nil {
		s.log.Warn("ignoring invalid external config edit",
			"path", s.path, "error", err)
		return
	}
	raw = applyDefaults(raw, defaults())

	s.mu.Lock()
	if reflect.DeepEqual(raw, s.raw) {
		// Our own atomic rewrite, or a no-op edit.
		s.mu.Unlock()
		return
	}
	cfg, err := decodeConfig(raw)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Warn("ignoring invalid external config edit",
			"path", s.path, "error", err)
		return
	}

	old := *s.snap.Load()
	s.raw = raw
	s.snap.Store(&cfg)
	subs := append([]ChangeFunc(nil), s.subs...)
	s.mu.Unlock()

	s.log.Info("configuration reloaded from external edit")
	for _, fn := range subs {
		fn(old, cfg, SourceExternal)
	}
}
