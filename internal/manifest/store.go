package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/browserbase/functions/internal/domain"
)

// Store is the serve-time view of the manifests directory: every *.json file
// loaded into a name → manifest map. Built at startup and reloaded once
// after the handler process first connects (to pick up manifests it just
// emitted); reads thereafter are read-only.
type Store struct {
	mu        sync.RWMutex
	dir       string
	manifests map[string]domain.Manifest
	log       *slog.Logger
}

// NewStore creates an empty store bound to dir. Call Load before serving.
func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, manifests: make(map[string]domain.Manifest), log: log}
}

// Load reads every *.json manifest under the store's directory. A missing
// directory is not an error — the handler process may not have run its
// introspect phase yet — so the store just starts empty.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn("manifests directory does not exist, starting with empty store", "dir", s.dir)
			s.mu.Lock()
			s.manifests = make(map[string]domain.Manifest)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read manifests dir %s: %w", s.dir, err)
	}

	loaded := make(map[string]domain.Manifest)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable manifest", "path", path, "error", err)
			continue
		}
		var m domain.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Warn("skipping malformed manifest", "path", path, "error", err)
			continue
		}
		if m.Name == "" {
			m.Name = strings.TrimSuffix(e.Name(), ".json")
		}
		loaded[m.Name] = m
	}

	s.mu.Lock()
	s.manifests = loaded
	s.mu.Unlock()

	s.log.Info("manifest store loaded", "dir", s.dir, "functions", len(loaded))
	return nil
}

// Reload re-reads the manifests directory, replacing the in-memory map.
func (s *Store) Reload() error {
	return s.Load()
}

// Get returns the manifest for name, if present.
func (s *Store) Get(name string) (domain.Manifest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[name]
	return m, ok
}

// Len counts loaded manifests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.manifests)
}
