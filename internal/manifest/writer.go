// Package manifest persists and loads function manifests. During the
// introspect phase each registration writes {manifestsDir}/{name}.json; at
// serve time the dev server loads every manifest into an in-memory store and
// supplies per-function session config to the bridge.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/browserbase/functions/internal/domain"
)

// DefaultDirName is the manifests directory relative to the project root.
const DefaultDirName = ".browserbase/functions/manifests"

// DefaultDir resolves the default manifests directory under the working
// directory.
func DefaultDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(cwd, DefaultDirName)
}

// Writer emits manifest files during the introspect phase.
type Writer struct {
	dir string
}

// NewWriter creates a writer targeting dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the target directory.
func (w *Writer) Dir() string { return w.dir }

// Reset removes the manifests directory recursively and recreates it empty.
// Called once per run, on the first registration, so manifests from prior
// runs do not linger.
func (w *Writer) Reset() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("clear manifests dir %s: %w", w.dir, err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create manifests dir %s: %w", w.dir, err)
	}
	return nil
}

// Write persists one manifest as pretty-printed JSON. Output is
// deterministic (two-space indent, sorted object keys, trailing newline), so
// repeated introspect runs over the same source produce byte-identical files.
func (w *Writer) Write(m domain.Manifest) error {
	if err := validateFileName(m.Name); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create manifests dir %s: %w", w.dir, err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest %q: %w", m.Name, err)
	}
	data = append(data, '\n')

	path := filepath.Join(w.dir, m.Name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// validateFileName rejects function names that cannot be used as manifest
// file names. The registry itself accepts any string; only persistence
// constrains the name.
func validateFileName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("manifest name must not be empty")
	case name == "." || name == "..":
		return fmt.Errorf("manifest name %q is not a valid file name", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("manifest name %q must not contain path separators", name)
	}
	return nil
}
