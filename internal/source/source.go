// Package source reads service bundles from disk. A service directory
// holds the script, an optional manifest and the metadata the server
// persists across restarts:
//
//	services/<name>/main.js
//	services/<name>/config.yaml
//	services/<name>/metadata.json
package source

import (
	"fmt"
	"os"
	"path/filepath"
)

// Well-known file names inside a service directory.
const (
	ScriptFile   = "main.js"
	ConfigFile   = "config.yaml"
	MetadataFile = "metadata.json"
)

// DirSource produces a service's source and manifest bytes on demand.
type DirSource struct {
	dir string
}

// NewDirSource wraps a service directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Dir returns the backing directory.
func (s *DirSource) Dir() string { return s.dir }

// ReadScript returns the script source bytes.
func (s *DirSource) ReadScript() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ScriptFile))
	if err != nil {
		return nil, fmt.Errorf("read service script: %w", err)
	}
	return data, nil
}

// ReadConfig returns the manifest bytes, or nil when no manifest exists.
func (s *DirSource) ReadConfig() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, ConfigFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read service config: %w", err)
	}
	return data, nil
}

// Write persists script and manifest bytes, creating the directory.
func (s *DirSource) Write(script, config []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create service dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, ScriptFile), script, 0o644); err != nil {
		return fmt.Errorf("write service script: %w", err)
	}
	if config != nil {
		if err := os.WriteFile(filepath.Join(s.dir, ConfigFile), config, 0o644); err != nil {
			return fmt.Errorf("write service config: %w", err)
		}
	}
	return nil
}

// Remove deletes the whole service directory.
func (s *DirSource) Remove() error {
	return os.RemoveAll(s.dir)
}

// Loader enumerates persisted services below a root directory.
type Loader struct {
	root string
}

// NewLoader creates a loader over the services root, creating it if absent.
func NewLoader(root string) (*Loader, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create services root: %w", err)
	}
	return &Loader{root: root}, nil
}

// Root returns the services root directory.
func (l *Loader) Root() string { return l.root }

// ServiceDir returns the directory a named service lives in.
func (l *Loader) ServiceDir(name string) *DirSource {
	return NewDirSource(filepath.Join(l.root, name))
}

// Entry is one persisted service found on disk.
type Entry struct {
	Name     string
	Source   *DirSource
	Metadata Metadata
}

// Services lists every service directory that carries metadata. Directories
// without metadata are skipped: they are either foreign or half-written.
func (l *Loader) Services() ([]Entry, error) {
	dirents, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list services root: %w", err)
	}

	var entries []Entry
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(l.root, de.Name())
		meta, err := ReadMetadata(dir)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:     de.Name(),
			Source:   NewDirSource(dir),
			Metadata: meta,
		})
	}
	return entries, nil
}
