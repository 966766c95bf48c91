package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// StateFile is the machine-written sidecar that records which projected
// tool ids are associated with each server. It implements the
// reconciler's config-store port. The file is rewritten atomically
// (temp file plus rename) on every change.
type StateFile struct {
	mu   sync.Mutex
	path string
}

// stateDoc is the on-disk shape of the state file.
type stateDoc struct {
	Servers map[string]serverState `yaml:"servers"`
}

type serverState struct {
	ToolIDs []string `yaml:"tool_ids"`
}

// NewStateFile creates a state store at the given path. The file is
// created lazily on first write; a missing file reads as empty state.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// AssociatedIDs returns the projected tool ids recorded for a server.
// A missing file or unknown server yields an empty list.
func (s *StateFile) AssociatedIDs(_ context.Context, server string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Servers[server].ToolIDs, nil
}

// WriteAssociatedIDs replaces the recorded id list for a server. An
// empty list removes the server's entry entirely.
func (s *StateFile) WriteAssociatedIDs(_ context.Context, server string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if doc.Servers == nil {
		doc.Servers = make(map[string]serverState)
	}
	if len(ids) == 0 {
		delete(doc.Servers, server)
	} else {
		doc.Servers[server] = serverState{ToolIDs: ids}
	}

	return s.write(doc)
}

func (s *StateFile) read() (*stateDoc, error) {
	doc := &stateDoc{}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *StateFile) write(doc *stateDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
