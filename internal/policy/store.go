package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cmdgate/cmdgate/pkg/types"
)

// Store persists the policy document. It owns no business logic.
type Store interface {
	Load() (*types.PolicyDocument, error)
	Save(doc *types.PolicyDocument) error
}

// FileStore reads and writes the pretty-printed JSON policy document at a
// fixed path. The on-disk shape is the durable contract with external
// rule-editing tools.
type FileStore struct {
	path string
}

// NewFileStore creates a store for the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("policy path is empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads and validates the persisted document.
func (s *FileStore) Load() (*types.PolicyDocument, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var doc types.PolicyDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if !doc.DefaultAction.Valid() {
		return nil, fmt.Errorf("policy defaultAction %q is not allow|deny|prompt", doc.DefaultAction)
	}
	for i, r := range doc.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("policy rule %d has an empty pattern", i)
		}
		if !r.Action.Valid() {
			return nil, fmt.Errorf("policy rule %d action %q is not allow|deny|prompt", i, r.Action)
		}
	}
	return &doc, nil
}

// Save writes the document atomically (temp file + rename) so a crash
// mid-write never leaves a truncated policy behind.
func (s *FileStore) Save(doc *types.PolicyDocument) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir policy dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace policy: %w", err)
	}
	return nil
}
