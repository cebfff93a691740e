package autopublish

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoCodeAlone/modular"
)

// defaultDisplayLimit is used when a fresh pending document is created.
const defaultDisplayLimit = 10

// pendingDocument is the on-disk shape of the pending-events file.
type pendingDocument struct {
	Events        []*PendingRecord `json:"events"`
	DeletedEvents []*PendingRecord `json:"deletedEvents"`
	Settings      documentSettings `json:"settings"`
}

type documentSettings struct {
	DisplayLimit int `json:"displayLimit"`
}

// stateDocument is the on-disk shape of the automation-state file.
type stateDocument struct {
	Profiles map[string]*ProfileState `json:"profiles"`
}

// documentStore persists the two engine documents as whole files. A
// corrupt or missing file degrades to an empty document so one broken
// file never takes the other down with it.
type documentStore struct {
	pendingPath string
	statePath   string
	logger      modular.Logger
}

func newDocumentStore(pendingPath, statePath string, logger modular.Logger) *documentStore {
	return &documentStore{pendingPath: pendingPath, statePath: statePath, logger: logger}
}

func (s *documentStore) loadPending() *pendingDocument {
	doc := &pendingDocument{Settings: documentSettings{DisplayLimit: defaultDisplayLimit}}
	data, err := os.ReadFile(s.pendingPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Cannot read pending document, starting empty", "path", s.pendingPath, "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Error("Pending document corrupt, starting empty", "path", s.pendingPath, "error", err)
		return &pendingDocument{Settings: documentSettings{DisplayLimit: defaultDisplayLimit}}
	}
	if doc.Settings.DisplayLimit < 0 {
		doc.Settings.DisplayLimit = defaultDisplayLimit
	}
	return doc
}

func (s *documentStore) loadState() *stateDocument {
	doc := &stateDocument{Profiles: map[string]*ProfileState{}}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Cannot read state document, starting empty", "path", s.statePath, "error", err)
		}
		return doc
	}
	if err := json.Unmarshal(data, doc); err != nil {
		s.logger.Error("State document corrupt, starting empty", "path", s.statePath, "error", err)
		return &stateDocument{Profiles: map[string]*ProfileState{}}
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string]*ProfileState{}
	}
	return doc
}

func (s *documentStore) savePending(doc *pendingDocument) error {
	return writeDocument(s.pendingPath, doc)
}

func (s *documentStore) saveState(doc *stateDocument) error {
	return writeDocument(s.statePath, doc)
}

// writeDocument writes v as indented JSON through a temp file and rename,
// so a crash mid-write never leaves a truncated document behind.
func writeDocument(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
