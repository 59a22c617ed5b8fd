package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steward-sh/steward/pkg/canonical"
)

// FileStore persists one JSON document per run, keyed by run_id. Files are
// written once and never mutated.
type FileStore struct {
	dir string
}

// NewFileStore creates the run log directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Persist writes the run log. The content hash is computed over the
// document before the hash field itself is set. Persisting the same run
// twice is an error: run logs are immutable after write.
func (s *FileStore) Persist(log *RunLog) error {
	if log.RunID == "" {
		return fmt.Errorf("run log missing run_id")
	}
	if !log.Outcome.Terminal() {
		return fmt.Errorf("refusing to persist non-terminal run %s (outcome=%s)", log.RunID, log.Outcome)
	}

	path := s.path(log.RunID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("run log %s already persisted", log.RunID)
	}

	hash, err := canonical.Hash(log)
	if err != nil {
		return fmt.Errorf("failed to hash run log %s: %w", log.RunID, err)
	}
	log.ContentHash = hash

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run log %s: %w", log.RunID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write run log %s: %w", log.RunID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize run log %s: %w", log.RunID, err)
	}
	return nil
}

// Load reads a persisted run log by run_id.
func (s *FileStore) Load(runID string) (*RunLog, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to read run log %s: %w", runID, err)
	}
	var log RunLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse run log %s: %w", runID, err)
	}
	return &log, nil
}

// List returns persisted run IDs.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}
