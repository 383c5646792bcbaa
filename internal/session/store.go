package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Store persists Session snapshots to a single JSON file. Writes go through
// a temp file and rename so a crash mid-write cannot corrupt the previous
// snapshot. One Store serves one client instance; it is single-writer.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store writing to path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted snapshot. A missing file returns (nil, nil). A
// corrupt or unreadable file is logged and treated as absent rather than
// failing the startup flow.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("session file unreadable, treating as absent", "path", s.path, "error", err)
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("session file corrupt, treating as absent", "path", s.path, "error", err)
		return nil, nil
	}
	if sess.CachedBodies == nil {
		sess.CachedBodies = make(map[string]CachedBody)
	}
	if sess.ETags == nil {
		sess.ETags = make(map[string]string)
	}
	return &sess, nil
}

// Save writes the full snapshot atomically.
func (s *Store) Save(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	sess.Version = snapshotVersion
	sess.SavedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("committing session: %w", err)
	}
	return nil
}

// Clear removes the snapshot file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
