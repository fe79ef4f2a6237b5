package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// requiredSessionFields must all be present for a cached session to be used
var requiredSessionFields = []string{"bearer_token", "cookies", "created_at"}

// SessionStore persists the session record as JSON readable only by the owner
type SessionStore struct {
	path   string
	logger arbor.ILogger
}

// NewSessionStore creates a store writing to path
func NewSessionStore(path string, logger arbor.ILogger) interfaces.SessionStore {
	return &SessionStore{path: path, logger: logger}
}

func (s *SessionStore) Path() string {
	return s.path
}

// Save writes the record with mode 0600, creating parent directories
func (s *SessionStore) Save(record *models.SessionRecord) error {
	if record == nil {
		return errors.New("session record is nil")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := WriteFileAtomic(s.path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write session cache: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Msg("Session cached")
	return nil
}

// Load returns the cached record. A corrupt or incomplete file is deleted
// and reported as absent.
func (s *SessionStore) Load() (*models.SessionRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		s.logger.Warn().Str("path", s.path).Msg("Session cache corrupted, will re-authenticate")
		return nil, s.Clear()
	}

	for _, name := range requiredSessionFields {
		if _, ok := fields[name]; !ok {
			s.logger.Warn().Str("path", s.path).Str("field", name).Msg("Session cache missing required field, will re-authenticate")
			return nil, s.Clear()
		}
	}

	var record models.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Session cache unreadable, will re-authenticate")
		return nil, s.Clear()
	}

	return &record, nil
}

// Touch updates LastValidatedAt on the stored record
func (s *SessionStore) Touch(at time.Time) error {
	record, err := s.Load()
	if err != nil || record == nil {
		return err
	}
	record.LastValidatedAt = at
	return s.Save(record)
}

// Clear deletes the cache file; a missing file is not an error
func (s *SessionStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear session cache: %w", err)
	}
	s.logger.Debug().Str("path", s.path).Msg("Session cache cleared")
	return nil
}

// WriteFileAtomic writes via a temp file in the same directory and renames it into place
func WriteFileAtomic(path string, data []byte, perm, dirPerm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
