package chatfeed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateStore persists the feed resume cursor as a JSON file per session
// name: feed_<session>.json. Writes use atomic file replacement (write to
// .tmp, then rename) so a crash mid-save never leaves a torn cursor; a
// restart resumes from the last persisted update id.
type StateStore struct {
	dir string
	mu  sync.Mutex // serializes all file operations
}

// resumeState is the stored cursor document.
type resumeState struct {
	LastUpdateID int64 `json:"last_update_id"`
}

// OpenState creates a state store backed by the given directory.
func OpenState(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &StateStore{dir: dir}, nil
}

// SaveCursor atomically persists the last confirmed update id for a
// session.
func (s *StateStore) SaveCursor(session string, updateID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resumeState{LastUpdateID: updateID})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	path := s.path(session)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadCursor restores the cursor for a session from disk. A session with
// no saved state starts from zero.
func (s *StateStore) LoadCursor(session string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(session))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	var st resumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return st.LastUpdateID, nil
}

func (s *StateStore) path(session string) string {
	return filepath.Join(s.dir, "feed_"+session+".json")
}
