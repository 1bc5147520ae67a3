package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const fileStorePerm = 0o600

// FileStore implements Store with one JSON document per session under a
// data directory. It is the local persistence tier used when the
// database is unreachable, and survives process restarts.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-backed session store rooted at dir,
// creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Create persists a new session.
func (s *FileStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(sess.ID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	return s.write(path, sess)
}

// Update persists a modified session, enforcing the version token.
func (s *FileStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(sess.ID)
	if err != nil {
		return err
	}
	stored, err := s.read(path)
	if err != nil {
		return err
	}
	if stored.Version != sess.Version-1 {
		return fmt.Errorf("%w: stored version %d, write version %d", ErrVersionConflict, stored.Version, sess.Version)
	}
	return s.write(path, sess)
}

// Get retrieves a session by id.
func (s *FileStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	return s.read(path)
}

// ListByUser returns the user's sessions, newest first.
func (s *FileStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	sessions, err := s.scan(ctx, func(sess *Session) bool { return sess.UserID == userID })
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// ListByEngine returns all sessions for an engine id.
func (s *FileStore) ListByEngine(ctx context.Context, engineID string) ([]*Session, error) {
	return s.scan(ctx, func(sess *Session) bool { return sess.EngineID == engineID })
}

// ListIdleActive returns active sessions idle since before the cutoff.
func (s *FileStore) ListIdleActive(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	return s.scan(ctx, func(sess *Session) bool {
		return sess.Status == StatusActive && sess.LastActiveAt.Before(cutoff)
	})
}

// Close releases resources. The file store has none.
func (*FileStore) Close() error {
	return nil
}

// scan loads every session document and returns those matching keep,
// newest first.
func (s *FileStore) scan(_ context.Context, keep func(*Session) bool) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading session dir: %w", err)
	}

	var result []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sess, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			// A partially written file must not poison listing.
			continue
		}
		if keep(sess) {
			result = append(result, sess)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// path maps a session id to its document path. Ids arrive from request
// paths, so anything that could escape the data dir is rejected before
// it reaches the filesystem.
func (s *FileStore) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: invalid session id %q", ErrNotFound, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) read(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	return &sess, nil
}

// write stores the session atomically via a temp file rename.
func (s *FileStore) write(path string, sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileStorePerm); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming session file: %w", err)
	}
	return nil
}

// Verify interface compliance.
var _ Store = (*FileStore)(nil)
