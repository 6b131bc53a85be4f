// Package filestore keeps votes as one JSON document per conversation on local disk.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fairyhunter13/search-gateway/internal/domain"
	"github.com/fairyhunter13/search-gateway/pkg/textx"
)

// VoteStore writes <dir>/<key>.json. A later vote for the same key replaces
// the earlier file atomically.
type VoteStore struct {
	dir string
	mu  sync.Mutex
}

// NewVoteStore creates dir if needed.
func NewVoteStore(dir string) (*VoteStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("op=filestore.NewVoteStore: %w: empty dir", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("op=filestore.NewVoteStore: %w: %w", domain.ErrPersistence, err)
	}
	return &VoteStore{dir: dir}, nil
}

// Dir returns the directory votes are written to.
func (s *VoteStore) Dir() string { return s.dir }

func (s *VoteStore) path(key string) (string, error) {
	clean := textx.SanitizeKey(key)
	if clean == "" {
		return "", fmt.Errorf("%w: empty vote key", domain.ErrInvalidArgument)
	}
	return filepath.Join(s.dir, clean+".json"), nil
}

// Save writes the vote under key.
func (s *VoteStore) Save(_ domain.Context, key string, v domain.Vote) error {
	p, err := s.path(key)
	if err != nil {
		return fmt.Errorf("op=vote.save: %w", err)
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = time.Now().UTC()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=vote.save: %w: %w", domain.ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, ".vote-*.tmp")
	if err != nil {
		return fmt.Errorf("op=vote.save: %w: %w", domain.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=vote.save: %w: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=vote.save: %w: %w", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("op=vote.save: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Get reads the vote stored under key.
func (s *VoteStore) Get(_ domain.Context, key string) (domain.Vote, error) {
	p, err := s.path(key)
	if err != nil {
		return domain.Vote{}, fmt.Errorf("op=vote.get: %w", err)
	}
	// #nosec G304 -- p is built from a sanitized key inside s.dir
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Vote{}, fmt.Errorf("op=vote.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Vote{}, fmt.Errorf("op=vote.get: %w: %w", domain.ErrPersistence, err)
	}
	var v domain.Vote
	if err := json.Unmarshal(b, &v); err != nil {
		return domain.Vote{}, fmt.Errorf("op=vote.get: %w: %w", domain.ErrPersistence, err)
	}
	return v, nil
}
