// Package session remembers the last group each user worked in, so a
// restarted client reopens the same list.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cartsync/cart/internal/cart/schema"
)

// ErrNoGroups is returned by Resolve when the user belongs to no group.
var ErrNoGroups = errors.New("user has no groups")

// Entry is one user's remembered state.
type Entry struct {
	LastGroup string    `toml:"last_group"`
	UpdatedAt time.Time `toml:"updated_at"`
}

type file struct {
	Users map[string]Entry `toml:"users"`
}

// Store persists entries in a TOML file.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a store backed by path. The file is created on first write.
func Open(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// LastGroup returns the group remembered for userID, or "".
func (s *Store) LastGroup(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return "", err
	}
	return f.Users[userID].LastGroup, nil
}

// Remember records groupID as userID's last group.
func (s *Store) Remember(userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	f.Users[userID] = Entry{LastGroup: groupID, UpdatedAt: s.now().UTC().Truncate(time.Second)}
	return s.save(f)
}

// Forget drops userID's remembered group.
func (s *Store) Forget(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Users[userID]; !ok {
		return nil
	}
	delete(f.Users, userID)
	return s.save(f)
}

// Groups lists the groups a user belongs to, newest first.
type Groups interface {
	ListUserGroups(ctx context.Context, userID string) ([]schema.Group, error)
}

// Resolve picks the group userID should start in: the remembered group if
// the user still belongs to it, otherwise the newest of their groups. A
// stale remembered group is forgotten and the choice is remembered.
func (s *Store) Resolve(ctx context.Context, groups Groups, userID string) (schema.Group, error) {
	list, err := groups.ListUserGroups(ctx, userID)
	if err != nil {
		return schema.Group{}, fmt.Errorf("failed to list groups: %w", err)
	}

	last, err := s.LastGroup(userID)
	if err != nil {
		return schema.Group{}, err
	}
	if last != "" {
		for _, g := range list {
			if g.ID == last {
				return g, nil
			}
		}
		if err := s.Forget(userID); err != nil {
			return schema.Group{}, err
		}
	}

	if len(list) == 0 {
		return schema.Group{}, ErrNoGroups
	}
	if err := s.Remember(userID, list[0].ID); err != nil {
		return schema.Group{}, err
	}
	return list[0], nil
}

func (s *Store) load() (*file, error) {
	f := &file{Users: make(map[string]Entry)}
	if _, err := toml.DecodeFile(s.path, f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if f.Users == nil {
		f.Users = make(map[string]Entry)
	}
	return f, nil
}

func (s *Store) save(f *file) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("failed to encode session file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
