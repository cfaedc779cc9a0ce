package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type groupList map[string][]schema.Group

func (g groupList) ListUserGroups(_ context.Context, userID string) ([]schema.Group, error) {
	if userID == "broken" {
		return nil, errors.New("offline")
	}
	return g[userID], nil
}

func TestRememberAndForget(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "nested", "session.toml"))

	got, err := s.LastGroup("alice")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Remember("alice", "g1"))
	require.NoError(t, s.Remember("bob", "g2"))

	got, err = s.LastGroup("alice")
	require.NoError(t, err)
	assert.Equal(t, "g1", got)

	// A fresh store reads the same file.
	got, err = Open(s.Path()).LastGroup("bob")
	require.NoError(t, err)
	assert.Equal(t, "g2", got)

	require.NoError(t, s.Forget("alice"))
	require.NoError(t, s.Forget("alice"))
	got, err = s.LastGroup("alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte("users = [[["), 0o600))

	_, err := Open(path).LastGroup("alice")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	groups := groupList{
		"alice": {{ID: "new"}, {ID: "old"}},
	}
	ctx := context.Background()

	tests := []struct {
		name       string
		remembered string
		user       string
		want       string
		wantErr    error
	}{
		{"remembered group still valid", "old", "alice", "old", nil},
		{"nothing remembered picks newest", "", "alice", "new", nil},
		{"stale group falls back to newest", "gone", "alice", "new", nil},
		{"no groups", "gone", "carol", "", ErrNoGroups},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Open(filepath.Join(t.TempDir(), "session.toml"))
			if tt.remembered != "" {
				require.NoError(t, s.Remember(tt.user, tt.remembered))
			}

			g, err := s.Resolve(ctx, groups, tt.user)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				last, _ := s.LastGroup(tt.user)
				assert.Empty(t, last, "stale group forgotten")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.ID)

			last, err := s.LastGroup(tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, last)
		})
	}
}

func TestResolveListError(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "session.toml"))
	_, err := s.Resolve(context.Background(), groupList{}, "broken")
	assert.Error(t, err)
}
