package identity

import (
	"path/filepath"
	"testing"

	"github.com/austinwade/sitechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGeneratesIdentityOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")
	s, err := NewStore(path)
	require.NoError(t, err)

	ident, err := s.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, ident.UserId)
	assert.Contains(t, ident.DisplayName, "(guest)")

	// the identity is stable across restarts
	require.NoError(t, s.Close())
	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, ident.UserId, again.UserId)
	assert.Equal(t, ident.DisplayName, again.DisplayName)
}

func TestSaveOverwrites(t *testing.T) {
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load()
	require.NoError(t, err)
	require.NoError(t, s.Save(types.Identity{UserId: "u1", DisplayName: "Alice"}))
	ident, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "Alice", ident.DisplayName)
}

func TestNewLocalUserIdShape(t *testing.T) {
	a := NewLocalUserId()
	b := NewLocalUserId()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
}
