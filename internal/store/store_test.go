package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "balances.json"))
	require.NoError(t, err)

	var v int64
	ok, err := s.Get("nobody", &v)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, s.Keys())
}

func TestSetGetDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "balances.json"))
	require.NoError(t, err)

	require.NoError(t, s.Set("alice", int64(42)))

	var v int64
	ok, err := s.Get("alice", &v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), v)

	require.NoError(t, s.Delete("alice"))
	ok, err = s.Get("alice", &v)
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting an absent key is a no-op.
	require.NoError(t, s.Delete("alice"))
}

func TestReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("alice", int64(100)))
	require.NoError(t, s.Set("bob", map[string]string{"memo": "hi"}))

	reopened, err := Open(path)
	require.NoError(t, err)

	var balance int64
	ok, err := reopened.Get("alice", &balance)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(100), balance)

	var obj map[string]string
	ok, err = reopened.Get("bob", &obj)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hi", obj["memo"])
}

func TestNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", 1))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestAllReturnsCopy(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, s.Set("k", 1))

	all := s.All()
	require.Len(t, all, 1)
	delete(all, "k")

	var v int
	ok, err := s.Get("k", &v)
	require.NoError(t, err)
	require.True(t, ok)
}
