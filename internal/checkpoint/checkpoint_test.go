package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Get(42))
}

func TestPutGet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(1, 100))
	assert.Equal(t, int64(100), s.Get(1))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(100), reloaded.Get(1))
}

func TestPut_IgnoresRegression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(1, 100))
	require.NoError(t, s.Put(1, 50))
	assert.Equal(t, int64(100), s.Get(1))
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, s.Put(7, 9))

	snap := s.Snapshot()
	snap[7] = 999
	assert.Equal(t, int64(9), s.Get(7))
}
