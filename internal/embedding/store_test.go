package embedding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostelattend/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	vec := Vector{0.1, -0.2, 0.3}
	path, err := s.Save(vec, "HB-101")
	require.NoError(t, err)
	assert.Equal(t, s.Path("HB-101"), path)

	got, err := s.Load("HB-101")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Save(Vector{1, 1}, "S1")
	require.NoError(t, err)
	_, err = s.Save(Vector{2, 2}, "S1")
	require.NoError(t, err)

	got, err := s.Load("S1")
	require.NoError(t, err)
	assert.Equal(t, Vector{2, 2}, got)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestPathEscapesSeparators(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Save(Vector{1}, "2024/CS/07")
	require.NoError(t, err)
	assert.Equal(t, s.dir, filepath.Dir(s.Path("2024/CS/07")))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Contains(t, all, "2024/CS/07")
}

func TestLoadMissingOrCorrupt(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Load("nobody")
	assert.True(t, apperr.Is(err, apperr.KindDecode))

	require.NoError(t, os.WriteFile(s.Path("broken"), []byte("{not json"), 0o644))
	_, err = s.Load("broken")
	assert.True(t, apperr.Is(err, apperr.KindDecode))
}

func TestLoadAllSkipsBadFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Save(Vector{0.5, 0.5}, "good-1")
	require.NoError(t, err)
	_, err = s.Save(Vector{0.1, 0.9}, "good-2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("bad"), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(s.Path("empty"), []byte(`{"student_id":"empty","vector":[]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "notes.txt"), []byte("x"), 0o644))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"good-1", "good-2"}, all.Keys())
}

func TestSaveUnwritableDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "enc"), nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(s.dir))
	require.NoError(t, os.WriteFile(s.dir, []byte("file in the way"), 0o644))

	_, err = s.Save(Vector{1}, "S1")
	assert.True(t, apperr.Is(err, apperr.KindIO))

	_, err = NewStore(s.dir, nil)
	assert.True(t, apperr.Is(err, apperr.KindIO))
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Save(Vector{1}, "S1")
	require.NoError(t, err)
	require.NoError(t, s.Delete("S1"))
	require.NoError(t, s.Delete("S1"))
	_, err = s.Load("S1")
	assert.Error(t, err)
}

func TestDistance(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 5.0, Distance(Vector{0, 0}, Vector{3, 4}), 1e-9)
	assert.True(t, Distance(Vector{1}, Vector{1, 2}) > 1e9)
}
