package library

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkFindsMediaAndSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Show", "Season 1", "ep1.mkv"), "x")
	writeFile(t, filepath.Join(root, "Show", "Season 1", "ep1.en.srt"), "x")
	writeFile(t, filepath.Join(root, "Movie", "movie.MKV"), "x")
	writeFile(t, filepath.Join(root, "Extras", IgnoreMarker), "")
	writeFile(t, filepath.Join(root, "Extras", "bonus.mkv"), "x")
	writeFile(t, filepath.Join(root, ".trash", "old.mkv"), "x")

	lib := New([]string{root, filepath.Join(root, "missing")}, []string{".mkv"})
	got, err := lib.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "Movie", "movie.MKV"),
		filepath.Join(root, "Show", "Season 1", "ep1.mkv"),
	}, got)
}

func TestOwns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "skip", IgnoreMarker), "")
	lib := New([]string{root}, []string{".mkv", ".mp4"})

	assert.True(t, lib.Owns(filepath.Join(root, "a", "b.mkv")))
	assert.True(t, lib.Owns(filepath.Join(root, "b.mp4")))
	assert.False(t, lib.Owns(filepath.Join(root, "b.avi")))
	assert.False(t, lib.Owns("/elsewhere/b.mkv"))
	assert.False(t, lib.Owns(filepath.Join(root, "skip", "deep", "c.mkv")))
}

func TestFingerprintTracksSizeAndModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mkv")
	writeFile(t, path, "abc")

	first, err := Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, first.Size)
	assert.Len(t, first.Fingerprint, 64)

	again, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, again.Fingerprint)

	later := first.ModTime.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	touched, err := Stat(path)
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, touched.Fingerprint)

	writeFile(t, path, "abcd")
	require.NoError(t, os.Chtimes(path, later, later))
	grown, err := Stat(path)
	require.NoError(t, err)
	assert.NotEqual(t, touched.Fingerprint, grown.Fingerprint)

	_, err = Stat(filepath.Dir(path))
	assert.Error(t, err)
}

func TestSidecars(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "ep1.mkv")
	writeFile(t, media, "x")
	writeFile(t, filepath.Join(dir, "ep1.nl.srt"), "x")
	writeFile(t, filepath.Join(dir, "ep1.eng.srt"), "x")
	writeFile(t, filepath.Join(dir, "ep1.forced.srt"), "x")
	writeFile(t, filepath.Join(dir, "ep10.bs.srt"), "x")
	writeFile(t, filepath.Join(dir, "ep1.srt"), "x")

	m, err := Stat(media)
	require.NoError(t, err)
	got, err := Sidecars(m)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, filepath.Join(dir, "ep1.nl.srt"), got["nl"].Path)
	assert.Equal(t, filepath.Join(dir, "ep1.eng.srt"), got["en"].Path)
}

func TestRootPresent(t *testing.T) {
	base := t.TempDir()
	mounted := filepath.Join(base, "mounted")
	require.NoError(t, os.MkdirAll(mounted, 0o755))
	unmounted := filepath.Join(base, "unmounted")

	lib := New([]string{mounted, unmounted}, []string{".mkv"})
	assert.True(t, lib.RootPresent(filepath.Join(mounted, "gone.mkv")))
	assert.False(t, lib.RootPresent(filepath.Join(unmounted, "a.mkv")))
	assert.False(t, lib.RootPresent("/other/a.mkv"))
}
