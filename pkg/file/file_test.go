package file

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"/m/show.mkv", ".srt", "/m/show.srt"},
		{"/m/show.mkv", "srt", "/m/show.srt"},
		{"/m/noext", ".srt", "/m/noext.srt"},
		{"", ".srt", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceExt(tt.path, tt.ext), tt.path)
	}
}

func TestSidecarPathRoundTrip(t *testing.T) {
	p := SidecarPath("/media/Show/ep1.mkv", "nl")
	assert.Equal(t, "/media/Show/ep1.nl.srt", p)

	base, lang, ok := SplitSidecar(p)
	require.True(t, ok)
	assert.Equal(t, "/media/Show/ep1", base)
	assert.Equal(t, "nl", lang)

	_, _, ok = SplitSidecar("/media/dir.v2/plain.srt")
	assert.False(t, ok)
	_, _, ok = SplitSidecar("/media/ep1.en.ass")
	assert.False(t, ok)
}

func TestFindByExtSkipsDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "skip"), 0o755))
	for _, p := range []string{"a/one.MKV", "a/one.en.srt", "skip/two.mkv", "three.mkv"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, p), []byte("x"), 0o644))
	}

	got, err := FindByExt(root, []string{".mkv"}, func(path string) bool {
		return filepath.Base(path) == "skip"
	})
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{filepath.Join(root, "a/one.MKV"), filepath.Join(root, "three.mkv")}, got)
}

func TestWriteAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "ep.nl.srt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	require.NoError(t, WriteAtomic(target, []byte("new"), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not linger")
}
