package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MimeLyc/sidecar-translator/internal/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("1\n00:00:01,000 --> 00:00:02,000\nx\n"), 0o644))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestReconcileRemovesOrphans(t *testing.T) {
	root := t.TempDir()
	show := filepath.Join(root, "Show")

	touch(t, filepath.Join(show, "ep1.mkv"))
	kept := []string{
		filepath.Join(show, "ep1.nl.srt"),
		filepath.Join(show, "ep1.bs.srt"),
		filepath.Join(show, "Movie.2020.srt"),
		filepath.Join(show, "notes.txt"),
	}
	orphans := []string{
		filepath.Join(show, "ep2.nl.srt"),
		filepath.Join(show, "deep", "ep3.en.srt"),
	}
	ignored := filepath.Join(root, "Ignored", "gone.nl.srt")
	touch(t, filepath.Join(root, "Ignored", library.IgnoreMarker))

	for _, p := range append(append(kept, orphans...), ignored) {
		touch(t, p)
	}

	r := NewReconciler(library.New([]string{root}, []string{".mkv"}))
	n, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(orphans), n)

	for _, p := range kept {
		assert.True(t, exists(p), p)
	}
	for _, p := range orphans {
		assert.False(t, exists(p), p)
	}
	assert.True(t, exists(ignored))
	assert.True(t, exists(filepath.Join(show, "ep1.mkv")))
}

func TestReconcileMatchesExtensionCaseInsensitively(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "Movie.MKV"))
	touch(t, filepath.Join(root, "Movie.nl.srt"))

	n, err := NewReconciler(library.New([]string{root}, []string{".mkv"})).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, exists(filepath.Join(root, "Movie.nl.srt")))
}

func TestReconcileDryRunKeepsFiles(t *testing.T) {
	root := t.TempDir()
	orphan := filepath.Join(root, "ep2.nl.srt")
	touch(t, orphan)

	r := NewReconciler(library.New([]string{root}, []string{".mkv"}), WithDryRun(true))
	n, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, exists(orphan))
}

func TestReconcileSkipsMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "missing")
	n, err := NewReconciler(library.New([]string{root}, []string{".mkv"})).Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "ep2.nl.srt"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReconciler(library.New([]string{root}, []string{".mkv"})).Reconcile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
