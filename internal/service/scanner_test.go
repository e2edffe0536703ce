package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/cache"
	"github.com/MimeLyc/sidecar-translator/internal/inventory"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/library"
	"github.com/MimeLyc/sidecar-translator/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scannerFixture struct {
	root      string
	media     *fakeMedia
	cache     *cache.Cache
	submitter JobSubmitter
	recorder  *recordingSubmitter
	scanner   *Scanner
	policy    resolve.Policy
}

func newScannerFixture(t *testing.T, ensure ...string) *scannerFixture {
	t.Helper()
	if len(ensure) == 0 {
		ensure = []string{"en", "nl", "bs"}
	}
	f := &scannerFixture{
		root:     t.TempDir(),
		media:    englishMedia(t),
		cache:    newTestCache(t),
		recorder: &recordingSubmitter{},
		policy:   resolve.NewPolicy(ensure, nil, 0.85),
	}
	f.submitter = f.recorder
	f.rebuild()
	return f
}

func (f *scannerFixture) rebuild() {
	lib := library.New([]string{f.root}, []string{".mkv"})
	resolver := inventory.NewResolver(f.media, f.media, &fakeBackend{})
	f.scanner = NewScanner(lib, resolver, f.cache, f.submitter, f.policy, 2)
}

func TestScanFile_TranslatesMissingLanguagesFromEmbeddedSource(t *testing.T) {
	f := newScannerFixture(t)
	movie := writeMedia(t, f.root, "Movie/movie.mkv", time.Now().Add(-time.Hour))

	res, err := f.scanner.ScanFile(context.Background(), movie, OriginCLI)
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, []string{"nl", "bs"}, res.Missing)
	assert.Empty(t, res.Unresolved)
	require.Len(t, res.Jobs, 2)
	for _, req := range f.recorder.reqs {
		assert.Equal(t, "en", req.Source)
		assert.Equal(t, 2, req.StreamIndex)
		assert.Equal(t, 0, req.SubtitleIndex)
		assert.Equal(t, OriginCLI, req.Origin)
	}
	assert.Equal(t, []string{"nl", "bs"}, f.recorder.Targets())

	m, err := library.Stat(movie)
	require.NoError(t, err)
	entry := f.cache.Lookup(context.Background(), m.Fingerprint)
	require.NotNil(t, entry)
	assert.True(t, entry.Probed)
	assert.Len(t, entry.Streams, 2)
}

func TestScanFile_UpToDateSidecarCountsAsPresent(t *testing.T) {
	f := newScannerFixture(t)
	mtime := time.Now().Add(-time.Hour)
	movie := writeMedia(t, f.root, "movie.mkv", mtime)
	writeSidecar(t, filepath.Join(f.root, "movie.nl.srt"), mtime.Add(time.Minute))

	_, err := f.scanner.ScanFile(context.Background(), movie, OriginCLI)
	require.NoError(t, err)
	assert.Equal(t, []string{"bs"}, f.recorder.Targets())
}

func TestScanFile_OutdatedSidecarIsRegenerated(t *testing.T) {
	f := newScannerFixture(t)
	mtime := time.Now().Add(-time.Hour)
	movie := writeMedia(t, f.root, "movie.mkv", mtime)
	writeSidecar(t, filepath.Join(f.root, "movie.nl.srt"), mtime.Add(-time.Minute))

	_, err := f.scanner.ScanFile(context.Background(), movie, OriginCLI)
	require.NoError(t, err)
	assert.Equal(t, []string{"nl", "bs"}, f.recorder.Targets())
}

func TestScanFile_ReplacedMediaIgnoresExistingSidecars(t *testing.T) {
	f := newScannerFixture(t)
	ctx := context.Background()
	mtime := time.Now().Add(-time.Hour)
	movie := writeMedia(t, f.root, "movie.mkv", mtime)

	old, err := library.Stat(movie)
	require.NoError(t, err)
	f.cache.MarkCompleted(ctx, old.Fingerprint, movie, "nl")
	f.cache.MarkCompleted(ctx, old.Fingerprint, movie, "bs")

	// New content with an older timestamp than the sidecars.
	require.NoError(t, os.WriteFile(movie, []byte("a different cut"), 0o644))
	require.NoError(t, os.Chtimes(movie, mtime, mtime))
	writeSidecar(t, filepath.Join(f.root, "movie.nl.srt"), mtime.Add(time.Minute))
	writeSidecar(t, filepath.Join(f.root, "movie.bs.srt"), mtime.Add(time.Minute))

	res, err := f.scanner.ScanFile(ctx, movie, OriginWatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"nl", "bs"}, res.Missing)
	assert.Equal(t, []string{"nl", "bs"}, f.recorder.Targets())

	gone := f.cache.Lookup(ctx, old.Fingerprint)
	assert.Nil(t, gone, "entries of the previous version are dropped")
}

func TestScanFile_CachedStreamsAreNotProbedAgain(t *testing.T) {
	f := newScannerFixture(t)
	ctx := context.Background()
	movie := writeMedia(t, f.root, "movie.mkv", time.Now().Add(-time.Hour))

	_, err := f.scanner.ScanFile(ctx, movie, OriginCLI)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.media.probes.Load())

	m, err := library.Stat(movie)
	require.NoError(t, err)
	f.cache.MarkCompleted(ctx, m.Fingerprint, movie, "nl")
	f.cache.MarkCompleted(ctx, m.Fingerprint, movie, "bs")
	f.recorder.reqs = nil

	res, err := f.scanner.ScanFile(ctx, movie, OriginSchedule)
	require.NoError(t, err)
	assert.Empty(t, res.Missing)
	assert.Empty(t, f.recorder.reqs)
	assert.EqualValues(t, 1, f.media.probes.Load())
}

func TestScanFile_SkipsWhenCacheCoversEverything(t *testing.T) {
	f := newScannerFixture(t, "nl", "bs")
	ctx := context.Background()
	movie := writeMedia(t, f.root, "movie.mkv", time.Now().Add(-time.Hour))

	m, err := library.Stat(movie)
	require.NoError(t, err)
	f.cache.MarkCompleted(ctx, m.Fingerprint, movie, "nl")
	f.cache.MarkFailed(ctx, m.Fingerprint, movie, "bs", f.policy.Digest())

	res, err := f.scanner.ScanFile(ctx, movie, OriginSchedule)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, f.media.probes.Load())
}

func TestScanFile_FailureUnderOtherPolicyIsRetried(t *testing.T) {
	f := newScannerFixture(t)
	ctx := context.Background()
	movie := writeMedia(t, f.root, "movie.mkv", time.Now().Add(-time.Hour))

	m, err := library.Stat(movie)
	require.NoError(t, err)
	f.cache.MarkFailed(ctx, m.Fingerprint, movie, "bs", "some-older-policy")
	// A failure under the current policy replaces the older record.
	f.cache.MarkFailed(ctx, m.Fingerprint, movie, "nl", f.policy.Digest())

	_, err = f.scanner.ScanFile(ctx, movie, OriginCLI)
	require.NoError(t, err)
	assert.Equal(t, []string{"bs"}, f.recorder.Targets())
}

func TestScanFile_NoSourceLeavesTargetsUnresolved(t *testing.T) {
	f := newScannerFixture(t)
	f.media.probe.Streams = f.media.probe.Streams[1:] // bitmap only
	movie := writeMedia(t, f.root, "movie.mkv", time.Now().Add(-time.Hour))

	res, err := f.scanner.ScanFile(context.Background(), movie, OriginCLI)
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "nl", "bs"}, res.Unresolved)
	assert.Empty(t, res.Jobs)
	assert.Empty(t, f.recorder.reqs)
}

func TestScanFile_RepeatedScanDoesNotDuplicateJobs(t *testing.T) {
	f := newScannerFixture(t)
	queue := jobs.NewQueue(jobs.Options{Workers: 1})
	t.Cleanup(queue.Stop)
	f.submitter = queue
	f.rebuild()
	movie := writeMedia(t, f.root, "movie.mkv", time.Now().Add(-time.Hour))

	first, err := f.scanner.ScanFile(context.Background(), movie, OriginCLI)
	require.NoError(t, err)
	require.Len(t, first.Jobs, 2)

	second, err := f.scanner.ScanFile(context.Background(), movie, OriginWatch)
	require.NoError(t, err)
	assert.Empty(t, second.Jobs)
	assert.Len(t, queue.List(), 2)
}

func TestScanFile_CancelledCallerDoesNotFailSharedScan(t *testing.T) {
	f := newScannerFixture(t)
	movie := writeMedia(t, f.root, "movie.mkv", time.Now().Add(-time.Hour))
	f.media.entered = make(chan struct{}, 2)
	f.media.release = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.scanner.ScanFile(firstCtx, movie, OriginAPI)
		firstErr <- err
	}()
	<-f.media.entered

	type outcome struct {
		res *FileResult
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := f.scanner.ScanFile(context.Background(), movie, OriginWatch)
		second <- outcome{res, err}
	}()
	// let the second caller join the in-flight scan
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.media.release)
	select {
	case out := <-second:
		require.NoError(t, out.err)
		assert.Equal(t, []string{"nl", "bs"}, out.res.Missing)
	case <-time.After(2 * time.Second):
		t.Fatal("shared scan did not finish")
	}
	assert.EqualValues(t, 1, f.media.probes.Load())
}

func TestScanFile_Errors(t *testing.T) {
	f := newScannerFixture(t)

	_, err := f.scanner.ScanFile(context.Background(), "/elsewhere/movie.mkv", OriginAPI)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.Filesystem))

	_, err = f.scanner.ScanFile(context.Background(), filepath.Join(f.root, "missing.mkv"), OriginAPI)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.Filesystem))

	f.media.probeErr = assert.AnError
	movie := writeMedia(t, f.root, "movie.mkv", time.Now())
	_, err = f.scanner.ScanFile(context.Background(), movie, OriginAPI)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.Extraction))
}

func TestScanAll_ReportsAndPrunesVanishedFiles(t *testing.T) {
	f := newScannerFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	writeMedia(t, f.root, "a/one.mkv", past)
	writeMedia(t, f.root, "b/two.mkv", past)
	writeMedia(t, f.root, "b/notes.txt", past)

	f.cache.MarkCompleted(ctx, "stale-fingerprint", filepath.Join(f.root, "gone.mkv"), "nl")

	report, err := f.scanner.ScanAll(ctx, OriginStartup)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 4, report.Enqueued)
	assert.Zero(t, report.Errors)
	assert.Equal(t, 1, report.Pruned)
	assert.Nil(t, f.cache.Lookup(ctx, "stale-fingerprint"))
}

func TestScanAll_HonoursIgnoreMarker(t *testing.T) {
	f := newScannerFixture(t)
	past := time.Now().Add(-time.Hour)
	writeMedia(t, f.root, "keep/one.mkv", past)
	writeMedia(t, f.root, "skip/two.mkv", past)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "skip", library.IgnoreMarker), nil, 0o644))

	report, err := f.scanner.ScanAll(context.Background(), OriginSchedule)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
}
