package service

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/config"
	"github.com/MimeLyc/sidecar-translator/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, root string) config.Config {
	t.Helper()
	return config.Config{
		Media: config.MediaConfig{
			Dirs:       []string{root},
			Extensions: []string{".mkv"},
			TempDir:    t.TempDir(),
		},
		Languages: config.LanguageConfig{
			Ensure:        []string{"en", "nl", "bs"},
			MinConfidence: 0.85,
		},
		Backend: config.BackendConfig{
			URL:                  "http://libretranslate.invalid",
			AvailabilityInterval: time.Minute,
			Detector:             config.DetectorBackend,
		},
		Jobs: config.JobsConfig{
			Workers:    2,
			RetryCount: 2,
		},
		Scan: config.ScanConfig{
			Interval:   time.Hour,
			OrphanCron: "@daily",
		},
		Cache: config.CacheConfig{
			Enabled: true,
			Path:    filepath.Join(t.TempDir(), "state", "cache.db"),
		},
		API: config.APIConfig{Addr: "127.0.0.1:0"},
	}
}

func newTestApp(t *testing.T, cfg config.Config, backend *fakeBackend) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg,
		WithTranslator(backend),
		WithMedia(englishMedia(t), englishMedia(t)),
		WithNotifier(notify.Nop{}),
	)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestApp_ScanOnceWritesMissingSidecars(t *testing.T) {
	root := t.TempDir()
	movie := writeMedia(t, root, "Show/S01E01.mkv", time.Now().Add(-time.Hour))
	cfg := testConfig(t, root)

	app := newTestApp(t, cfg, &fakeBackend{})
	report, err := app.ScanOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 2, report.Enqueued)

	dir := filepath.Dir(movie)
	assert.FileExists(t, filepath.Join(dir, "S01E01.nl.srt"))
	assert.FileExists(t, filepath.Join(dir, "S01E01.bs.srt"))
	assert.NoFileExists(t, filepath.Join(dir, "S01E01.en.srt"), "embedded languages are not duplicated")

	stats := app.Status().Jobs
	assert.Equal(t, 2, stats.Succeeded)
	app.Close()

	// A restarted instance finds everything recorded and enqueues nothing.
	again := newTestApp(t, cfg, &fakeBackend{})
	report, err = again.ScanOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Enqueued)
}

func TestApp_ScanOnceExplicitPaths(t *testing.T) {
	root := t.TempDir()
	writeMedia(t, root, "a/one.mkv", time.Now().Add(-time.Hour))
	two := writeMedia(t, root, "b/two.mkv", time.Now().Add(-time.Hour))
	writeMedia(t, root, "c/three.mkv", time.Now().Add(-time.Hour))

	app := newTestApp(t, testConfig(t, root), &fakeBackend{})
	report, err := app.ScanOnce(context.Background(), []string{filepath.Join(root, "a"), two})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 4, report.Enqueued)
	assert.NoFileExists(t, filepath.Join(root, "c", "three.nl.srt"))
}

func TestApp_SecondInstanceIsRefused(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	newTestApp(t, cfg, &fakeBackend{})

	_, err := NewApp(context.Background(), cfg, WithTranslator(&fakeBackend{}), WithMedia(englishMedia(t), englishMedia(t)))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.Config))
	assert.Contains(t, err.Error(), "another instance")
}

func TestApp_LanguagePolicyFollowsBackend(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Languages.Ensure = []string{"en", "nl", "bs", "de"}
	backend := &fakeBackend{
		targets: map[string]bool{"en": true, "nl": true, "bs": true},
		sources: map[string]bool{"en": true, "nl": true},
	}

	app := newTestApp(t, cfg, backend)
	st := app.Status()
	assert.Equal(t, []string{"en", "nl", "bs"}, st.Ensure)
	assert.Equal(t, []string{"bs"}, st.TargetOnly)

	cfg = testConfig(t, root)
	cfg.Languages.Ensure = []string{"de"}
	_, err := NewApp(context.Background(), cfg, WithTranslator(backend), WithMedia(englishMedia(t), englishMedia(t)))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.Config))
}

func TestApp_UnreachableBackendKeepsConfiguredLanguages(t *testing.T) {
	backend := &fakeBackend{}
	backend.setAvailErr(assert.AnError)
	cfg := testConfig(t, t.TempDir())
	cfg.Languages.Ensure = []string{"en", "de"}

	app := newTestApp(t, cfg, backend)
	assert.Equal(t, []string{"en", "de"}, app.Status().Ensure)
}

func TestApp_RequiresReadableDirectory(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "not-mounted"))
	_, err := NewApp(context.Background(), cfg, WithTranslator(&fakeBackend{}))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.Config))
}

func TestApp_CacheDisabledRunsWithoutLock(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Cache.Enabled = false

	newTestApp(t, cfg, &fakeBackend{})
	app := newTestApp(t, cfg, &fakeBackend{})
	assert.False(t, app.Status().CacheEnabled)
}

func TestApp_CleanupRemovesOrphans(t *testing.T) {
	root := t.TempDir()
	writeMedia(t, root, "kept.mkv", time.Now())
	writeSidecar(t, filepath.Join(root, "kept.nl.srt"), time.Now())
	writeSidecar(t, filepath.Join(root, "deleted.nl.srt"), time.Now())

	app := newTestApp(t, testConfig(t, root), &fakeBackend{})

	n, err := app.Cleanup(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(root, "deleted.nl.srt"))

	n, err = app.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(root, "deleted.nl.srt"))
	assert.FileExists(t, filepath.Join(root, "kept.nl.srt"))
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestApp_RunSweepsSchedulesAndStops(t *testing.T) {
	root := t.TempDir()
	movie := writeMedia(t, root, "movie.mkv", time.Now().Add(-time.Hour))
	cfg := testConfig(t, root)

	app := newTestApp(t, cfg, &fakeBackend{})
	api := newFakeHTTP()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, api) }()

	select {
	case <-api.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("api did not start")
	}

	nl := filepath.Join(filepath.Dir(movie), "movie.nl.srt")
	require.Eventually(t, func() bool {
		_, err := os.Stat(nl)
		return err == nil && app.Status().LastScan != nil
	}, 5*time.Second, 20*time.Millisecond)

	st := app.Status()
	require.Len(t, st.Schedules, 2)
	assert.Equal(t, scheduleScan, st.Schedules[0].Name)
	assert.Equal(t, "@every 1h0m0s", st.Schedules[0].Trigger.Expression)
	assert.Equal(t, scheduleCleanup, st.Schedules[1].Name)
	assert.False(t, st.Paused)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestApp_RunPausesWhileBackendIsDown(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.Scan.Interval = 0
	cfg.Scan.OrphanCron = ""
	backend := &fakeBackend{}

	app := newTestApp(t, cfg, backend)
	backend.setAvailErr(assert.AnError)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Run(ctx, nil)

	require.Eventually(t, func() bool { return app.Status().Paused }, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, app.Status().PauseReason)
	assert.Empty(t, app.Status().Schedules)
}
