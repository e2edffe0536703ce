package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/cache"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/media"
	"github.com/MimeLyc/sidecar-translator/internal/persistence"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory translation backend.
type fakeBackend struct {
	mu           sync.Mutex
	targets      map[string]bool // nil accepts every target
	sources      map[string]bool // nil accepts every source
	availErr     error
	translateErr error
	output       *string
	calls        []string
	// onTranslate runs inside Translate, before the result is returned.
	onTranslate func()
}

func (f *fakeBackend) DetectLanguage(context.Context, string) (string, float64, error) {
	return "en", 0.99, nil
}

func (f *fakeBackend) Translate(_ context.Context, text, src, tgt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, src+"->"+tgt)
	if f.onTranslate != nil {
		f.onTranslate()
	}
	if f.translateErr != nil {
		return "", f.translateErr
	}
	if f.output != nil {
		return *f.output, nil
	}
	return strings.ReplaceAll(text, "Hello", "Hello["+tgt+"]") + "###\n", nil
}

func (f *fakeBackend) IsTargetSupported(lang string) bool {
	return f.targets == nil || f.targets[lang]
}

func (f *fakeBackend) IsSourceSupported(lang string) bool {
	return f.sources == nil || f.sources[lang]
}

func (f *fakeBackend) SupportsPair(src, tgt string) bool {
	return f.IsSourceSupported(src) && f.IsTargetSupported(tgt)
}

func (f *fakeBackend) Available(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.availErr
}

func (f *fakeBackend) setAvailErr(err error) {
	f.mu.Lock()
	f.availErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeMedia serves the same probe result for every file and writes the
// registered payload for each extracted stream.
type fakeMedia struct {
	dir      string
	probe    *media.ProbeResult
	payloads map[int]string
	probeErr error
	failExt  bool
	// entered and release, when set, hold ListStreams until release is
	// closed or the probe's context ends.
	entered chan struct{}
	release chan struct{}

	seq    atomic.Int64
	probes atomic.Int64
}

func (f *fakeMedia) ListStreams(ctx context.Context, _ string) (*media.ProbeResult, error) {
	f.probes.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.probe, f.probeErr
}

func (f *fakeMedia) Extract(_ context.Context, _ string, s media.SubtitleStream) (string, error) {
	if f.failExt {
		return "", fmt.Errorf("stream %d is damaged", s.Index)
	}
	p := filepath.Join(f.dir, fmt.Sprintf("extract-%d.srt", f.seq.Add(1)))
	return p, os.WriteFile(p, []byte(f.payloads[s.SubtitleIndex]), 0o644)
}

// englishMedia has one full-length English text stream and one bitmap track.
func englishMedia(t *testing.T) *fakeMedia {
	t.Helper()
	return &fakeMedia{
		dir: t.TempDir(),
		probe: &media.ProbeResult{
			Duration: 10 * time.Second,
			Streams: []media.SubtitleStream{
				{Index: 2, SubtitleIndex: 0, Codec: "subrip", Language: "eng"},
				{Index: 3, SubtitleIndex: 1, Codec: "hdmv_pgs_subtitle", Language: "ger"},
			},
		},
		payloads: map[int]string{0: sampleSRT},
	}
}

const sampleSRT = "1\n00:00:01,000 --> 00:00:04,000\nHello there\n\n2\n00:00:05,000 --> 00:00:09,000\nHello again\n"

type fakeNotifier struct {
	refreshed chan string
}

func (f *fakeNotifier) Refresh(_ context.Context, path string) error {
	f.refreshed <- path
	return nil
}

// recordingSubmitter collects requests instead of running them.
type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []jobs.Request
}

func (r *recordingSubmitter) Submit(req jobs.Request) (*jobs.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &jobs.Job{ID: fmt.Sprintf("job-%d", len(r.reqs)), Path: req.Path, Target: req.Target, Source: req.Source}, true, nil
}

func (r *recordingSubmitter) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req.Target)
	}
	return out
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return cache.New(store, nil)
}

// writeMedia creates a media file and sets its modification time.
func writeMedia(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("matroska"), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func writeSidecar(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(sampleSRT), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}
