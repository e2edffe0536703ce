package service

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/cache"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/library"
	"github.com/MimeLyc/sidecar-translator/internal/resolve"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

const sweepKey = "\x00sweep"

// Scanner decides which languages each media file lacks and enqueues the
// translations that can fill them.
type Scanner struct {
	lib       *library.Library
	resolver  StreamResolver
	cache     *cache.Cache
	submitter JobSubmitter
	policy    resolve.Policy
	digest    string
	// probeLimit bounds concurrent ffprobe/ffmpeg work during a sweep.
	probeLimit int

	group singleflight.Group
}

func NewScanner(
	lib *library.Library,
	resolver StreamResolver,
	c *cache.Cache,
	submitter JobSubmitter,
	policy resolve.Policy,
	probeLimit int,
) *Scanner {
	if probeLimit <= 0 {
		probeLimit = 1
	}
	return &Scanner{
		lib:        lib,
		resolver:   resolver,
		cache:      c,
		submitter:  submitter,
		policy:     policy,
		digest:     policy.Digest(),
		probeLimit: probeLimit,
	}
}

func (s *Scanner) Policy() resolve.Policy {
	return s.policy
}

// ScanAll sweeps every root. Concurrent callers share one sweep. Per-file
// errors are counted and logged, never returned.
func (s *Scanner) ScanAll(ctx context.Context, origin string) (ScanReport, error) {
	v, err, shared := s.group.Do(sweepKey, func() (any, error) {
		return s.sweep(ctx, origin)
	})
	if shared {
		log.Debug("scan_sweep_shared origin=%s", origin)
	}
	if err != nil {
		return ScanReport{}, err
	}
	return v.(ScanReport), nil
}

func (s *Scanner) sweep(ctx context.Context, origin string) (ScanReport, error) {
	start := time.Now()
	log.Info("scan_started origin=%s roots=%v", origin, s.lib.Roots())

	paths, err := s.lib.Walk(ctx)
	if err != nil {
		return ScanReport{}, err
	}

	results := make([]*FileResult, len(paths))
	failed := make([]bool, len(paths))

	var g errgroup.Group
	g.SetLimit(s.probeLimit)
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.ScanFile(ctx, path, origin)
			if err != nil {
				failed[i] = true
				log.Warn("scan_file_failed path=%s error=%v", path, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return ScanReport{}, err
	}

	report := ScanReport{Files: len(paths)}
	for i, res := range results {
		if failed[i] {
			report.Errors++
			continue
		}
		if res == nil {
			continue
		}
		if res.Skipped {
			report.Skipped++
		}
		report.Enqueued += len(res.Jobs)
		report.Unresolved += len(res.Unresolved)
	}

	pruned, err := s.cache.Prune(ctx, s.keepEntry)
	if err != nil {
		log.Warn("cache_prune_failed error=%v", err)
	}
	report.Pruned = pruned
	report.Duration = time.Since(start).Round(time.Millisecond)

	log.Info("scan_finished origin=%s files=%d skipped=%d enqueued=%d unresolved=%d errors=%d duration=%s",
		origin, report.Files, report.Skipped, report.Enqueued, report.Unresolved, report.Errors, report.Duration)
	return report, nil
}

// keepEntry keeps cache rows of files that exist or whose root is offline.
func (s *Scanner) keepEntry(path string) bool {
	_, err := os.Stat(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return true
	}
	return !s.lib.RootPresent(path)
}

// ScanFile evaluates one media file. A second concurrent call for the same
// path waits for and shares the first call's result. The shared scan does
// not inherit cancellation, so one caller giving up never fails the others;
// each caller still returns as soon as its own ctx ends.
func (s *Scanner) ScanFile(ctx context.Context, path, origin string) (*FileResult, error) {
	ch := s.group.DoChan(path, func() (any, error) {
		return s.scanFile(context.WithoutCancel(ctx), path, origin)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*FileResult), nil
	}
}

func (s *Scanner) scanFile(ctx context.Context, path, origin string) (*FileResult, error) {
	if !s.lib.Owns(path) {
		return nil, apperrors.New(apperrors.Filesystem, "not a media file in a watched directory").
			WithContext("path", path)
	}
	m, err := library.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Filesystem, "stat media file").WithContext("path", path)
	}

	result := &FileResult{Path: path}
	entry := s.cache.Lookup(ctx, m.Fingerprint)
	if entry.Covers(s.policy.Ensure, s.digest) {
		log.Debug("scan_skip_cached path=%s fingerprint=%.12s", path, m.Fingerprint)
		result.Skipped = true
		return result, nil
	}

	if entry == nil || !entry.Probed {
		streams, err := s.resolver.Resolve(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.Wrap(err, apperrors.Extraction, "resolve stream inventory").WithContext("path", path)
		}
		entry = s.cache.RecordStreams(ctx, m.Fingerprint, path, streams)
	}

	satisfied, err := s.satisfied(m, entry)
	if err != nil {
		return nil, err
	}

	plan := resolve.Build(entry.Streams, satisfied, s.policy)
	result.Missing = plan.Missing
	result.Unresolved = plan.Unresolved

	for _, a := range plan.Assignments {
		job, created, err := s.submitter.Submit(jobs.Request{
			Origin:        origin,
			Path:          path,
			Fingerprint:   m.Fingerprint,
			Target:        a.Target,
			Source:        a.Source,
			StreamIndex:   a.Stream.Index,
			SubtitleIndex: a.Stream.SubtitleIndex,
			Codec:         a.Stream.Codec,
		})
		if err != nil {
			return result, err
		}
		if !created {
			log.Debug("job_already_queued path=%s target=%s job=%s", path, a.Target, job.ID)
			continue
		}
		log.Info("job_enqueued job=%s path=%s target=%s source=%s stream=%d origin=%s",
			job.ID, path, a.Target, a.Source, a.Stream.Index, origin)
		result.Jobs = append(result.Jobs, job)
	}
	for _, lang := range plan.Unresolved {
		log.Info("no_source path=%s target=%s embedded=%v", path, lang, plan.Embedded)
	}
	return result, nil
}

// satisfied collects languages needing no work: completed or permanently
// failed for this fingerprint, plus sidecars at least as new as the media.
// Sidecars are ignored when the file changed since the last recorded scan.
func (s *Scanner) satisfied(m library.MediaFile, entry *cache.Entry) (map[string]bool, error) {
	have := make(map[string]bool)
	for _, l := range s.policy.Ensure {
		if entry.HasCompleted(l) || entry.HasFailed(l, s.digest) {
			have[l] = true
		}
	}
	if entry != nil && entry.Supersedes {
		return have, nil
	}

	sidecars, err := library.Sidecars(m)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Filesystem, "list sidecars").WithContext("path", m.Path)
	}
	for lang, sc := range sidecars {
		if sc.ModTime.Before(m.ModTime) {
			log.Debug("sidecar_outdated path=%s lang=%s", sc.Path, lang)
			continue
		}
		have[lang] = true
	}
	return have, nil
}
