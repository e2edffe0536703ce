package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/cache"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/library"
	"github.com/MimeLyc/sidecar-translator/internal/media"
	"github.com/MimeLyc/sidecar-translator/internal/notify"
	"github.com/MimeLyc/sidecar-translator/internal/subtitle"
	"github.com/MimeLyc/sidecar-translator/pkg/file"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

const notifyTimeout = 30 * time.Second

// TextTranslator is the part of the backend a job needs.
type TextTranslator interface {
	Translate(ctx context.Context, text, src, tgt string) (string, error)
}

// Executor runs one job: extract the source stream, translate it, and write
// the sidecar atomically.
type Executor struct {
	extractor  media.Extractor
	translator TextTranslator
	cache      *cache.Cache
	notifier   notify.Notifier
	digest     string
}

func NewExecutor(extractor media.Extractor, tr TextTranslator, c *cache.Cache, notifier notify.Notifier, policyDigest string) *Executor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Executor{
		extractor:  extractor,
		translator: tr,
		cache:      c,
		notifier:   notifier,
		digest:     policyDigest,
	}
}

// Execute implements jobs.Executor.
func (e *Executor) Execute(ctx context.Context, job *jobs.Job) error {
	start := time.Now()

	if err := checkUnchanged(job); err != nil {
		return err
	}

	tmp, err := e.extractor.Extract(ctx, job.Path, media.SubtitleStream{
		Index:         job.StreamIndex,
		SubtitleIndex: job.SubtitleIndex,
		Codec:         job.Codec,
	})
	if err != nil {
		return asKind(err, apperrors.Extraction, "extract source stream")
	}
	defer os.Remove(tmp)

	source, err := os.ReadFile(tmp)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Extraction, "read extracted stream")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	translated, err := e.translator.Translate(ctx, string(source), job.Source, job.Target)
	if err != nil {
		if apperrors.IsKind(err, apperrors.Permanent) {
			e.cache.MarkFailed(ctx, job.Fingerprint, job.Path, job.Target, e.digest)
		}
		return err
	}

	out := subtitle.Sanitize([]byte(translated))
	if len(bytes.TrimSpace(out)) == 0 {
		e.cache.MarkFailed(ctx, job.Fingerprint, job.Path, job.Target, e.digest)
		return apperrors.New(apperrors.Permanent, "backend returned an empty translation")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The media may have been replaced while the backend was working.
	if err := checkUnchanged(job); err != nil {
		return err
	}

	target := file.SidecarPath(job.Path, job.Target)
	if err := file.WriteAtomic(target, out, 0o644); err != nil {
		return apperrors.Wrap(err, apperrors.Filesystem, "write sidecar").WithContext("path", target)
	}
	e.cache.MarkCompleted(ctx, job.Fingerprint, job.Path, job.Target)

	log.Info("sidecar_written path=%s source=%s target=%s duration=%s",
		target, job.Source, job.Target, time.Since(start).Round(time.Millisecond))

	go e.refresh(job.Path)
	return nil
}

// checkUnchanged fails when the media file is gone or is no longer the
// version the job was planned for. The next scan of a new version plans its
// own jobs.
func checkUnchanged(job *jobs.Job) error {
	m, err := library.Stat(job.Path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Filesystem, "media file unavailable").WithContext("path", job.Path)
	}
	if m.Fingerprint != job.Fingerprint {
		return apperrors.New(apperrors.Filesystem, "media file changed since the job was queued").
			WithContext("path", job.Path)
	}
	return nil
}

func (e *Executor) refresh(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := e.notifier.Refresh(ctx, path); err != nil {
		log.Warn("library_refresh_failed path=%s error=%v", path, err)
	}
}

// asKind keeps an existing classification and wraps anything else.
func asKind(err error, kind apperrors.Kind, message string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(err, kind, message)
}
