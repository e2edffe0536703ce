// Package inventory builds the annotated list of subtitle streams of a
// media file: codec filtering, statistics, and language identification.
package inventory

import (
	"context"
	"os"

	"github.com/MimeLyc/sidecar-translator/internal/langcode"
	"github.com/MimeLyc/sidecar-translator/internal/media"
	"github.com/MimeLyc/sidecar-translator/internal/subtitle"
	"github.com/MimeLyc/sidecar-translator/internal/translator"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// Fraction of the container duration a track must span to count as full length.
const fullLengthRatio = 0.5

type Resolver struct {
	prober    media.Prober
	extractor media.Extractor
	detector  translator.Detector
	fallback  translator.Detector
}

type Option func(*Resolver)

// WithFallbackDetector is consulted when the primary detector errors or
// returns nothing.
func WithFallbackDetector(d translator.Detector) Option {
	return func(r *Resolver) {
		r.fallback = d
	}
}

func NewResolver(prober media.Prober, extractor media.Extractor, detector translator.Detector, opts ...Option) *Resolver {
	r := &Resolver{
		prober:    prober,
		extractor: extractor,
		detector:  detector,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve probes path and annotates every subtitle stream. A stream that
// cannot be extracted is kept but marked unreadable; only probe failures and
// cancellation fail the whole call.
func (r *Resolver) Resolve(ctx context.Context, path string) ([]Stream, error) {
	probe, err := r.prober.ListStreams(ctx, path)
	if err != nil {
		return nil, err
	}

	streams := make([]Stream, 0, len(probe.Streams))
	for _, raw := range probe.Streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s := Stream{
			SubtitleStream: raw,
			Declared:       langcode.Normalize(raw.Language),
			SDH:            raw.HearingImpaired || langcode.IsHearingImpaired(raw.Title),
			Bitmap:         !media.IsTextCodec(raw.Codec),
		}
		if s.Declared != "" {
			s.Detected = s.Declared
			s.Confidence = 1
		}
		if s.Bitmap {
			log.Debug("stream_skipped_bitmap path=%s stream=%d codec=%s", path, raw.Index, raw.Codec)
			streams = append(streams, s)
			continue
		}

		data, err := r.sample(ctx, path, raw)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("stream_extract_failed path=%s stream=%d error=%v", path, raw.Index, err)
			s.Unreadable = true
			streams = append(streams, s)
			continue
		}

		stats := subtitle.ComputeStats(data)
		s.CueCount = stats.CueCount
		s.CharCount = stats.CharCount
		s.SampleDuration = stats.Span()
		s.FullLength = !raw.Forced && stats.CueCount > 0 &&
			(probe.Duration <= 0 || float64(stats.Last) >= float64(probe.Duration)*fullLengthRatio)

		if s.Declared == "" && stats.CueCount > 0 {
			s.Detected, s.Confidence = r.detect(ctx, path, raw, data)
		}

		streams = append(streams, s)
	}

	return streams, nil
}

func (r *Resolver) sample(ctx context.Context, path string, raw media.SubtitleStream) ([]byte, error) {
	tmp, err := r.extractor.Extract(ctx, path, raw)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)
	return os.ReadFile(tmp)
}

// detect tries the primary detector, then the fallback, then the title.
func (r *Resolver) detect(ctx context.Context, path string, raw media.SubtitleStream, data []byte) (string, float64) {
	text := subtitle.PlainText(data)

	for _, d := range []translator.Detector{r.detector, r.fallback} {
		if d == nil {
			continue
		}
		lang, conf, err := d.DetectLanguage(ctx, text)
		if err != nil {
			log.Warn("language_detect_failed path=%s stream=%d error=%v", path, raw.Index, err)
			continue
		}
		if lang = langcode.Normalize(lang); lang != "" {
			log.Debug("language_detected path=%s stream=%d lang=%s confidence=%.2f", path, raw.Index, lang, conf)
			return lang, conf
		}
	}

	if hint := langcode.HintFromTitle(raw.Title); hint != "" {
		log.Debug("language_from_title path=%s stream=%d lang=%s title=%q", path, raw.Index, hint, raw.Title)
		return hint, 1
	}
	return "", 0
}
