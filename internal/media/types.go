package media

import (
	"context"
	"strings"
	"time"
)

// SubtitleStream describes one subtitle track as reported by ffprobe.
type SubtitleStream struct {
	// Index is the container-wide stream index.
	Index int `json:"index"`
	// SubtitleIndex is the 0-based position among subtitle streams (ffmpeg "0:s:N").
	SubtitleIndex   int           `json:"subtitle_index"`
	Codec           string        `json:"codec"`
	Language        string        `json:"language,omitempty"`
	Title           string        `json:"title,omitempty"`
	Forced          bool          `json:"forced,omitempty"`
	Default         bool          `json:"default,omitempty"`
	HearingImpaired bool          `json:"hearing_impaired,omitempty"`
	Duration        time.Duration `json:"duration,omitempty"`
}

// ProbeResult is the subtitle view of a container.
type ProbeResult struct {
	Streams  []SubtitleStream
	Duration time.Duration
}

// Prober enumerates subtitle streams of a media file.
type Prober interface {
	ListStreams(ctx context.Context, path string) (*ProbeResult, error)
}

// Extractor writes one subtitle stream to a temporary SRT file and returns
// its path. The caller removes the file.
type Extractor interface {
	Extract(ctx context.Context, path string, stream SubtitleStream) (string, error)
}

var copyCodecs = map[string]bool{
	"subrip": true,
	"srt":    true,
}

var transcodeCodecs = map[string]bool{
	"ass":      true,
	"ssa":      true,
	"webvtt":   true,
	"text":     true,
	"mov_text": true,
}

// IsTextCodec reports whether a codec can be turned into SRT text.
// Bitmap formats such as hdmv_pgs_subtitle and dvd_subtitle cannot.
func IsTextCodec(codec string) bool {
	c := strings.ToLower(codec)
	return copyCodecs[c] || transcodeCodecs[c]
}
