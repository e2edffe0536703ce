package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
	"github.com/google/uuid"
)

// FFmpeg implements Prober and Extractor with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	tempDir    string
}

type Option func(*FFmpeg)

func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(f *FFmpeg) {
		if ffmpeg != "" {
			f.ffmpegCmd = ffmpeg
		}
		if ffprobe != "" {
			f.ffprobeCmd = ffprobe
		}
	}
}

func NewFFmpeg(tempDir string, opts ...Option) *FFmpeg {
	ff := &FFmpeg{
		ffmpegCmd:  "ffmpeg",
		ffprobeCmd: "ffprobe",
		tempDir:    tempDir,
	}
	for _, opt := range opts {
		opt(ff)
	}
	if ff.tempDir == "" {
		ff.tempDir = filepath.Join(os.TempDir(), "sidecar-translator")
	}
	return ff
}

type probeOutput struct {
	Streams []struct {
		Index     int               `json:"index"`
		CodecType string            `json:"codec_type"`
		CodecName string            `json:"codec_name"`
		Duration  string            `json:"duration"`
		Tags      map[string]string `json:"tags"`
		// ffprobe prints dispositions as 0/1 integers.
		Disposition map[string]int `json:"disposition"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (ff *FFmpeg) ListStreams(ctx context.Context, path string) (*ProbeResult, error) {
	cmdPath, err := exec.LookPath(ff.ffprobeCmd)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Extraction, "ffprobe not found")
	}

	cmd := exec.CommandContext(ctx, cmdPath, ff.readProbeArgs(path)...)
	output, runErr := cmd.Output()

	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		if runErr != nil {
			return nil, apperrors.Wrap(runErr, apperrors.Extraction, "ffprobe failed").WithContext("path", path)
		}
		return nil, apperrors.Wrap(err, apperrors.Extraction, "failed to parse ffprobe output").WithContext("path", path)
	}
	// ffprobe may exit non-zero on damaged trailing data while still
	// reporting streams; only fail when nothing usable came back.
	if runErr != nil && len(probe.Streams) == 0 {
		return nil, apperrors.Wrap(runErr, apperrors.Extraction, "ffprobe failed").WithContext("path", path)
	}
	if runErr != nil {
		log.Warn("ffprobe_nonzero_exit path=%s error=%v", path, runErr)
	}

	result := &ProbeResult{
		Streams:  make([]SubtitleStream, 0, len(probe.Streams)),
		Duration: parseDuration(probe.Format.Duration),
	}
	subIdx := 0
	for _, raw := range probe.Streams {
		if raw.CodecType != "" && raw.CodecType != "subtitle" {
			continue
		}
		stream := SubtitleStream{
			Index:           raw.Index,
			SubtitleIndex:   subIdx,
			Codec:           strings.ToLower(raw.CodecName),
			Language:        strings.ToLower(strings.TrimSpace(tag(raw.Tags, "language"))),
			Title:           strings.TrimSpace(tag(raw.Tags, "title")),
			Forced:          raw.Disposition["forced"] != 0,
			Default:         raw.Disposition["default"] != 0,
			HearingImpaired: raw.Disposition["hearing_impaired"] != 0,
			Duration:        parseDuration(raw.Duration),
		}
		if stream.Duration == 0 {
			stream.Duration = parseDuration(tag(raw.Tags, "duration"))
		}
		result.Streams = append(result.Streams, stream)
		subIdx++
	}

	return result, nil
}

// Extract converts the stream to SRT in the temp directory.
func (ff *FFmpeg) Extract(ctx context.Context, path string, stream SubtitleStream) (string, error) {
	if !IsTextCodec(stream.Codec) {
		return "", apperrors.Newf(apperrors.Extraction, "unsupported subtitle codec %q", stream.Codec).
			WithContext("path", path).
			WithContext("stream", stream.Index)
	}

	cmdPath, err := exec.LookPath(ff.ffmpegCmd)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.Extraction, "ffmpeg not found")
	}
	if err := os.MkdirAll(ff.tempDir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.Filesystem, "failed to create temp dir")
	}

	output := filepath.Join(ff.tempDir, fmt.Sprintf("sidecar-%s.srt", uuid.NewString()))
	cmd := exec.CommandContext(ctx, cmdPath, ff.extractSubArgs(path, stream, output)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(output)
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", apperrors.Wrap(err, apperrors.Extraction, "ffmpeg extraction failed").
			WithContext("path", path).
			WithContext("stream", stream.Index).
			WithContext("stderr", strings.TrimSpace(string(out)))
	}

	if _, err := os.Stat(output); err != nil {
		return "", apperrors.Wrap(err, apperrors.Extraction, "ffmpeg produced no output").WithContext("path", path)
	}
	return output, nil
}

func (*FFmpeg) readProbeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		"-select_streams",
		"s",
		path,
	}
}

func (*FFmpeg) extractSubArgs(path string, stream SubtitleStream, targetPath string) []string {
	args := []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-map", fmt.Sprintf("0:s:%d", stream.SubtitleIndex),
	}
	if copyCodecs[strings.ToLower(stream.Codec)] {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, "-c:s", "srt")
	}
	return append(args, "-f", "srt", "-y", targetPath)
}

// tag looks a key up case-insensitively; mkvmerge writes upper-case tags.
func tag(tags map[string]string, key string) string {
	if v, ok := tags[key]; ok {
		return v
	}
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// parseDuration accepts seconds ("1234.5") or "HH:MM:SS.fraction".
func parseDuration(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" || value == "N/A" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.ParseFloat(parts[0], 64)
	m, err2 := strconv.ParseFloat(parts[1], 64)
	s, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return time.Duration((h*3600 + m*60 + s) * float64(time.Second))
}
