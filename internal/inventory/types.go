package inventory

import (
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/media"
)

// Stream is a subtitle stream annotated with everything source selection
// needs. It is stored in the cache so unchanged files are not probed again.
type Stream struct {
	media.SubtitleStream

	// Declared is the normalized container language tag, "" when absent.
	Declared string `json:"declared,omitempty"`
	// Detected is the effective language: the declared tag, a detection
	// result, or a title hint.
	Detected   string  `json:"detected,omitempty"`
	Confidence float64 `json:"confidence"`

	CueCount       int           `json:"cue_count"`
	CharCount      int           `json:"char_count"`
	SampleDuration time.Duration `json:"sample_duration"`
	FullLength     bool          `json:"full_length"`
	SDH            bool          `json:"sdh"`
	Bitmap         bool          `json:"bitmap,omitempty"`
	// Unreadable marks text streams whose extraction failed.
	Unreadable bool `json:"unreadable,omitempty"`
}

// Score favours streams with more dialogue: characters + 5 per cue + 0.1 per
// second of coverage. Forced tracks are discounted.
func (s Stream) Score() float64 {
	score := float64(s.CharCount) + float64(s.CueCount)*5 + s.SampleDuration.Seconds()*0.1
	if s.Forced {
		score *= 0.2
	}
	return score
}

// Usable reports whether the stream can serve as a translation source at all.
func (s Stream) Usable() bool {
	return !s.Bitmap && !s.Unreadable && s.CueCount > 0 && s.Detected != ""
}
