package subtitle

import "time"

// Line is a single SRT cue.
type Line struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string
}

// Stats summarizes a subtitle payload for source ranking.
type Stats struct {
	CueCount  int
	CharCount int
	First     time.Duration
	Last      time.Duration
}

// Span is the time between the first cue start and the last cue end.
func (s Stats) Span() time.Duration {
	if s.Last <= s.First {
		return 0
	}
	return s.Last - s.First
}
