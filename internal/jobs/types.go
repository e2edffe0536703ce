package jobs

import "time"

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Request asks for one target language of one media file.
type Request struct {
	Origin      string
	Path        string
	Fingerprint string
	Target      string
	Source      string
	// Stream identifies the source subtitle track inside the container.
	StreamIndex   int
	SubtitleIndex int
	Codec         string
}

// DedupeKey is the unit of mutual exclusion: one in-flight job per file and target.
func (r Request) DedupeKey() string {
	return r.Path + "|" + r.Target
}

type Job struct {
	ID            string    `json:"id"`
	Origin        string    `json:"origin"`
	Path          string    `json:"path"`
	Fingerprint   string    `json:"fingerprint"`
	Target        string    `json:"target"`
	Source        string    `json:"source"`
	StreamIndex   int       `json:"stream_index"`
	SubtitleIndex int       `json:"subtitle_index"`
	Codec         string    `json:"codec"`
	State         State     `json:"state"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (j *Job) DedupeKey() string {
	return j.Path + "|" + j.Target
}

// Stats counts jobs per state.
type Stats struct {
	Pending   int  `json:"pending"`
	Running   int  `json:"running"`
	Retrying  int  `json:"retrying"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Paused    bool `json:"paused"`
}
