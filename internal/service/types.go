package service

import (
	"context"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/inventory"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
)

// Job origins.
const (
	OriginStartup  = "startup"
	OriginSchedule = "schedule"
	OriginWatch    = "watch"
	OriginAPI      = "api"
	OriginCLI      = "cli"
)

// StreamResolver builds the annotated stream inventory of a media file.
type StreamResolver interface {
	Resolve(ctx context.Context, path string) ([]inventory.Stream, error)
}

// JobSubmitter accepts translation jobs.
type JobSubmitter interface {
	Submit(req jobs.Request) (*jobs.Job, bool, error)
}

// FileResult describes what one file scan decided.
type FileResult struct {
	Path string `json:"path"`
	// Skipped is set when the cache already covers every ensured language.
	Skipped    bool        `json:"skipped"`
	Missing    []string    `json:"missing,omitempty"`
	Jobs       []*jobs.Job `json:"jobs,omitempty"`
	Unresolved []string    `json:"unresolved,omitempty"`
}

// ScanReport summarizes a full sweep.
type ScanReport struct {
	Files      int           `json:"files"`
	Skipped    int           `json:"skipped"`
	Enqueued   int           `json:"enqueued"`
	Unresolved int           `json:"unresolved"`
	Errors     int           `json:"errors"`
	Pruned     int           `json:"pruned"`
	Duration   time.Duration `json:"duration"`
}
