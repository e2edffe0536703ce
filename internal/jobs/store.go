package jobs

import "context"

// Store keeps job history across restarts. Jobs are not resumed from it:
// unfinished jobs are marked failed on load and recreated by the next scan.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
}
