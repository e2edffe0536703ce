package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/pkg/clock"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// MaxWorkers is the hard ceiling on concurrent jobs regardless of configuration.
const MaxWorkers = 10

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("queue stopped")

type Executor func(ctx context.Context, job *Job) error

type Options struct {
	Workers int
	// RetryCount is the total number of attempts for transient failures.
	RetryCount   int
	BackoffDelay time.Duration
	MaxJobs      int
	Clock        clock.Clock
	Gate         *Gate
	Store        Store
	// OnTransient is called after every transient failure, e.g. to trigger an
	// immediate backend availability check.
	OnTransient func(err error)
}

type Queue struct {
	workerCount  int
	retryCount   int
	backoffDelay time.Duration
	maxJobs      int
	clock        clock.Clock
	gate         *Gate
	store        Store
	onTransient  func(error)

	mu          sync.RWMutex
	jobs        map[string]*Job
	dedupe      map[string]string
	active      int
	idleWaiters []chan struct{}
	idCounter   uint64
	started     bool
	stopped     bool
	pendingIDs  chan string
	done        chan struct{}
	cancel      context.CancelFunc
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewQueue(opts Options) *Queue {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	retries := opts.RetryCount
	if retries <= 0 {
		retries = 1
	}
	maxJobs := opts.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 1000
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	gate := opts.Gate
	if gate == nil {
		gate = NewGate()
	}

	q := &Queue{
		workerCount:  workers,
		retryCount:   retries,
		backoffDelay: opts.BackoffDelay,
		maxJobs:      maxJobs,
		clock:        clk,
		gate:         gate,
		store:        opts.Store,
		onTransient:  opts.OnTransient,
		jobs:         make(map[string]*Job),
		dedupe:       make(map[string]string),
		pendingIDs:   make(chan string, 1024),
		done:         make(chan struct{}),
	}
	q.hydrateFromStore(context.Background())
	return q
}

func (q *Queue) Workers() int {
	return q.workerCount
}

func (q *Queue) Gate() *Gate {
	return q.gate
}

// Submit registers a job unless one for the same file and target is still in
// flight, in which case the existing job is returned with created=false.
func (q *Queue) Submit(req Request) (*Job, bool, error) {
	now := q.clock.Now()
	key := req.DedupeKey()

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, false, ErrStopped
	}
	if id, ok := q.dedupe[key]; ok {
		if existing, exists := q.jobs[id]; exists && !existing.State.Terminal() {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false, nil
		}
		delete(q.dedupe, key)
	}

	id := fmt.Sprintf("job-%d", atomic.AddUint64(&q.idCounter, 1))
	job := &Job{
		ID:            id,
		Origin:        req.Origin,
		Path:          req.Path,
		Fingerprint:   req.Fingerprint,
		Target:        req.Target,
		Source:        req.Source,
		StreamIndex:   req.StreamIndex,
		SubtitleIndex: req.SubtitleIndex,
		Codec:         req.Codec,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	q.jobs[id] = job
	q.dedupe[key] = id
	q.active++
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot, true, nil
}

func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns jobs newest first.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	ret := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.After(ret[j].CreatedAt)
		}
		return jobSeq(ret[i].ID) > jobSeq(ret[j].ID)
	})
	return ret
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var st Stats
	for _, job := range q.jobs {
		switch job.State {
		case StatePending:
			st.Pending++
		case StateRunning:
			st.Running++
		case StateRetrying:
			st.Retrying++
		case StateSucceeded:
			st.Succeeded++
		case StateFailed:
			st.Failed++
		}
	}
	st.Paused = q.gate.Paused()
	return st
}

// Start launches the workers. Later calls are ignored.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	pending := make([]*Job, 0)
	for _, job := range q.jobs {
		if job.State == StatePending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return jobSeq(pending[i].ID) < jobSeq(pending[j].ID) })
	q.mu.Unlock()

	for _, job := range pending {
		q.enqueuePendingID(job.ID)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(ctx, exec)
	}
}

// Stop rejects new submissions, cancels running jobs at their next
// checkpoint and waits for the workers to exit. Pending jobs are dropped.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		cancel := q.cancel
		q.mu.Unlock()
		close(q.done)

		if cancel != nil {
			cancel()
		}
		q.wg.Wait()

		q.mu.RLock()
		leftover := make([]string, 0)
		for id, job := range q.jobs {
			if !job.State.Terminal() {
				leftover = append(leftover, id)
			}
		}
		q.mu.RUnlock()
		for _, id := range leftover {
			q.markFailed(id, ErrStopped)
		}
	})
}

// Wait blocks until every submitted job reached a terminal state.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.active == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idleWaiters = append(q.idleWaiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context, exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pendingIDs:
			q.run(ctx, id, exec)
		}
	}
}

func (q *Queue) run(ctx context.Context, id string, exec Executor) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			q.markFailed(id, fmt.Errorf("aborted: %w", err))
			return
		}
		// Held here while paused; the job keeps its pending or retrying state.
		if err := q.gate.Wait(ctx); err != nil {
			q.markFailed(id, fmt.Errorf("aborted: %w", err))
			return
		}

		job, ok := q.markRunning(id, attempt)
		if !ok {
			return
		}

		err := apperrors.SafeExecute(func() error { return exec(ctx, job) })
		if err == nil {
			q.markSucceeded(id)
			log.Info("job_succeeded id=%s path=%s target=%s attempt=%d", id, job.Path, job.Target, attempt)
			return
		}

		if ctx.Err() != nil {
			q.markFailed(id, fmt.Errorf("aborted: %w", err))
			log.Warn("job_aborted id=%s path=%s target=%s attempt=%d", id, job.Path, job.Target, attempt)
			return
		}

		transient := apperrors.IsTransient(err)
		if transient && q.onTransient != nil {
			q.onTransient(err)
		}
		if !transient || attempt >= q.retryCount {
			q.markFailed(id, err)
			log.Error("translation_failed id=%s path=%s target=%s attempt=%d kind=%s error=%v",
				id, job.Path, job.Target, attempt, apperrors.KindOf(err), err)
			return
		}

		delay := q.Backoff(attempt)
		q.markRetrying(id, err)
		log.Warn("translation_retry id=%s path=%s target=%s attempt=%d delay=%s error=%v",
			id, job.Path, job.Target, attempt, delay, err)

		select {
		case <-ctx.Done():
			q.markFailed(id, fmt.Errorf("aborted: %w", ctx.Err()))
			return
		case <-q.clock.After(delay):
		}
	}
}

// Backoff returns the wait after the given failed attempt: base * 2^(attempt-1).
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return q.backoffDelay * time.Duration(1<<shift)
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		// Overflow hand-off; gives up once the queue is stopped.
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.done:
			}
		}()
	}
}

func (q *Queue) markRunning(id string, attempt int) (*Job, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || (job.State != StatePending && job.State != StateRetrying) {
		q.mu.Unlock()
		return nil, false
	}
	job.State = StateRunning
	job.Attempts = attempt
	job.UpdatedAt = q.clock.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

func (q *Queue) markRetrying(id string, err error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.State = StateRetrying
	job.Error = err.Error()
	job.UpdatedAt = q.clock.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
}

func (q *Queue) markSucceeded(id string) {
	q.finish(id, StateSucceeded, nil)
}

func (q *Queue) markFailed(id string, err error) {
	q.finish(id, StateFailed, err)
}

func (q *Queue) finish(id string, state State, err error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.State.Terminal() {
		q.mu.Unlock()
		return
	}
	job.State = state
	job.Error = ""
	if err != nil {
		job.Error = err.Error()
	}
	job.UpdatedAt = q.clock.Now()
	q.releaseDedupeLocked(job)
	q.active--
	if q.active == 0 {
		for _, ch := range q.idleWaiters {
			close(ch)
		}
		q.idleWaiters = nil
	}
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func (q *Queue) releaseDedupeLocked(job *Job) {
	key := job.DedupeKey()
	if id, ok := q.dedupe[key]; ok && id == job.ID {
		delete(q.dedupe, key)
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job.State.Terminal() {
			terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
		}
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		delete(q.jobs, terminal[i].id)
		pruned = append(pruned, terminal[i].id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("job_prune_failed id=%s error=%v", id, err)
		}
	}
}

// hydrateFromStore loads history. Unfinished jobs from a previous run are
// closed as failed; the startup scan recreates whatever is still missing.
func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("job_history_load_failed error=%v", err)
		return
	}

	now := q.clock.Now()
	toPersist := make([]*Job, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if !job.State.Terminal() {
			job.State = StateFailed
			job.Error = "interrupted by shutdown"
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		q.updateIDCounterLocked(job.ID)
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) updateIDCounterLocked(jobID string) {
	if n := jobSeq(jobID); n > q.idCounter {
		q.idCounter = n
	}
}

func jobSeq(jobID string) uint64 {
	if !strings.HasPrefix(jobID, "job-") {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(jobID, "job-"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) persistJob(job *Job) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("job_persist_failed id=%s error=%v", job.ID, err)
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
