package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/cache"
	"github.com/MimeLyc/sidecar-translator/internal/cleanup"
	"github.com/MimeLyc/sidecar-translator/internal/config"
	"github.com/MimeLyc/sidecar-translator/internal/inventory"
	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/library"
	"github.com/MimeLyc/sidecar-translator/internal/media"
	"github.com/MimeLyc/sidecar-translator/internal/notify"
	"github.com/MimeLyc/sidecar-translator/internal/persistence"
	"github.com/MimeLyc/sidecar-translator/internal/resolve"
	"github.com/MimeLyc/sidecar-translator/internal/subtitle"
	"github.com/MimeLyc/sidecar-translator/internal/translator"
	"github.com/MimeLyc/sidecar-translator/internal/watch"
	"github.com/MimeLyc/sidecar-translator/pkg/clock"
	"github.com/MimeLyc/sidecar-translator/pkg/icron"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

const (
	startupProbeTimeout = 15 * time.Second
	shutdownTimeout     = 5 * time.Second
)

const (
	scheduleScan    = "scan"
	scheduleCleanup = "orphan_cleanup"
)

// HTTPServer is the status API as seen by Run.
type HTTPServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// App owns every long-lived component of the daemon.
type App struct {
	cfg   config.Config
	clock clock.Clock

	lib      *library.Library
	lock     *flock.Flock
	store    *persistence.SQLiteStore
	cache    *cache.Cache
	backend  translator.Translator
	queue    *jobs.Queue
	scanner  *Scanner
	executor *Executor
	monitor  *Monitor
	cron     *cron.Cron

	startedAt time.Time
	closeOnce sync.Once

	mu        sync.Mutex
	runCtx    context.Context
	schedules map[string]string
	lastScan  *ScanReport
}

type deps struct {
	backend   translator.Translator
	prober    media.Prober
	extractor media.Extractor
	notifier  notify.Notifier
	clock     clock.Clock
}

type AppOption func(*deps)

// WithTranslator replaces the LibreTranslate client.
func WithTranslator(tr translator.Translator) AppOption {
	return func(d *deps) {
		d.backend = tr
	}
}

// WithMedia replaces the ffprobe/ffmpeg adapter.
func WithMedia(p media.Prober, e media.Extractor) AppOption {
	return func(d *deps) {
		d.prober = p
		d.extractor = e
	}
}

func WithNotifier(n notify.Notifier) AppOption {
	return func(d *deps) {
		d.notifier = n
	}
}

func WithClock(clk clock.Clock) AppOption {
	return func(d *deps) {
		d.clock = clk
	}
}

// NewApp validates the environment and wires all components. The caller
// must Close the App to release the instance lock and the cache.
func NewApp(ctx context.Context, cfg config.Config, opts ...AppOption) (*App, error) {
	d := deps{}
	for _, opt := range opts {
		opt(&d)
	}
	if d.clock == nil {
		d.clock = clock.Real{}
	}

	dirs := readableDirs(cfg.Media.Dirs)
	if len(dirs) == 0 {
		return nil, apperrors.New(apperrors.Config, "no readable media directory").
			WithContext("dirs", cfg.Media.Dirs)
	}
	cfg.Media.Dirs = dirs

	if err := os.MkdirAll(cfg.Media.TempDir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Config, "create temp dir").WithContext("path", cfg.Media.TempDir)
	}

	a := &App{
		cfg:       cfg,
		clock:     d.clock,
		lib:       library.New(dirs, cfg.Media.Extensions),
		schedules: make(map[string]string),
		startedAt: d.clock.Now(),
	}

	if err := a.openCache(); err != nil {
		return nil, err
	}

	if d.backend == nil {
		lt, err := translator.NewLibreTranslate(translator.Config{
			BaseURL:       cfg.Backend.URL,
			APIKey:        cfg.Backend.APIKey,
			Timeout:       cfg.Backend.Timeout,
			MaxConcurrent: cfg.Backend.MaxConcurrent,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		d.backend = lt
	}
	a.backend = d.backend

	if d.prober == nil || d.extractor == nil {
		ff := media.NewFFmpeg(cfg.Media.TempDir)
		if d.prober == nil {
			d.prober = ff
		}
		if d.extractor == nil {
			d.extractor = ff
		}
	}
	if d.notifier == nil {
		d.notifier = notify.New(cfg.Notify.JellyfinURL, cfg.Notify.JellyfinToken, nil)
	}

	policy, err := a.languagePolicy(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var resolver *inventory.Resolver
	if cfg.Backend.Detector == config.DetectorLocal {
		resolver = inventory.NewResolver(d.prober, d.extractor, subtitle.NewLocalDetector())
	} else {
		resolver = inventory.NewResolver(d.prober, d.extractor, a.backend,
			inventory.WithFallbackDetector(subtitle.NewLocalDetector()))
	}

	gate := jobs.NewGate()
	a.monitor = NewMonitor(a.backend, gate, cfg.Backend.AvailabilityInterval, startupProbeTimeout, a.clock)

	var jobStore jobs.Store
	if a.store != nil {
		jobStore = a.store
	}
	a.queue = jobs.NewQueue(jobs.Options{
		Workers:      cfg.Jobs.Workers,
		RetryCount:   cfg.Jobs.RetryCount,
		BackoffDelay: cfg.Jobs.BackoffDelay,
		Clock:        a.clock,
		Gate:         gate,
		Store:        jobStore,
		OnTransient:  func(error) { a.monitor.Kick() },
	})

	a.executor = NewExecutor(d.extractor, a.backend, a.cache, d.notifier, policy.Digest())
	a.scanner = NewScanner(a.lib, resolver, a.cache, a.queue, policy, cfg.Jobs.Workers)
	a.cron = cron.New(cron.WithParser(icron.Parser))

	log.Info("app_ready dirs=%v ensure=%v target_only=%v workers=%d cache=%t",
		dirs, policy.Ensure, targetOnlyList(policy), a.queue.Workers(), a.cache.Enabled())
	return a, nil
}

// openCache takes the instance lock and opens the durable store. A store
// that cannot be opened disables caching rather than stopping the daemon.
func (a *App) openCache() error {
	if !a.cfg.Cache.Enabled {
		a.cache = cache.New(nil, a.clock)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(a.cfg.Cache.Path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.Config, "create cache dir").WithContext("path", a.cfg.Cache.Path)
	}
	a.lock = flock.New(a.cfg.Cache.LockPath())
	ok, err := a.lock.TryLock()
	if err != nil {
		return apperrors.Wrap(err, apperrors.Config, "acquire instance lock")
	}
	if !ok {
		return apperrors.New(apperrors.Config, "another instance is already using this cache").
			WithContext("lock", a.cfg.Cache.LockPath())
	}

	store, err := persistence.NewSQLiteStore(a.cfg.Cache.Path)
	if err != nil {
		log.Error("cache_open_failed path=%s error=%v (running without cache)", a.cfg.Cache.Path, err)
		a.cache = cache.New(nil, a.clock)
		return nil
	}
	a.store = store
	a.cache = cache.New(store, a.clock)
	return nil
}

// languagePolicy drops ensured languages the backend cannot produce and
// marks those it cannot read as target-only. An unreachable backend keeps
// the configured lists as they are.
func (a *App) languagePolicy(ctx context.Context) (resolve.Policy, error) {
	ensure := a.cfg.Languages.Ensure
	targetOnly := append([]string(nil), a.cfg.Languages.TargetOnly...)

	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()
	if err := a.backend.Available(probeCtx); err != nil {
		log.Warn("backend_unreachable_at_startup url=%s error=%v (language support not validated)", a.cfg.Backend.URL, err)
	} else {
		kept := make([]string, 0, len(ensure))
		for _, l := range ensure {
			if !a.backend.IsTargetSupported(l) {
				log.Warn("ensure_language_unsupported lang=%s (dropped)", l)
				continue
			}
			kept = append(kept, l)
			if !a.backend.IsSourceSupported(l) {
				targetOnly = append(targetOnly, l)
			}
		}
		if len(kept) == 0 {
			return resolve.Policy{}, apperrors.New(apperrors.Config, "backend supports none of the ensured languages").
				WithContext("ensure", ensure)
		}
		ensure = kept
	}

	policy := resolve.NewPolicy(ensure, targetOnly, a.cfg.Languages.MinConfidence)
	policy.SupportsPair = a.backend.SupportsPair
	return policy, nil
}

func readableDirs(dirs []string) []string {
	ok := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		f, err := os.Open(dir)
		if err == nil {
			_, err = f.Readdirnames(1)
			f.Close()
			if errors.Is(err, io.EOF) {
				err = nil
			}
		}
		if err != nil {
			log.Warn("media_dir_unreadable dir=%s error=%v (skipped)", dir, err)
			continue
		}
		ok = append(ok, dir)
	}
	return ok
}

func targetOnlyList(p resolve.Policy) []string {
	out := make([]string, 0, len(p.TargetOnly))
	for l := range p.TargetOnly {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Run starts the daemon: workers, availability monitor, startup sweep,
// scheduled sweeps and orphan cleanup, the watcher, and the API when api is
// not nil. It returns after ctx is cancelled and everything stopped.
func (a *App) Run(ctx context.Context, api HTTPServer) error {
	g, ctx := errgroup.WithContext(ctx)

	a.mu.Lock()
	a.runCtx = ctx
	a.mu.Unlock()

	a.queue.Start(a.executor.Execute)
	defer a.queue.Stop()

	g.Go(func() error {
		return a.monitor.Run(ctx)
	})

	g.Go(func() error {
		a.sweep(ctx, OriginStartup)
		return nil
	})

	if err := a.schedule(ctx); err != nil {
		return err
	}
	a.cron.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-a.cron.Stop().Done()
		return nil
	})

	if a.cfg.Watch.Enabled {
		w := watch.New(a.lib.Roots(), watch.Options{
			Debounce:         a.cfg.Watch.Debounce,
			StabilizeTimeout: a.cfg.Watch.StabilizeTimeout,
			PollInterval:     a.cfg.Watch.PollInterval,
			Clock:            a.clock,
			Owns:             a.lib.Owns,
			SkipDir:          library.SkipDir,
		})
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				// Scheduled sweeps still pick up changes.
				log.Error("watch_failed error=%v", err)
			}
			return nil
		})
		g.Go(func() error {
			a.consume(ctx, w.Events())
			return nil
		})
	}

	if api != nil && a.cfg.API.Addr != "" {
		g.Go(func() error {
			log.Info("api_listening addr=%s", a.cfg.API.Addr)
			if err := api.ListenAndServe(a.cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return api.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	log.Info("app_stopped")
	return err
}

func (a *App) schedule(ctx context.Context) error {
	if a.cfg.Scan.Interval > 0 {
		expr := icron.Every(a.cfg.Scan.Interval)
		if _, err := a.cron.AddFunc(expr, func() { a.sweep(ctx, OriginSchedule) }); err != nil {
			return apperrors.Wrap(err, apperrors.Config, "schedule periodic scan")
		}
		a.setSchedule(scheduleScan, expr)
	}
	if a.cfg.Scan.OrphanCron != "" {
		_, err := a.cron.AddFunc(a.cfg.Scan.OrphanCron, func() {
			if _, err := a.Cleanup(ctx, false); err != nil && ctx.Err() == nil {
				log.Error("orphan_cleanup_failed error=%v", err)
			}
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.Config, "schedule orphan cleanup")
		}
		a.setSchedule(scheduleCleanup, a.cfg.Scan.OrphanCron)
	}
	return nil
}

func (a *App) setSchedule(name, expr string) {
	a.mu.Lock()
	a.schedules[name] = expr
	a.mu.Unlock()
}

// consume turns watcher events into file scans and cache invalidations.
func (a *App) consume(ctx context.Context, events <-chan watch.Event) {
	var g errgroup.Group
	g.SetLimit(a.queue.Workers())
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case watch.Removed:
				a.cache.Invalidate(ctx, ev.Path)
			case watch.Ready:
				g.Go(func() error {
					if _, err := a.scanner.ScanFile(ctx, ev.Path, OriginWatch); err != nil && ctx.Err() == nil {
						log.Warn("watch_scan_failed path=%s error=%v", ev.Path, err)
					}
					return nil
				})
			}
		}
	}
}

func (a *App) sweep(ctx context.Context, origin string) {
	report, err := a.scanner.ScanAll(ctx, origin)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("scan_failed origin=%s error=%v", origin, err)
		}
		return
	}
	a.mu.Lock()
	a.lastScan = &report
	a.mu.Unlock()
}

// TriggerSweep starts a full sweep in the background.
func (a *App) TriggerSweep(origin string) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go a.sweep(ctx, origin)
}

// ScanFile scans one media file immediately.
func (a *App) ScanFile(ctx context.Context, path, origin string) (*FileResult, error) {
	return a.scanner.ScanFile(ctx, path, origin)
}

// ScanOnce runs the workers, scans paths (or every root when paths is
// empty), and waits until all resulting jobs are finished.
func (a *App) ScanOnce(ctx context.Context, paths []string) (ScanReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.queue.Start(a.executor.Execute)
	defer a.queue.Stop()
	go a.monitor.Run(ctx)

	var (
		report ScanReport
		err    error
	)
	if len(paths) == 0 {
		report, err = a.scanner.ScanAll(ctx, OriginCLI)
		if err != nil {
			return report, err
		}
	} else {
		report = a.scanPaths(ctx, paths)
	}

	if err := a.queue.Wait(ctx); err != nil {
		return report, err
	}
	stats := a.queue.Stats()
	log.Info("scan_once_finished files=%d enqueued=%d succeeded=%d failed=%d",
		report.Files, report.Enqueued, stats.Succeeded, stats.Failed)
	return report, nil
}

func (a *App) scanPaths(ctx context.Context, paths []string) ScanReport {
	start := time.Now()
	var report ScanReport
	for _, p := range paths {
		files := []string{p}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			walked, err := library.New([]string{p}, a.lib.Exts()).Walk(ctx)
			if err != nil {
				log.Warn("scan_path_failed path=%s error=%v", p, err)
				report.Errors++
				continue
			}
			files = walked
		}
		for _, f := range files {
			report.Files++
			res, err := a.scanner.ScanFile(ctx, f, OriginCLI)
			if err != nil {
				log.Warn("scan_file_failed path=%s error=%v", f, err)
				report.Errors++
				continue
			}
			if res.Skipped {
				report.Skipped++
			}
			report.Enqueued += len(res.Jobs)
			report.Unresolved += len(res.Unresolved)
		}
	}
	report.Duration = time.Since(start).Round(time.Millisecond)
	return report
}

// Cleanup removes orphaned sidecars once.
func (a *App) Cleanup(ctx context.Context, dryRun bool) (int, error) {
	return cleanup.NewReconciler(a.lib, cleanup.WithDryRun(dryRun)).Reconcile(ctx)
}

func (a *App) Jobs() []*jobs.Job {
	return a.queue.List()
}

func (a *App) Job(id string) (*jobs.Job, bool) {
	return a.queue.Get(id)
}

// Status is a point-in-time view of the daemon.
type Status struct {
	StartedAt    time.Time   `json:"started_at"`
	Paused       bool        `json:"paused"`
	PauseReason  string      `json:"pause_reason,omitempty"`
	PausedSince  *time.Time  `json:"paused_since,omitempty"`
	Jobs         jobs.Stats  `json:"jobs"`
	Ensure       []string    `json:"ensure"`
	TargetOnly   []string    `json:"target_only"`
	Policy       string      `json:"policy"`
	CacheEnabled bool        `json:"cache_enabled"`
	Schedules    []Schedule  `json:"schedules"`
	LastScan     *ScanReport `json:"last_scan,omitempty"`
}

type Schedule struct {
	Name    string             `json:"name"`
	Trigger *icron.TriggerInfo `json:"trigger"`
}

func (a *App) Status() Status {
	policy := a.scanner.Policy()
	paused, reason, since := a.queue.Gate().Status()
	st := Status{
		StartedAt:    a.startedAt,
		Paused:       paused,
		PauseReason:  reason,
		Jobs:         a.queue.Stats(),
		Ensure:       policy.Ensure,
		TargetOnly:   targetOnlyList(policy),
		Policy:       policy.Digest(),
		CacheEnabled: a.cache.Enabled(),
	}
	if paused {
		st.PausedSince = &since
	}

	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, name := range []string{scheduleScan, scheduleCleanup} {
		expr, ok := a.schedules[name]
		if !ok {
			continue
		}
		info, err := icron.GetTriggerInfo(expr, now)
		if err != nil {
			continue
		}
		st.Schedules = append(st.Schedules, Schedule{Name: name, Trigger: info})
	}
	if a.lastScan != nil {
		last := *a.lastScan
		st.LastScan = &last
	}
	return st
}

// Close stops the workers and releases the cache and the instance lock.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Stop()
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				log.Warn("cache_close_failed error=%v", err)
			}
		}
		if a.lock != nil {
			if err := a.lock.Unlock(); err != nil {
				log.Warn("lock_release_failed error=%v", err)
			}
		}
	})
}
