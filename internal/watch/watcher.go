// Package watch turns raw filesystem notifications into settled media file
// events: bursts are debounced per path and a file is reported only after
// its size stops changing.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"

	"github.com/MimeLyc/sidecar-translator/pkg/clock"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

type Kind int

const (
	// Ready means the file exists and stopped growing.
	Ready Kind = iota
	Removed
)

func (k Kind) String() string {
	if k == Removed {
		return "removed"
	}
	return "ready"
}

type Event struct {
	Path string
	Kind Kind
}

type Options struct {
	Debounce         time.Duration
	StabilizeTimeout time.Duration
	PollInterval     time.Duration
	Clock            clock.Clock
	// Owns filters paths worth reporting.
	Owns func(path string) bool
	// SkipDir prunes directories from recursive watching.
	SkipDir func(dir string) bool
	// Size reports the current file size; defaults to os.Stat.
	Size func(path string) (int64, error)
}

type Watcher struct {
	roots []string
	opts  Options

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu          sync.Mutex
	timers      map[string]clock.Timer
	stabilizing map[string]bool
}

func New(roots []string, opts Options) *Watcher {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Owns == nil {
		opts.Owns = func(string) bool { return true }
	}
	if opts.SkipDir == nil {
		opts.SkipDir = func(string) bool { return false }
	}
	if opts.Size == nil {
		opts.Size = statSize
	}
	return &Watcher{
		roots:       roots,
		opts:        opts,
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
		timers:      make(map[string]clock.Timer),
		stabilizing: make(map[string]bool),
	}
}

// Events delivers settled events until the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches all roots recursively until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, root := range w.roots {
		if _, err := w.addTree(fw, root); err != nil {
			log.Warn("watch_root_failed root=%s error=%v", root, err)
		}
	}
	log.Info("watch_started roots=%v debounce=%s stabilize_timeout=%s", w.roots, w.opts.Debounce, w.opts.StabilizeTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch_error error=%v", err)
		}
	}
}

// Close stops pending timers and stabilization loops.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		for p, t := range w.timers {
			t.Stop()
			delete(w.timers, p)
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if w.opts.Owns(path) {
			w.Remove(path)
		}
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// Directories moved in arrive as a single create.
			files, err := w.addTree(fw, path)
			if err != nil {
				log.Warn("watch_add_failed dir=%s error=%v", path, err)
			}
			for _, f := range files {
				w.Touch(f)
			}
			return
		}
		if w.opts.Owns(path) {
			w.Touch(path)
		}
	case ev.Has(fsnotify.Write):
		if w.opts.Owns(path) {
			w.Touch(path)
		}
	}
}

// addTree watches dir and its subdirectories and returns the owned files found.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if w.opts.Owns(path) {
				files = append(files, path)
			}
			return nil
		}
		if w.opts.SkipDir(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			log.Warn("watch_add_failed dir=%s error=%v", path, err)
		}
		return nil
	})
	return files, err
}

// Touch records activity on path and restarts its debounce timer. Activity
// while the file is being stabilized is absorbed by that stabilization.
func (w *Watcher) Touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stabilizing[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = w.opts.Clock.AfterFunc(w.opts.Debounce, func() {
		w.fire(path)
	})
}

// Remove cancels pending work for path and reports it gone.
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.emit(Event{Path: path, Kind: Removed})
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	if w.stabilizing[path] {
		w.mu.Unlock()
		return
	}
	w.stabilizing[path] = true
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.stabilizing, path)
			w.mu.Unlock()
		}()
		w.stabilize(path)
	}()
}

// stabilize polls the size until two consecutive reads agree or the timeout
// passes. A vanished file is dropped silently; its removal event follows.
func (w *Watcher) stabilize(path string) {
	clk := w.opts.Clock
	start := clk.Now()

	last, err := w.opts.Size(path)
	if err != nil {
		log.Debug("watch_file_gone path=%s", path)
		return
	}

	for {
		select {
		case <-w.done:
			return
		case <-clk.After(w.opts.PollInterval):
		}

		size, err := w.opts.Size(path)
		if err != nil {
			log.Debug("watch_file_gone path=%s", path)
			return
		}
		if size == last {
			log.Debug("watch_file_stable path=%s size=%s", path, humanize.Bytes(uint64(size)))
			break
		}
		if w.opts.StabilizeTimeout > 0 && clk.Now().Sub(start) >= w.opts.StabilizeTimeout {
			log.Warn("watch_stabilize_timeout path=%s size=%s waited=%s", path, humanize.Bytes(uint64(size)), w.opts.StabilizeTimeout)
			break
		}
		last = size
	}

	w.emit(Event{Path: path, Kind: Ready})
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
