// Package cleanup removes generated subtitle files whose media file is gone.
package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/sidecar-translator/internal/library"
	"github.com/MimeLyc/sidecar-translator/pkg/file"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

type Reconciler struct {
	lib    *library.Library
	dryRun bool
}

type Option func(*Reconciler)

// WithDryRun only logs what would be removed.
func WithDryRun(on bool) Option {
	return func(r *Reconciler) {
		r.dryRun = on
	}
}

func NewReconciler(lib *library.Library, opts ...Option) *Reconciler {
	r := &Reconciler{lib: lib}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile walks every root and deletes "<base>.<lang>.srt" files without a
// "<base>.<media ext>" next to them. Per-file errors are logged and skipped.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	start := time.Now()
	removed := 0
	var freed uint64

	for _, root := range r.lib.Roots() {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				log.Warn("cleanup_walk_error path=%s error=%v", path, err)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !d.IsDir() {
				return nil
			}
			if library.SkipDir(path) {
				return filepath.SkipDir
			}

			n, bytes := r.reconcileDir(path)
			removed += n
			freed += bytes
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			if os.IsNotExist(err) {
				log.Warn("cleanup_root_missing root=%s", root)
				continue
			}
			return removed, err
		}
	}

	log.Info("orphan_cleanup_done removed=%d freed=%s dry_run=%t duration=%s",
		removed, humanize.Bytes(freed), r.dryRun, time.Since(start).Round(time.Millisecond))
	return removed, nil
}

func (r *Reconciler) reconcileDir(dir string) (int, uint64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("cleanup_read_dir_failed dir=%s error=%v", dir, err)
		return 0, 0
	}

	media := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() && file.HasExt(e.Name(), r.lib.Exts()) {
			media[strings.ToLower(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))] = true
		}
	}

	removed := 0
	var freed uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, lang, ok := library.ParseSidecar(e.Name())
		if !ok || media[strings.ToLower(base)] {
			continue
		}

		path := filepath.Join(dir, e.Name())
		var size uint64
		if info, err := e.Info(); err == nil {
			size = uint64(info.Size())
		}
		if r.dryRun {
			log.Info("orphan_found path=%s lang=%s size=%s", path, lang, humanize.Bytes(size))
			removed++
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warn("orphan_remove_failed path=%s error=%v", path, err)
			continue
		}
		log.Info("orphan_removed path=%s lang=%s size=%s", path, lang, humanize.Bytes(size))
		removed++
		freed += size
	}
	return removed, freed
}
