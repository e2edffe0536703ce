// Package library discovers media files under the configured roots and
// describes their on-disk state.
package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/langcode"
	"github.com/MimeLyc/sidecar-translator/pkg/file"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

type Library struct {
	roots []string
	exts  []string
}

func New(roots, exts []string) *Library {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, filepath.Clean(r))
		}
	}
	return &Library{roots: cleaned, exts: exts}
}

func (l *Library) Roots() []string {
	return append([]string(nil), l.roots...)
}

func (l *Library) Exts() []string {
	return append([]string(nil), l.exts...)
}

// Walk returns every media file under all roots, sorted. Missing roots are
// logged and skipped.
func (l *Library) Walk(ctx context.Context) ([]string, error) {
	var all []string
	for _, root := range l.roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(root); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Warn("library_root_missing root=%s", root)
				continue
			}
			return nil, fmt.Errorf("stat root %s: %w", root, err)
		}

		found, err := file.FindByExt(root, l.exts, SkipDir)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		all = append(all, found...)
	}
	sort.Strings(all)
	return all, nil
}

// Owns reports whether path is a media file this library is responsible for.
func (l *Library) Owns(path string) bool {
	if !file.HasExt(path, l.exts) {
		return false
	}
	root, ok := l.rootOf(path)
	if !ok {
		return false
	}
	return !Ignored(root, path)
}

func (l *Library) rootOf(path string) (string, bool) {
	path = filepath.Clean(path)
	for _, root := range l.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return root, true
	}
	return "", false
}

// RootPresent reports whether the root containing path is currently
// reachable. Entries under an unmounted root must not be treated as deleted.
func (l *Library) RootPresent(path string) bool {
	root, ok := l.rootOf(path)
	if !ok {
		return false
	}
	_, err := os.Stat(root)
	return err == nil
}

// SkipDir prunes hidden directories and directories carrying the ignore marker.
func SkipDir(dir string) bool {
	if name := filepath.Base(dir); strings.HasPrefix(name, ".") && len(name) > 1 {
		return true
	}
	_, err := os.Stat(filepath.Join(dir, IgnoreMarker))
	return err == nil
}

// Ignored reports whether any directory between root and path is skipped.
func Ignored(root, path string) bool {
	dir := filepath.Dir(filepath.Clean(path))
	for {
		if SkipDir(dir) {
			return true
		}
		if dir == root || !strings.HasPrefix(dir, root) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// Stat describes path and computes its fingerprint.
func Stat(path string) (MediaFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return MediaFile{}, err
	}
	if info.IsDir() {
		return MediaFile{}, fmt.Errorf("%s is a directory", path)
	}
	return MediaFile{
		Path:        path,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Fingerprint: Fingerprint(path, info.ModTime(), info.Size()),
	}, nil
}

// Fingerprint is the hex SHA-256 of path, modification time, and size.
func Fingerprint(path string, modTime time.Time, size int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, modTime.UnixNano(), size)))
	return hex.EncodeToString(sum[:])
}

// Sidecars lists "<base>.<lang>.srt" files next to the media file, keyed by
// normalized language. Tokens that are not languages (e.g. "forced") are
// ignored.
func Sidecars(m MediaFile) (map[string]Sidecar, error) {
	dir := filepath.Dir(m.Path)
	base := strings.TrimSuffix(m.Path, filepath.Ext(m.Path))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ret := make(map[string]Sidecar)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		b, lang, ok := ParseSidecar(p)
		if !ok || b != base {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if prev, ok := ret[lang]; ok && prev.ModTime.After(info.ModTime()) {
			continue
		}
		ret[lang] = Sidecar{Path: p, Lang: lang, ModTime: info.ModTime()}
	}
	return ret, nil
}

// ParseSidecar splits "<base>.<lang>.srt" and normalizes the language. Names
// whose last token is not a language code, such as "Movie.2020.srt", are
// rejected.
func ParseSidecar(path string) (base, lang string, ok bool) {
	base, token, ok := file.SplitSidecar(path)
	if !ok {
		return "", "", false
	}
	if primary := strings.SplitN(token, "-", 2)[0]; len(primary) < 2 || len(primary) > 3 {
		return "", "", false
	}
	if lang = langcode.Normalize(token); lang == "" {
		return "", "", false
	}
	return base, lang, true
}
