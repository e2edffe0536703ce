package file

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// FindByExt walks dir and returns files whose extension is in exts
// (case-insensitive, with leading dot). Directories for which skipDir returns
// true are not descended into. Unreadable entries are skipped.
func FindByExt(dir string, exts []string, skipDir func(path string) bool) ([]string, error) {
	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if skipDir != nil && skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}

		if _, ok := want[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// HasExt reports whether path ends with one of exts (case-insensitive).
func HasExt(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
