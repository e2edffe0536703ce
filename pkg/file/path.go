package file

import (
	"path/filepath"
	"strings"
)

func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}

	dir := filepath.Dir(path)
	filename := filepath.Base(path)

	lastDot := strings.LastIndex(filename, ".")

	if lastDot <= 0 {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		return filepath.Join(dir, filename+ext)
	}

	nameWithoutExt := filename[:lastDot]

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return filepath.Join(dir, nameWithoutExt+ext)
}

// SidecarPath returns "<dir>/<base>.<lang>.srt" for a media file.
func SidecarPath(mediaPath, lang string) string {
	return ReplaceExt(mediaPath, "."+lang+".srt")
}

// SplitSidecar parses "<base>.<lang>.srt" and returns base (with directory)
// and the language token.
func SplitSidecar(path string) (base, lang string, ok bool) {
	if !strings.EqualFold(filepath.Ext(path), ".srt") {
		return "", "", false
	}
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	langExt := filepath.Ext(stem)
	if len(langExt) < 2 || strings.ContainsAny(langExt, `/\`) {
		return "", "", false
	}
	return strings.TrimSuffix(stem, langExt), langExt[1:], true
}
