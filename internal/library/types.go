package library

import "time"

// IgnoreMarker excludes the directory containing it, and everything below,
// from scanning and watching.
const IgnoreMarker = ".sidecarignore"

// MediaFile is a media file as seen at one point in time.
type MediaFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	// Fingerprint changes whenever size or modification time change.
	Fingerprint string `json:"fingerprint"`
}

// Sidecar is an existing "<base>.<lang>.srt" file next to a media file.
type Sidecar struct {
	Path    string
	Lang    string
	ModTime time.Time
}
