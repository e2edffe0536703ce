package cache

import (
	"context"
	"sort"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/inventory"
)

// Entry is what is known about one media file version, keyed by fingerprint.
type Entry struct {
	Fingerprint string
	Path        string
	// Completed target languages written for this fingerprint.
	Completed []string
	// Failed target languages that hit a permanent error under Policy.
	Failed []string
	Policy string
	// Probed is set once Streams holds the stream inventory.
	Probed  bool
	Streams []inventory.Stream
	// Supersedes is set when this fingerprint replaced an older version of
	// the same path. Sidecars on disk are then not trusted as up to date.
	Supersedes bool
	UpdatedAt  time.Time
}

func (e *Entry) HasCompleted(lang string) bool {
	return e != nil && contains(e.Completed, lang)
}

// HasFailed reports a permanent failure recorded under the given policy.
func (e *Entry) HasFailed(lang, policy string) bool {
	return e != nil && e.Policy == policy && contains(e.Failed, lang)
}

// Covers reports whether every language is either completed or failed
// under policy, so the file needs no work at all.
func (e *Entry) Covers(langs []string, policy string) bool {
	if e == nil {
		return false
	}
	for _, l := range langs {
		if !e.HasCompleted(l) && !e.HasFailed(l, policy) {
			return false
		}
	}
	return true
}

// Store persists entries. MergeEntry applies Merge atomically against the
// current row and drops rows of the same path under other fingerprints.
type Store interface {
	GetEntry(ctx context.Context, fingerprint string) (*Entry, error)
	MergeEntry(ctx context.Context, update Entry) (*Entry, error)
	DeletePath(ctx context.Context, path string) (int64, error)
	EntryPaths(ctx context.Context) ([]string, error)
}

// Merge folds update into existing. Language sets only grow; a failure set
// taken under a different policy is replaced. A completed language is never
// also failed.
func Merge(existing *Entry, update Entry) Entry {
	if existing == nil {
		out := update
		out.Completed = union(nil, update.Completed)
		out.Failed = subtract(union(nil, update.Failed), out.Completed)
		return out
	}

	out := *existing
	if update.Path != "" {
		out.Path = update.Path
	}
	out.Completed = union(existing.Completed, update.Completed)

	switch {
	case update.Policy == "" || update.Policy == existing.Policy:
		out.Failed = union(existing.Failed, update.Failed)
	default:
		out.Policy = update.Policy
		out.Failed = union(nil, update.Failed)
	}
	out.Failed = subtract(out.Failed, out.Completed)

	if update.Probed {
		out.Probed = true
		out.Streams = update.Streams
	}
	out.Supersedes = existing.Supersedes || update.Supersedes
	if !update.UpdatedAt.IsZero() {
		out.UpdatedAt = update.UpdatedAt
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func subtract(list, remove []string) []string {
	var out []string
	for _, s := range list {
		if !contains(remove, s) {
			out = append(out, s)
		}
	}
	return out
}
