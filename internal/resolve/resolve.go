package resolve

import (
	"sort"

	"github.com/MimeLyc/sidecar-translator/internal/inventory"
)

// Assignment pairs a missing target with the stream it is produced from.
type Assignment struct {
	Target string
	Source string
	Stream inventory.Stream
}

type Plan struct {
	// Missing are Ensure languages not yet satisfied, in Ensure order.
	Missing     []string
	Assignments []Assignment
	// Unresolved are missing targets without an acceptable source.
	Unresolved []string
	// Embedded are languages already carried by the container.
	Embedded []string
}

// Eligible groups streams that may serve as a translation source by their
// effective language, each group ranked best first.
func Eligible(streams []inventory.Stream, p Policy) map[string][]inventory.Stream {
	groups := make(map[string][]inventory.Stream)
	for _, s := range streams {
		if !s.Usable() || s.Confidence < p.MinConfidence || p.TargetOnly[s.Detected] {
			continue
		}
		groups[s.Detected] = append(groups[s.Detected], s)
	}
	for lang, group := range groups {
		Rank(lang, group, p)
	}
	return groups
}

// Rank orders candidates of one language: a declared tag for an ensured
// language first, then full length non-SDH tracks, then higher score, then
// lower stream index.
func Rank(lang string, candidates []inventory.Stream, p Policy) {
	declaredEnsured := func(s inventory.Stream) bool {
		return s.Declared == lang && p.ensures(lang)
	}
	tier := func(s inventory.Stream) int {
		t := 0
		if !s.FullLength {
			t += 2
		}
		if s.SDH {
			t++
		}
		return t
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if da, db := declaredEnsured(a), declaredEnsured(b); da != db {
			return da
		}
		if ta, tb := tier(a), tier(b); ta != tb {
			return ta < tb
		}
		if sa, sb := a.Score(), b.Score(); sa != sb {
			return sa > sb
		}
		return a.Index < b.Index
	})
}

// PickSource walks Ensure in order for a usable source language, then falls
// back to any other eligible language in alphabetical order.
func PickSource(target string, eligible map[string][]inventory.Stream, p Policy) (Assignment, bool) {
	try := func(lang string) (Assignment, bool) {
		if lang == target || p.TargetOnly[lang] {
			return Assignment{}, false
		}
		group := eligible[lang]
		if len(group) == 0 || !p.supports(lang, target) {
			return Assignment{}, false
		}
		return Assignment{Target: target, Source: lang, Stream: group[0]}, true
	}

	for _, lang := range p.Ensure {
		if a, ok := try(lang); ok {
			return a, true
		}
	}

	others := make([]string, 0, len(eligible))
	for lang := range eligible {
		if !p.ensures(lang) {
			others = append(others, lang)
		}
	}
	sort.Strings(others)
	for _, lang := range others {
		if a, ok := try(lang); ok {
			return a, true
		}
	}
	return Assignment{}, false
}

// EmbeddedLanguages lists languages the container already provides as
// readable text with enough confidence. Bitmap tracks do not count: players
// that need a text sidecar cannot use them.
func EmbeddedLanguages(streams []inventory.Stream, p Policy) []string {
	seen := make(map[string]bool)
	var langs []string
	for _, s := range streams {
		if s.Bitmap || s.Unreadable {
			continue
		}
		if s.Detected == "" || s.Confidence < p.MinConfidence || s.Forced || seen[s.Detected] {
			continue
		}
		seen[s.Detected] = true
		langs = append(langs, s.Detected)
	}
	sort.Strings(langs)
	return langs
}

// Build computes the plan for one file. satisfied holds languages already
// produced or recorded as permanently failed; embedded languages are added here.
func Build(streams []inventory.Stream, satisfied map[string]bool, p Policy) Plan {
	plan := Plan{Embedded: EmbeddedLanguages(streams, p)}

	have := make(map[string]bool, len(satisfied)+len(plan.Embedded))
	for l, ok := range satisfied {
		have[l] = ok
	}
	for _, l := range plan.Embedded {
		have[l] = true
	}

	eligible := Eligible(streams, p)
	for _, target := range p.Ensure {
		if have[target] {
			continue
		}
		plan.Missing = append(plan.Missing, target)
		if a, ok := PickSource(target, eligible, p); ok {
			plan.Assignments = append(plan.Assignments, a)
		} else {
			plan.Unresolved = append(plan.Unresolved, target)
		}
	}
	return plan
}
