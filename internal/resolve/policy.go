// Package resolve decides, for one media file, which target languages are
// missing and which subtitle stream each should be translated from. It is
// pure: no I/O, same input gives the same plan.
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/sidecar-translator/internal/langcode"
)

// Policy is the language configuration in effect for a scan.
type Policy struct {
	// Ensure lists target languages in preference order.
	Ensure []string
	// TargetOnly languages are never used as a source.
	TargetOnly    map[string]bool
	MinConfidence float64
	// SupportsPair reports whether the backend offers src -> tgt. Nil means
	// every pair is offered.
	SupportsPair func(src, tgt string) bool
}

// NewPolicy normalizes ensure and targetOnly and builds the target-only set.
func NewPolicy(ensure, targetOnly []string, minConfidence float64) Policy {
	p := Policy{
		Ensure:        langcode.NormalizeList(ensure),
		TargetOnly:    make(map[string]bool),
		MinConfidence: minConfidence,
	}
	for _, l := range langcode.NormalizeList(targetOnly) {
		p.TargetOnly[l] = true
	}
	return p
}

func (p Policy) ensures(lang string) bool {
	for _, l := range p.Ensure {
		if l == lang {
			return true
		}
	}
	return false
}

func (p Policy) supports(src, tgt string) bool {
	if p.SupportsPair == nil {
		return true
	}
	return p.SupportsPair(src, tgt)
}

// Digest identifies the policy. Failure records taken under a different
// digest are ignored so a configuration change retries them.
func (p Policy) Digest() string {
	targetOnly := make([]string, 0, len(p.TargetOnly))
	for l := range p.TargetOnly {
		targetOnly = append(targetOnly, l)
	}
	sort.Strings(targetOnly)

	raw := fmt.Sprintf("ensure=%s;target_only=%s;min=%.4f",
		strings.Join(p.Ensure, ","), strings.Join(targetOnly, ","), p.MinConfidence)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
