// Package langcode normalizes subtitle language tags and infers languages
// from track titles.
package langcode

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"
)

// Bibliographic and legacy codes that language.Parse does not map on its own.
var aliases = map[string]string{
	"dut": "nl",
	"ger": "de",
	"fre": "fr",
	"per": "fa",
	"iw":  "he",
	"scc": "sr",
	"chi": "zh",
	"chs": "zh",
	"cht": "zh",
	"cze": "cs",
	"gre": "el",
	"rum": "ro",
	"slo": "sk",
	"alb": "sq",
	"arm": "hy",
	"baq": "eu",
	"bur": "my",
	"geo": "ka",
	"ice": "is",
	"mac": "mk",
	"mao": "mi",
	"may": "ms",
	"tib": "bo",
	"wel": "cy",
}

// Normalize returns the ISO 639-1 base code for a language tag ("eng" -> "en",
// "pt-BR" -> "pt"), or "" when the tag is empty, undetermined, or unknown.
// Languages without a two-letter code keep their three-letter form.
func Normalize(code string) string {
	token := strings.ToLower(strings.TrimSpace(code))
	token = strings.ReplaceAll(token, "_", "-")
	if token == "" || token == "und" || token == "unk" || token == "mis" || token == "zxx" {
		return ""
	}
	if alias, ok := aliases[token]; ok {
		return alias
	}

	tag, err := language.Parse(token)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	if b := base.String(); b != "und" {
		return b
	}
	return ""
}

// NormalizeList normalizes codes, dropping unknown entries and duplicates
// while keeping the first occurrence order.
func NormalizeList(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		n := Normalize(c)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// IsToken reports whether s looks like a language tag we understand.
func IsToken(s string) bool {
	return Normalize(s) != ""
}

type titleHint struct {
	pattern *regexp.Regexp
	code    string
}

// Ordered most specific first: "english signs" must win over "english".
var titleHints = buildHints([][2]string{
	{"latin american spanish", "es"},
	{"european spanish", "es"},
	{"brazilian portuguese", "pt"},
	{"bahasa indonesia", "id"},
	{"bahasa melayu", "ms"},
	{"english signs", "en"},
	{"english cc", "en"},
	{"简体中文", "zh"},
	{"繁體中文", "zh"},
	{"中文", "zh"},
	{"cantonese", "zh"},
	{"mandarin", "zh"},
	{"arabic", "ar"},
	{"spanish", "es"},
	{"german", "de"},
	{"deutsch", "de"},
	{"french", "fr"},
	{"italian", "it"},
	{"polish", "pl"},
	{"portuguese", "pt"},
	{"russian", "ru"},
	{"turkish", "tr"},
	{"thai", "th"},
	{"malay", "ms"},
	{"indonesian", "id"},
	{"vietnamese", "vi"},
	{"tiếng việt", "vi"},
	{"korean", "ko"},
	{"japanese", "ja"},
	{"dutch", "nl"},
	{"nederlands", "nl"},
	{"bosnian", "bs"},
	{"bosanski", "bs"},
	{"czech", "cs"},
	{"danish", "da"},
	{"ukrainian", "uk"},
	{"swedish", "sv"},
	{"norwegian", "nb"},
	{"finnish", "fi"},
	{"english", "en"},
	{"ger", "de"},
	{"eng", "en"},
	{"fre", "fr"},
	{"spa", "es"},
	{"por", "pt"},
	{"ita", "it"},
	{"rus", "ru"},
	{"ara", "ar"},
})

var hearingImpairedPatterns = []*regexp.Regexp{
	wordPattern("sdh"),
	wordPattern("hearing impaired"),
	wordPattern("hard of hearing"),
	wordPattern("deaf"),
	regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])closed captions?($|[^\p{L}\p{N}_])`),
}

func wordPattern(needle string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(needle) + `($|[^\p{L}\p{N}_])`)
}

func buildHints(pairs [][2]string) []titleHint {
	hints := make([]titleHint, 0, len(pairs))
	for _, p := range pairs {
		hints = append(hints, titleHint{pattern: wordPattern(p[0]), code: p[1]})
	}
	return hints
}

// HintFromTitle infers a language from a track title such as "English SDH".
func HintFromTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	for _, h := range titleHints {
		if h.pattern.MatchString(title) {
			return h.code
		}
	}
	return ""
}

// IsHearingImpaired reports whether a track title marks SDH or closed captions.
func IsHearingImpaired(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	for _, p := range hearingImpairedPatterns {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}
