package subtitle

import (
	"context"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// LocalDetector identifies languages in-process with whatlanggo. It is used
// when the translation backend cannot detect, or as its fallback.
type LocalDetector struct{}

func NewLocalDetector() LocalDetector {
	return LocalDetector{}
}

// DetectLanguage returns an ISO 639-1 code and a confidence in [0,1].
// Unrecognized text yields ("", 0, nil).
func (LocalDetector) DetectLanguage(_ context.Context, text string) (string, float64, error) {
	plain := strings.TrimSpace(PlainText([]byte(text)))
	if plain == "" {
		return "", 0, nil
	}

	info := whatlanggo.Detect(plain)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", 0, nil
	}
	return code, info.Confidence, nil
}
