package translator

import "context"

// Translator is the translation backend as seen by the scheduler. The
// backend owns subtitle syntax; text passes through opaquely.
type Translator interface {
	// DetectLanguage returns an ISO 639-1 code and a confidence in [0,1].
	DetectLanguage(ctx context.Context, text string) (string, float64, error)
	// Translate converts a full SRT payload from src to tgt.
	Translate(ctx context.Context, text, src, tgt string) (string, error)
	// IsTargetSupported reports whether the backend can produce lang.
	IsTargetSupported(lang string) bool
	// IsSourceSupported reports whether the backend accepts lang as input.
	// Languages that are targets but not sources are target-only.
	IsSourceSupported(lang string) bool
	// SupportsPair reports whether src -> tgt is offered.
	SupportsPair(src, tgt string) bool
	// Available returns nil when the backend answers.
	Available(ctx context.Context) error
}

// Detector is the subset used by the inventory resolver.
type Detector interface {
	DetectLanguage(ctx context.Context, text string) (string, float64, error)
}

// Language is one entry of the backend's /languages listing.
type Language struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets"`
}

type detectResult struct {
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

type translateFileResponse struct {
	TranslatedFileURL string `json:"translatedFileUrl"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}
