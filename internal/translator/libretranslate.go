package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/langcode"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
	"golang.org/x/sync/semaphore"
)

// Upper bound on text sent to /detect; detection only needs a sample.
const maxDetectBytes = 4096

var errorMessages = map[int]string{
	http.StatusBadRequest:          "Bad Request",
	http.StatusForbidden:           "Forbidden",
	http.StatusNotFound:            "Not Found",
	http.StatusTooManyRequests:     "Too Many Requests",
	http.StatusInternalServerError: "Server Error",
}

// Config configures a LibreTranslate client.
//
// HTTPClient is shared by every request so connections are pooled; when nil a
// client with Timeout is created. MaxConcurrent caps simultaneous backend
// calls across all workers; zero means unlimited.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	HTTPClient    *http.Client
}

// LibreTranslate talks to a LibreTranslate server.
//
// It is safe for concurrent use. The language listing is fetched lazily and
// refreshed on every successful availability probe, so capability checks
// never block on the network.
type LibreTranslate struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *semaphore.Weighted

	mu        sync.RWMutex
	languages map[string]map[string]bool
}

var _ Translator = (*LibreTranslate)(nil)

// NewLibreTranslate creates a client for cfg.BaseURL.
func NewLibreTranslate(cfg Config) (*LibreTranslate, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, apperrors.New(apperrors.Config, "translation backend URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 180 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &LibreTranslate{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
	if cfg.MaxConcurrent > 0 {
		c.limiter = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return c, nil
}

// RefreshLanguages reloads the supported language pairs.
func (c *LibreTranslate) RefreshLanguages(ctx context.Context) ([]Language, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/languages", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build languages request: %w", err)
	}

	body, err := c.send(req)
	if err != nil {
		return nil, err
	}

	var langs []Language
	if err := json.Unmarshal(body, &langs); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transient, "invalid languages response")
	}

	table := make(map[string]map[string]bool, len(langs))
	for _, l := range langs {
		code := normalize(l.Code)
		targets := make(map[string]bool, len(l.Targets))
		for _, t := range l.Targets {
			targets[normalize(t)] = true
		}
		table[code] = targets
	}

	c.mu.Lock()
	c.languages = table
	c.mu.Unlock()

	return langs, nil
}

// Available probes the backend and refreshes the language table.
func (c *LibreTranslate) Available(ctx context.Context) error {
	_, err := c.RefreshLanguages(ctx)
	return err
}

// IsTargetSupported is optimistic until the language table has been loaded.
func (c *LibreTranslate) IsTargetSupported(lang string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.languages == nil {
		return true
	}

	lang = normalize(lang)
	for _, targets := range c.languages {
		if targets[lang] {
			return true
		}
	}
	return false
}

func (c *LibreTranslate) IsSourceSupported(lang string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.languages == nil {
		return true
	}
	return len(c.languages[normalize(lang)]) > 0
}

func (c *LibreTranslate) SupportsPair(src, tgt string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.languages == nil {
		return true
	}
	return c.languages[normalize(src)][normalize(tgt)]
}

// DetectLanguage asks the backend to identify text. LibreTranslate reports
// confidence in percent; it is scaled to [0,1].
func (c *LibreTranslate) DetectLanguage(ctx context.Context, text string) (string, float64, error) {
	if len(text) > maxDetectBytes {
		text = strings.ToValidUTF8(text[:maxDetectBytes], "")
	}

	payload := map[string]string{"q": text}
	if c.apiKey != "" {
		payload["api_key"] = c.apiKey
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", 0, err
	}

	var results []detectResult
	if err := json.Unmarshal(body, &results); err != nil {
		return "", 0, apperrors.Wrap(err, apperrors.Transient, "invalid detect response")
	}
	if len(results) == 0 {
		return "", 0, nil
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}

	conf := best.Confidence
	if conf > 1 {
		conf /= 100
	}
	return normalize(best.Language), conf, nil
}

// Translate uploads an SRT payload to /translate_file and returns the
// translated payload, following translatedFileUrl when the server answers
// with a download link.
func (c *LibreTranslate) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	if !c.SupportsPair(src, tgt) {
		return "", apperrors.Newf(apperrors.Permanent, "language pair %s->%s not supported", src, tgt)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{"source": src, "target": tgt, "format": "srt"}
	if c.apiKey != "" {
		fields["api_key"] = c.apiKey
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write form field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "subtitle.srt")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.WriteString(fw, text); err != nil {
		return "", fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate_file", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to build translate request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var resp translateFileResponse
	if json.Unmarshal(body, &resp) != nil || resp.TranslatedFileURL == "" {
		return string(body), nil
	}

	dl, err := http.NewRequestWithContext(ctx, http.MethodGet, resp.TranslatedFileURL, nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.Permanent, "invalid translatedFileUrl")
	}
	content, err := c.do(dl)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// do runs req under the concurrency limiter.
func (c *LibreTranslate) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(req.Context(), 1); err != nil {
			return nil, err
		}
		defer c.limiter.Release(1)
	}
	return c.send(req)
}

// send runs req without taking a limiter slot and classifies failures.
// Availability probes go through here so busy translations never read as an
// outage.
func (c *LibreTranslate) send(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, apperrors.Transient, "backend request failed").
			WithContext("url", req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, apperrors.Transient, "failed to read backend response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(req, resp.StatusCode, body)
	}
	return body, nil
}

func statusError(req *http.Request, status int, body []byte) error {
	message, ok := errorMessages[status]
	if !ok {
		message = "Unexpected error"
	}
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		for _, detail := range []string{er.Error, er.Message, er.Detail} {
			if detail != "" {
				message += ": " + detail
				break
			}
		}
	}

	log.Error("backend_http_error status=%d path=%s message=%s", status, req.URL.Path, message)

	return apperrors.Newf(classifyStatus(status), "HTTP %d: %s", status, message).
		WithContext("url", req.URL.Path)
}

// classifyStatus maps HTTP status codes to retry semantics.
func classifyStatus(status int) apperrors.Kind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return apperrors.Transient
	default:
		return apperrors.Permanent
	}
}

func normalize(code string) string {
	if n := langcode.Normalize(code); n != "" {
		return n
	}
	return strings.ToLower(strings.TrimSpace(code))
}
