package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/internal/langcode"
	"github.com/MimeLyc/sidecar-translator/pkg/icron"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// Config holds all application configuration. It is built once at startup
// and handed to constructors; nothing below cmd reads the environment.
//
// Every setting is read from an environment variable. When CONFIG_FILE points
// to a TOML file, its keys (the variable names in lower case) provide values
// for variables that are not set.
//
// Media:
// - WATCH_DIRS: ':'-separated library roots, alias MKV_DIRS (default: /data)
// - MEDIA_EXTS: ','-separated media extensions (default: .mkv)
// - TEMP_DIR: scratch space for extracted streams (default: $TMPDIR/sidecar-translator)
//
// Languages:
// - ENSURE_LANGS: ordered target languages (default: en,nl,bs)
// - TARGET_ONLY_LANGS: languages never used as a source (default: none)
// - MIN_CONFIDENCE: detection confidence required of a source (default: 0.85)
//
// Backend:
// - LIBRETRANSLATE_URL (default: http://libretranslate:5000), LIBRETRANSLATE_API_KEY
// - HTTP_TIMEOUT (default: 180s)
// - MAX_CONCURRENT_REQUESTS: backend calls in flight (default: workers)
// - AVAILABILITY_CHECK_INTERVAL (default: 30s)
// - DETECTOR: backend or local (default: backend)
//
// Jobs:
// - CPU_CORES (default: 4), WORKERS (default: CPU_CORES/4 within [1,8], max 10)
// - RETRY_COUNT: total attempts for transient failures (default: 3)
// - BACKOFF_DELAY: first retry delay, doubled per attempt (default: 1s)
//
// Watching and scheduling:
// - WATCH_ENABLED (default: true), DEBOUNCE (default: 2s)
// - STABILIZE_TIMEOUT (default: 30s), STABILIZE_POLL (default: 1s)
// - SCAN_INTERVAL_MINUTES: full sweep period, 0 disables (default: 180)
// - ORPHAN_CLEANUP_CRON: orphan sweep schedule, empty disables (default: @daily)
//
// State, integrations, and logging:
// - CACHE_PATH (default: /config/cache.db), CACHE_ENABLED (default: true)
// - JELLYFIN_URL, JELLYFIN_TOKEN: library refresh (default: disabled)
// - API_ADDR: status API listen address, empty disables (default: :4242)
// - API_TOKEN: bearer token for mutating API calls
// - LOG_LEVEL (default: info), LOG_FILE
type Config struct {
	Media     MediaConfig    `json:"media"`
	Languages LanguageConfig `json:"languages"`
	Backend   BackendConfig  `json:"backend"`
	Jobs      JobsConfig     `json:"jobs"`
	Watch     WatchConfig    `json:"watch"`
	Scan      ScanConfig     `json:"scan"`
	Cache     CacheConfig    `json:"cache"`
	Notify    NotifyConfig   `json:"notify"`
	API       APIConfig      `json:"api"`
	Log       LogConfig      `json:"log"`
}

type MediaConfig struct {
	Dirs       []string `json:"dirs"`
	Extensions []string `json:"extensions"`
	TempDir    string   `json:"temp_dir"`
}

type LanguageConfig struct {
	Ensure        []string `json:"ensure"`
	TargetOnly    []string `json:"target_only"`
	MinConfidence float64  `json:"min_confidence"`
}

type BackendConfig struct {
	URL                  string        `json:"url"`
	APIKey               string        `json:"api_key"`
	Timeout              time.Duration `json:"timeout"`
	MaxConcurrent        int           `json:"max_concurrent"`
	AvailabilityInterval time.Duration `json:"availability_interval"`
	Detector             string        `json:"detector"`
}

type JobsConfig struct {
	Workers      int           `json:"workers"`
	RetryCount   int           `json:"retry_count"`
	BackoffDelay time.Duration `json:"backoff_delay"`
}

type WatchConfig struct {
	Enabled          bool          `json:"enabled"`
	Debounce         time.Duration `json:"debounce"`
	StabilizeTimeout time.Duration `json:"stabilize_timeout"`
	PollInterval     time.Duration `json:"poll_interval"`
}

type ScanConfig struct {
	Interval   time.Duration `json:"interval"`
	OrphanCron string        `json:"orphan_cron"`
}

type CacheConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LockPath guards against two instances sharing one cache.
func (c CacheConfig) LockPath() string {
	return c.Path + ".lock"
}

type NotifyConfig struct {
	JellyfinURL   string `json:"jellyfin_url"`
	JellyfinToken string `json:"jellyfin_token"`
}

type APIConfig struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

const (
	DetectorBackend = "backend"
	DetectorLocal   = "local"

	// MaxWorkers is the hard ceiling on configured workers.
	MaxWorkers = 10
)

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	workers := src.int("WORKERS", DefaultWorkers(src.int("CPU_CORES", 4)))

	config := &Config{
		Media: MediaConfig{
			Dirs:       src.list("WATCH_DIRS", ":", src.list("MKV_DIRS", ":", []string{"/data"})),
			Extensions: src.list("MEDIA_EXTS", ",", []string{".mkv"}),
			TempDir:    src.string("TEMP_DIR", filepath.Join(os.TempDir(), "sidecar-translator")),
		},
		Languages: LanguageConfig{
			Ensure:        src.list("ENSURE_LANGS", ",", []string{"en", "nl", "bs"}),
			TargetOnly:    src.list("TARGET_ONLY_LANGS", ",", nil),
			MinConfidence: src.float("MIN_CONFIDENCE", 0.85),
		},
		Backend: BackendConfig{
			URL:                  src.string("LIBRETRANSLATE_URL", "http://libretranslate:5000"),
			APIKey:               src.string("LIBRETRANSLATE_API_KEY", ""),
			Timeout:              src.duration("HTTP_TIMEOUT", 180*time.Second),
			MaxConcurrent:        src.int("MAX_CONCURRENT_REQUESTS", 0),
			AvailabilityInterval: src.duration("AVAILABILITY_CHECK_INTERVAL", 30*time.Second),
			Detector:             strings.ToLower(src.string("DETECTOR", DetectorBackend)),
		},
		Jobs: JobsConfig{
			Workers:      workers,
			RetryCount:   src.int("RETRY_COUNT", 3),
			BackoffDelay: src.duration("BACKOFF_DELAY", time.Second),
		},
		Watch: WatchConfig{
			Enabled:          src.bool("WATCH_ENABLED", true),
			Debounce:         src.duration("DEBOUNCE", 2*time.Second),
			StabilizeTimeout: src.duration("STABILIZE_TIMEOUT", 30*time.Second),
			PollInterval:     src.duration("STABILIZE_POLL", time.Second),
		},
		Scan: ScanConfig{
			Interval:   time.Duration(src.int("SCAN_INTERVAL_MINUTES", 180)) * time.Minute,
			OrphanCron: src.string("ORPHAN_CLEANUP_CRON", "@daily"),
		},
		Cache: CacheConfig{
			Enabled: src.bool("CACHE_ENABLED", true),
			Path:    src.string("CACHE_PATH", "/config/cache.db"),
		},
		Notify: NotifyConfig{
			JellyfinURL:   src.string("JELLYFIN_URL", ""),
			JellyfinToken: src.string("JELLYFIN_TOKEN", ""),
		},
		API: APIConfig{
			Addr:  src.string("API_ADDR", ":4242"),
			Token: src.string("API_TOKEN", ""),
		},
		Log: LogConfig{
			Level: src.string("LOG_LEVEL", "info"),
			File:  src.string("LOG_FILE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	config.normalize()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultWorkers derives the worker count from CPU cores: one per four
// cores, at least one and at most eight.
func DefaultWorkers(cores int) int {
	w := cores / 4
	if w < 1 {
		w = 1
	}
	if w > 8 {
		w = 8
	}
	return w
}

func (c *Config) normalize() {
	dirs := make([]string, 0, len(c.Media.Dirs))
	for _, d := range c.Media.Dirs {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, filepath.Clean(d))
		}
	}
	c.Media.Dirs = dirs

	exts := make([]string, 0, len(c.Media.Extensions))
	for _, e := range c.Media.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	c.Media.Extensions = exts

	if c.Jobs.Workers > MaxWorkers {
		log.Warn("config_workers_capped requested=%d max=%d", c.Jobs.Workers, MaxWorkers)
		c.Jobs.Workers = MaxWorkers
	}
	if c.Jobs.Workers < 1 {
		c.Jobs.Workers = 1
	}
	if c.Backend.MaxConcurrent <= 0 {
		c.Backend.MaxConcurrent = c.Jobs.Workers
	}
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	fail := func(format string, args ...any) error {
		return apperrors.Newf(apperrors.Config, format, args...)
	}

	if len(c.Media.Dirs) == 0 {
		return fail("WATCH_DIRS must name at least one directory")
	}
	if len(c.Media.Extensions) == 0 {
		return fail("MEDIA_EXTS must name at least one extension")
	}

	ensure, err := languageList("ENSURE_LANGS", c.Languages.Ensure)
	if err != nil {
		return err
	}
	if len(ensure) == 0 {
		return fail("ENSURE_LANGS must name at least one language")
	}
	c.Languages.Ensure = ensure

	targetOnly, err := languageList("TARGET_ONLY_LANGS", c.Languages.TargetOnly)
	if err != nil {
		return err
	}
	c.Languages.TargetOnly = targetOnly

	if c.Languages.MinConfidence < 0 || c.Languages.MinConfidence > 1 {
		return fail("MIN_CONFIDENCE must be between 0 and 1, got %v", c.Languages.MinConfidence)
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail("LIBRETRANSLATE_URL must be an http(s) URL, got %q", c.Backend.URL)
	}
	if c.Backend.Detector != DetectorBackend && c.Backend.Detector != DetectorLocal {
		return fail("DETECTOR must be %q or %q, got %q", DetectorBackend, DetectorLocal, c.Backend.Detector)
	}

	if c.Jobs.RetryCount < 1 {
		return fail("RETRY_COUNT must be at least 1, got %d", c.Jobs.RetryCount)
	}
	for name, d := range map[string]time.Duration{
		"HTTP_TIMEOUT":                c.Backend.Timeout,
		"AVAILABILITY_CHECK_INTERVAL": c.Backend.AvailabilityInterval,
		"BACKOFF_DELAY":               c.Jobs.BackoffDelay,
		"DEBOUNCE":                    c.Watch.Debounce,
		"STABILIZE_TIMEOUT":           c.Watch.StabilizeTimeout,
		"STABILIZE_POLL":              c.Watch.PollInterval,
		"SCAN_INTERVAL_MINUTES":       c.Scan.Interval,
	} {
		if d < 0 {
			return fail("%s must not be negative", name)
		}
	}

	if c.Scan.OrphanCron != "" {
		if err := icron.Validate(c.Scan.OrphanCron); err != nil {
			return apperrors.Wrap(err, apperrors.Config, "ORPHAN_CLEANUP_CRON")
		}
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) == "" {
		return fail("CACHE_PATH is required when the cache is enabled")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fail("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}

// languageList rejects malformed codes and normalizes the rest, keeping order.
func languageList(name string, codes []string) ([]string, error) {
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		for _, r := range code {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-') {
				return nil, apperrors.Newf(apperrors.Config, "%s: %q is not a language code", name, code)
			}
		}
		if !langcode.IsToken(code) {
			return nil, apperrors.Newf(apperrors.Config, "%s: unknown language %q", name, code)
		}
	}
	return langcode.NormalizeList(codes), nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Backend.APIKey = mask(c.Backend.APIKey)
	c.Notify.JellyfinToken = mask(c.Notify.JellyfinToken)
	c.API.Token = mask(c.API.Token)
	return c
}

func (c Config) String() string {
	r := c.Redacted()
	return fmt.Sprintf("dirs=%v exts=%v ensure=%v target_only=%v min_confidence=%.2f backend=%s workers=%d max_concurrent=%d retry=%d backoff=%s watch=%t scan_interval=%s orphan_cron=%q cache=%t:%s api=%q",
		r.Media.Dirs, r.Media.Extensions, r.Languages.Ensure, r.Languages.TargetOnly, r.Languages.MinConfidence,
		r.Backend.URL, r.Jobs.Workers, r.Backend.MaxConcurrent, r.Jobs.RetryCount, r.Jobs.BackoffDelay,
		r.Watch.Enabled, r.Scan.Interval, r.Scan.OrphanCron, r.Cache.Enabled, r.Cache.Path, r.API.Addr)
}
