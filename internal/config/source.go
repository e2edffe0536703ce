package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/MimeLyc/sidecar-translator/internal/apperrors"
	"github.com/MimeLyc/sidecar-translator/pkg/log"
)

// source resolves a setting from the environment first, then from the
// optional TOML file, then the default.
type source struct {
	file map[string]any
}

func newSource(path string) (*source, error) {
	s := &source{}
	if strings.TrimSpace(path) == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Config, "read config file").WithContext("path", path)
	}
	if err := toml.Unmarshal(data, &s.file); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Config, "parse config file").WithContext("path", path)
	}
	return s, nil
}

func (s *source) lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	v, ok := s.file[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		// Joined with a NUL so list() can split file lists regardless of separator.
		return strings.Join(parts, "\x00"), true
	default:
		return fmt.Sprint(t), true
	}
}

// string gets a string value with default
func (s *source) string(key, defaultValue string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return defaultValue
}

// int gets an integer value with default
func (s *source) int(key string, defaultValue int) int {
	if value, ok := s.lookup(key); ok {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
		log.Warn("config_invalid_int key=%s value=%q using=%d", key, value, defaultValue)
	}
	return defaultValue
}

// float gets a float value with default
func (s *source) float(key string, defaultValue float64) float64 {
	if value, ok := s.lookup(key); ok {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
		log.Warn("config_invalid_float key=%s value=%q using=%v", key, value, defaultValue)
	}
	return defaultValue
}

func (s *source) bool(key string, defaultValue bool) bool {
	if value, ok := s.lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
		log.Warn("config_invalid_bool key=%s value=%q using=%t", key, value, defaultValue)
	}
	return defaultValue
}

// duration accepts Go durations ("90s") or plain seconds ("90").
func (s *source) duration(key string, defaultValue time.Duration) time.Duration {
	value, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	log.Warn("config_invalid_duration key=%s value=%q using=%s", key, value, defaultValue)
	return defaultValue
}

func (s *source) list(key, sep string, defaultValue []string) []string {
	value, ok := s.lookup(key)
	if !ok {
		return defaultValue
	}
	splitter := sep
	if strings.Contains(value, "\x00") {
		splitter = "\x00"
	}
	var out []string
	for _, part := range strings.Split(value, splitter) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
