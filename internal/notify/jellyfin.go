// Package notify tells a media server that a sidecar was written.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier refreshes the library entry for a media file.
type Notifier interface {
	Refresh(ctx context.Context, path string) error
}

// Nop is used when no media server is configured.
type Nop struct{}

func (Nop) Refresh(context.Context, string) error { return nil }

// Jellyfin posts to /Library/Media/Updated.
type Jellyfin struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a Jellyfin notifier, or Nop when baseURL or token is empty.
func New(baseURL, token string, httpClient *http.Client) Notifier {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || token == "" {
		return Nop{}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Jellyfin{baseURL: baseURL, token: token, httpClient: httpClient}
}

type mediaUpdate struct {
	Path string `json:"Path"`
}

type mediaUpdatedRequest struct {
	Updates []mediaUpdate `json:"Updates"`
}

func (j *Jellyfin) Refresh(ctx context.Context, path string) error {
	body, err := json.Marshal(mediaUpdatedRequest{Updates: []mediaUpdate{{Path: path}}})
	if err != nil {
		return fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/Library/Media/Updated", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Emby-Token", j.token)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jellyfin refresh failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("jellyfin refresh returned HTTP %d", resp.StatusCode)
	}
	return nil
}
