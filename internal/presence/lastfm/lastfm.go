// Package lastfm reports the current track to Last.fm as "now playing".
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tunez/presence/internal/presence"
)

const apiURL = "https://ws.audioscrobbler.com/2.0/"

// Config holds Last.fm publisher configuration.
type Config struct {
	APIKey     string
	APISecret  string
	SessionKey string
	// Endpoint overrides the API URL (tests).
	Endpoint string
}

// Publisher implements presence.Publisher for Last.fm.
type Publisher struct {
	id         string
	apiKey     string
	apiSecret  string
	sessionKey string
	endpoint   string
	client     *http.Client
}

// New creates a new Last.fm publisher.
func New(id string, cfg Config) *Publisher {
	if id == "" {
		id = "lastfm"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = apiURL
	}
	return &Publisher{
		id:         id,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		sessionKey: cfg.SessionKey,
		endpoint:   endpoint,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Publisher) ID() string   { return p.id }
func (p *Publisher) Name() string { return "Last.fm" }

func (p *Publisher) IsEnabled() bool {
	return p.apiKey != "" && p.apiSecret != "" && p.sessionKey != ""
}

// Publish sends track.updateNowPlaying. Last.fm has no way to clear a
// now-playing entry (it expires on its own), so a nil status is a no-op.
func (p *Publisher) Publish(ctx context.Context, status *presence.Status) error {
	if !p.IsEnabled() {
		return presence.ErrNotConfigured
	}
	if status == nil {
		return nil
	}

	params := map[string]string{
		"method":  "track.updateNowPlaying",
		"track":   status.Track.Title,
		"artist":  status.Track.Artist,
		"api_key": p.apiKey,
		"sk":      p.sessionKey,
	}
	return p.signedPost(ctx, params)
}

func (p *Publisher) signedPost(ctx context.Context, params map[string]string) error {
	params["api_sig"] = p.sign(params)
	params["format"] = "json"

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return presence.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return presence.ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("lastfm error: %s", resp.Status)
	}

	var result struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		switch result.Error {
		case 0:
		case 9:
			return fmt.Errorf("%w: %s", presence.ErrUnauthorized, result.Message)
		case 29:
			return fmt.Errorf("%w: %s", presence.ErrRateLimited, result.Message)
		default:
			return fmt.Errorf("lastfm error %d: %s", result.Error, result.Message)
		}
	}

	return nil
}

// sign computes the api_sig: md5 over the sorted key/value pairs followed by
// the shared secret.
func (p *Publisher) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "format" && k != "api_sig" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sig strings.Builder
	for _, k := range keys {
		sig.WriteString(k)
		sig.WriteString(params[k])
	}
	sig.WriteString(p.apiSecret)

	hash := md5.Sum([]byte(sig.String()))
	return hex.EncodeToString(hash[:])
}
