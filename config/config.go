// Package config reads the integration settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/Vector/vector-leads-crm/models"
)

const (
	defaultRefreshBuffer  = 300 * time.Second
	defaultSweepLookahead = 2 * time.Hour
	defaultHTTPTimeout    = 15 * time.Second
	defaultYouTubeQPS     = 5.0
)

// DefaultYouTubeScopes are requested when YOUTUBE_SCOPES is empty.
var DefaultYouTubeScopes = []string{
	"https://www.googleapis.com/auth/youtube.readonly",
	"https://www.googleapis.com/auth/yt-analytics.readonly",
}

// Integration holds the YouTube OAuth client and the credential lifecycle settings.
type Integration struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Scopes        []string
	EncryptionKey string

	RefreshBuffer  time.Duration
	SweepLookahead time.Duration
	HTTPTimeout    time.Duration
	YouTubeQPS     float64
}

// LoadIntegration reads the environment. Malformed numbers and durations are
// reported together; missing secrets are left to Validate.
func LoadIntegration() (*Integration, error) {
	cfg := &Integration{
		ClientID:      strings.TrimSpace(os.Getenv("YOUTUBE_CLIENT_ID")),
		ClientSecret:  strings.TrimSpace(os.Getenv("YOUTUBE_CLIENT_SECRET")),
		RedirectURL:   strings.TrimSpace(os.Getenv("YOUTUBE_REDIRECT_URL")),
		Scopes:        ParseScopes(os.Getenv("YOUTUBE_SCOPES")),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
	}

	if len(cfg.Scopes) == 0 {
		cfg.Scopes = append([]string(nil), DefaultYouTubeScopes...)
	}

	var err error

	cfg.RefreshBuffer, err = durationEnv("TOKEN_REFRESH_BUFFER", defaultRefreshBuffer, err)
	cfg.SweepLookahead, err = durationEnv("TOKEN_SWEEP_LOOKAHEAD", defaultSweepLookahead, err)
	cfg.HTTPTimeout, err = durationEnv("PROVIDER_HTTP_TIMEOUT", defaultHTTPTimeout, err)

	cfg.YouTubeQPS = defaultYouTubeQPS

	if v := strings.TrimSpace(os.Getenv("YOUTUBE_QPS")); v != "" {
		qps, perr := strconv.ParseFloat(v, 64)
		if perr != nil || qps < 0 {
			err = multierr.Append(err, fmt.Errorf("invalid YOUTUBE_QPS %q", v))
		} else {
			cfg.YouTubeQPS = qps
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Integration) Validate() error {
	var err error

	required := []struct {
		name  string
		value string
	}{
		{"YOUTUBE_CLIENT_ID", c.ClientID},
		{"YOUTUBE_CLIENT_SECRET", c.ClientSecret},
		{"YOUTUBE_REDIRECT_URL", c.RedirectURL},
		{"ENCRYPTION_KEY", c.EncryptionKey},
	}

	for _, r := range required {
		if r.value == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required", r.name))
		}
	}

	if len(c.Scopes) == 0 {
		err = multierr.Append(err, fmt.Errorf("at least one scope is required"))
	}

	if c.RefreshBuffer <= 0 {
		err = multierr.Append(err, fmt.Errorf("refresh buffer must be positive"))
	}

	if c.SweepLookahead < c.RefreshBuffer {
		err = multierr.Append(err, fmt.Errorf("sweep lookahead %s is shorter than the refresh buffer %s", c.SweepLookahead, c.RefreshBuffer))
	}

	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}

	return nil
}

// ParseScopes splits a comma or whitespace separated scope list.
func ParseScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})

	if len(fields) == 0 {
		return nil
	}

	return fields
}

// durationEnv accepts Go durations ("5m") or plain seconds ("300").
func durationEnv(key string, def time.Duration, errs error) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}

	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, errs
	}

	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, multierr.Append(errs, fmt.Errorf("invalid %s %q", key, v))
	}

	return d, errs
}
