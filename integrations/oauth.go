package integrations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Vector/vector-leads-crm/models"
)

// GoogleRevokeURL is Google's OAuth 2.0 token revocation endpoint.
const GoogleRevokeURL = "https://oauth2.googleapis.com/revoke"

// OAuthProvider is the provider's OAuth 2.0 surface.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Revoke(ctx context.Context, token string) error
}

// OAuthConfig configures a GoogleOAuth provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Endpoint defaults to google.Endpoint.
	Endpoint oauth2.Endpoint
	// RevokeURL defaults to GoogleRevokeURL.
	RevokeURL string
	// Timeout bounds every call to the provider.
	Timeout time.Duration
}

// GoogleOAuth implements OAuthProvider with golang.org/x/oauth2.
type GoogleOAuth struct {
	conf       *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

var _ OAuthProvider = (*GoogleOAuth)(nil)

func NewGoogleOAuth(cfg OAuthConfig) *GoogleOAuth {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = GoogleRevokeURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &GoogleOAuth{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		revokeURL:  revokeURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthCodeURL returns the consent screen URL. Offline access with forced
// consent is required for Google to issue a refresh token.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := g.conf.Exchange(g.clientContext(ctx), code)
	if err != nil {
		return nil, classifyTokenError(err)
	}

	return tok, nil
}

// Refresh trades refreshToken for a new access token. The returned token keeps
// refreshToken when the provider does not issue a new one.
func (g *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := g.conf.TokenSource(g.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	return tok, nil
}

func (g *GoogleOAuth) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke token: unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (g *GoogleOAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// classifyTokenError maps a token endpoint failure onto the error taxonomy:
// invalid_grant, 401 and 403 require reauthorization, 429, 5xx and transport
// errors are retryable, anything else is a plain exchange failure.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return models.Retryable(fmt.Errorf("%w: %v", models.ErrTokenExchange, err))
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}

	switch {
	case re.ErrorCode == "invalid_grant", status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", models.ErrReauthorizationRequired, models.ErrTokenExchange, describe(re, status))
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return models.Retryable(fmt.Errorf("%w: %s", models.ErrTokenExchange, describe(re, status)))
	default:
		return fmt.Errorf("%w: %s", models.ErrTokenExchange, describe(re, status))
	}
}

func describe(re *oauth2.RetrieveError, status int) string {
	if re.ErrorCode != "" {
		return fmt.Sprintf("status %d: %s", status, re.ErrorCode)
	}

	return fmt.Sprintf("status %d", status)
}
