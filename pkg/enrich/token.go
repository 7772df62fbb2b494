package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

const defaultLoginURL = "https://login.microsoftonline.com"

// TokenProvider supplies bearer tokens for the customer API.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// AzureTokenProvider obtains tokens from the Azure AD v1 endpoint using the
// client-credentials grant. Tokens are cached until shortly before expiry.
type AzureTokenProvider struct {
	tenantID     string
	clientID     string
	clientSecret string
	resource     string
	loginURL     string
	httpClient   *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// TokenOption configures the provider.
type TokenOption func(*AzureTokenProvider)

// WithLoginURL overrides the Azure login endpoint (used by tests).
func WithLoginURL(u string) TokenOption {
	return func(p *AzureTokenProvider) { p.loginURL = strings.TrimRight(u, "/") }
}

// WithTokenHTTPClient sets a custom HTTP client.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(p *AzureTokenProvider) { p.httpClient = c }
}

// NewAzureTokenProvider fails fast when any credential is missing so a
// misconfigured environment surfaces before the first job runs.
func NewAzureTokenProvider(tenantID, clientID, clientSecret, resource string, opts ...TokenOption) (*AzureTokenProvider, error) {
	switch {
	case tenantID == "":
		return nil, eris.New("enrich: tenant id is missing")
	case clientID == "":
		return nil, eris.New("enrich: client id is missing")
	case clientSecret == "":
		return nil, eris.New("enrich: client secret is missing")
	case resource == "":
		return nil, eris.New("enrich: resource is missing")
	}

	p := &AzureTokenProvider{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		resource:     resource,
		loginURL:     defaultLoginURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Token returns a cached token or fetches a fresh one.
func (p *AzureTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiry) {
		return p.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("resource", p.resource)

	tokenURL := fmt.Sprintf("%s/%s/oauth2/token", p.loginURL, p.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", eris.Wrap(err, "enrich: build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "enrich: token request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "enrich: read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("enrich: token request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   any    `json:"expires_in"` // Azure v1 returns this as a string
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", eris.Wrap(err, "enrich: decode token response")
	}
	if payload.AccessToken == "" {
		return "", eris.New("enrich: token response missing access_token")
	}

	p.token = payload.AccessToken
	p.expiry = time.Now().Add(tokenTTL(payload.ExpiresIn))
	return p.token, nil
}

// tokenTTL parses expires_in (string or number) with a safety margin. A
// value that cannot be parsed caches for five minutes.
func tokenTTL(expiresIn any) time.Duration {
	seconds := 0
	switch v := expiresIn.(type) {
	case string:
		fmt.Sscanf(v, "%d", &seconds) //nolint:errcheck
	case float64:
		seconds = int(v)
	}
	if seconds <= 60 {
		return 5 * time.Minute
	}
	return time.Duration(seconds-60) * time.Second
}

// StaticTokenProvider returns a fixed token (used by tests).
type StaticTokenProvider string

func (s StaticTokenProvider) Token(context.Context) (string, error) {
	return string(s), nil
}
