// Package auth obtains and caches bearer credentials via the OAuth2 client-credentials exchange.
package auth

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

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAuthorityURL is the Microsoft identity platform host.
	DefaultAuthorityURL = "https://login.microsoftonline.com"
	// DefaultScope is the Power BI REST API scope.
	DefaultScope = "https://analysis.windows.net/powerbi/api/.default"

	// refreshSkew is how long before expiry a cached credential is replaced.
	refreshSkew  = 60 * time.Second
	maxErrorBody = 64 << 10
)

// Credential is a bearer token. ExpiresAt is zero when the identity endpoint did not report a lifetime.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// AuthorizationHeader returns the value for the Authorization header.
func (c Credential) AuthorizationHeader() string {
	return "Bearer " + c.Token
}

// ClientCredentials identifies the service principal.
type ClientCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string
	AuthorityURL string
}

// TokenURL returns the tenant's v2.0 token endpoint.
func (c ClientCredentials) TokenURL() string {
	authority := c.AuthorityURL
	if authority == "" {
		authority = DefaultAuthorityURL
	}
	return strings.TrimRight(authority, "/") + "/" + url.PathEscape(c.TenantID) + "/oauth2/v2.0/token"
}

// AuthenticationError reports a failed identity exchange. Body holds the raw response for diagnosis.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %v", e.Err)
	case e.StatusCode != 0 && e.StatusCode != http.StatusOK:
		return fmt.Sprintf("authentication failed: identity endpoint returned %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("authentication failed: no access_token in response: %s", e.Body)
	}
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TokenProvider exchanges client credentials for a bearer token and reuses it until it
// nears expiry or is invalidated. Concurrent callers share one in-flight exchange.
type TokenProvider struct {
	creds  ClientCredentials
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *Credential
	group  singleflight.Group
}

// Option configures a TokenProvider.
type Option func(*TokenProvider)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(p *TokenProvider) { p.client = c }
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *TokenProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(p *TokenProvider) { p.now = now }
}

// NewTokenProvider creates a provider for creds.
func NewTokenProvider(creds ClientCredentials, opts ...Option) *TokenProvider {
	if creds.Scope == "" {
		creds.Scope = DefaultScope
	}
	p := &TokenProvider{
		creds:  creds,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the cached credential or performs a new exchange.
func (p *TokenProvider) Acquire(ctx context.Context) (Credential, error) {
	if cred, ok := p.cachedCredential(); ok {
		return cred, nil
	}
	ch := p.group.DoChan("token", func() (interface{}, error) {
		if cred, ok := p.cachedCredential(); ok {
			return cred, nil
		}
		// The exchange is shared; one caller's cancellation must not fail the others.
		cred, err := p.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cached = &cred
		p.mu.Unlock()
		return cred, nil
	})
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate drops the cached credential if it still holds token.
func (p *TokenProvider) Invalidate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil && p.cached.Token == token {
		p.logger.Debug("discarding cached credential")
		p.cached = nil
	}
}

func (p *TokenProvider) cachedCredential() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		return Credential{}, false
	}
	if !p.cached.ExpiresAt.IsZero() && !p.now().Add(refreshSkew).Before(p.cached.ExpiresAt) {
		p.cached = nil
		return Credential{}, false
	}
	return *p.cached, true
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (p *TokenProvider) exchange(ctx context.Context) (Credential, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.creds.ClientID},
		"client_secret": {p.creds.ClientSecret},
		"scope":         {p.creds.Scope},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.TokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &AuthenticationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Credential{}, &AuthenticationError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return Credential{}, &AuthenticationError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &AuthenticationError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return Credential{}, &AuthenticationError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	cred := Credential{Token: tr.AccessToken}
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		cred.ExpiresAt = start.Add(time.Duration(secs) * time.Second)
	}
	p.logger.Debug("acquired credential", zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}
