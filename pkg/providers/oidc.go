package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/srobinson/alphab-auth-gateway/pkg/types"
	"golang.org/x/oauth2"
)

const (
	// requestTimeout bounds every call to the IdP.
	requestTimeout = 10 * time.Second

	// defaultExpiresIn is assumed when the IdP omits expires_in.
	defaultExpiresIn = 3600

	// signinScopes are requested during sign-in. offline_access makes the
	// IdP issue a refresh token.
	signinScopes = "openid profile email offline_access"
)

// OIDCProvider talks to the configured OpenID-Connect IdP. Every call goes
// through one pooled HTTP client.
type OIDCProvider struct {
	config     *types.Config
	httpClient *http.Client
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider builds the provider from a derived config.
func NewOIDCProvider(config *types.Config) *OIDCProvider {
	return &OIDCProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
				MaxConnsPerHost:     10,
			},
		},
	}
}

// HTTPClient exposes the pooled client so collaborators such as the JWKS
// cache share its connection limits.
func (p *OIDCProvider) HTTPClient() *http.Client {
	return p.httpClient
}

// AuthCodeURL builds the IdP authorization URL: the standard code-flow
// parameters, prompt=login so the login form is always shown, the PKCE
// challenge and the optional resource indicator.
func (p *OIDCProvider) AuthCodeURL(codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("prompt", "login"),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	if p.config.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", p.config.Resource))
	}
	return p.oauthConfig().AuthCodeURL("", opts...)
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*types.TokenResponse, error) {
	tok, err := p.oauthConfig().Exchange(p.withClient(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, wrapTokenError("code exchange", err)
	}
	return tokenResponse(tok), nil
}

// RefreshToken refreshes an access token using a refresh token.
func (p *OIDCProvider) RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error) {
	tok, err := p.oauthConfig().
		TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).
		Token()
	if err != nil {
		return nil, wrapTokenError("token refresh", err)
	}

	resp := tokenResponse(tok)
	if resp.RefreshToken == "" {
		// Use the old refresh token in case a new one is not provided.
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// GetUserInfo retrieves user information using the access token. Exactly
// one request is made per call.
func (p *OIDCProvider) GetUserInfo(ctx context.Context, accessToken string) (*types.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "userinfo", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UserInfoError{StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, &UserInfoError{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("failed to decode response: %v", err)}
	}
	return NormalizeUserInfo(claims)
}

// NormalizeUserInfo maps an IdP claim document onto the canonical UserInfo
// shape. Absent optional claims become zero values; a missing sub is an
// error because nothing downstream works without the subject.
func NormalizeUserInfo(claims map[string]any) (*types.UserInfo, error) {
	sub := getString(claims, "sub")
	if sub == "" {
		return nil, &UserInfoError{StatusCode: http.StatusOK, Reason: "response missing sub claim"}
	}
	return &types.UserInfo{
		Subject:       sub,
		Name:          getString(claims, "name"),
		Email:         getString(claims, "email"),
		Picture:       getString(claims, "picture"),
		Roles:         getStringSlice(claims, "roles"),
		Username:      getString(claims, "username"),
		EmailVerified: getBool(claims, "email_verified"),
		CreatedAt:     getInt64(claims, "created_at"),
		UpdatedAt:     getInt64(claims, "updated_at"),
	}, nil
}

func (p *OIDCProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.AppID,
		ClientSecret: p.config.AppSecret,
		RedirectURL:  p.config.RedirectURI,
		Scopes:       strings.Fields(signinScopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.config.AuthorizeEndpoint,
			TokenURL: p.config.TokenEndpoint,
		},
	}
}

// withClient routes the oauth2 machinery through the pooled client.
func (p *OIDCProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// wrapTokenError splits token endpoint failures into the error response
// case and the transport case.
func wrapTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &ExchangeError{
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       strings.TrimSpace(string(retrieveErr.Body)),
		}
	}
	return &TransportError{Op: op, Err: err}
}

func tokenResponse(tok *oauth2.Token) *types.TokenResponse {
	expiresIn := int(tok.ExpiresIn)
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	scope, _ := tok.Extra("scope").(string)
	return &types.TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		ExpiresIn:    expiresIn,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
	}
}

// Helper functions
func getString(m map[string]any, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(m map[string]any, key string) bool {
	if val, ok := m[key].(bool); ok {
		return val
	}
	return false
}

func getInt64(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		i, _ := v.Int64()
		return i
	default:
		return 0
	}
}

func getStringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
