package types

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration values for the auth gateway.
type Config struct {
	Port          string
	RoutePrefix   string
	DatabaseDSN   string
	EncryptionKey string

	// Identity provider connection.
	Endpoint    string
	AppID       string
	AppSecret   string
	RedirectURI string
	Resource    string

	// FrontendOrigins are the browser origins allowed by CORS. The first
	// entry is the primary frontend that callback and signout redirect to.
	FrontendOrigins []string

	// Local signing for gateway-minted tokens.
	JWTSecretKey             string
	JWTAlgorithm             string
	AccessTokenExpireMinutes int

	RateLimitEnabled   bool
	RateLimitPerMinute int
	AuditRetentionDays int

	// Derived from Endpoint and AppID by Derive. Explicit values win over
	// derivation so deployments with non-standard IdP layouts can override.
	AuthorizeEndpoint string
	TokenEndpoint     string
	UserinfoEndpoint  string
	JwksURI           string
	Issuer            string
	Audience          string
}

// Derive normalizes the endpoint and fills every derived field that was not
// set explicitly. After Derive returns, all derived fields are non-empty
// whenever Endpoint and AppID are.
func (c *Config) Derive() {
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Endpoint != "" {
		if c.AuthorizeEndpoint == "" {
			c.AuthorizeEndpoint = c.Endpoint + "/oidc/auth"
		}
		if c.TokenEndpoint == "" {
			c.TokenEndpoint = c.Endpoint + "/oidc/token"
		}
		if c.UserinfoEndpoint == "" {
			c.UserinfoEndpoint = c.Endpoint + "/oidc/me"
		}
		if c.JwksURI == "" {
			c.JwksURI = c.Endpoint + "/oidc/jwks"
		}
		if c.Issuer == "" {
			c.Issuer = c.Endpoint
		}
	}
	if c.Audience == "" {
		c.Audience = c.AppID
	}
	if c.RoutePrefix == "" {
		c.RoutePrefix = "/auth"
	}
	c.RoutePrefix = strings.TrimRight(c.RoutePrefix, "/")
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.JWTAlgorithm == "" {
		c.JWTAlgorithm = "HS256"
	}
	if c.AccessTokenExpireMinutes <= 0 {
		c.AccessTokenExpireMinutes = 30
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 60
	}
	if c.AuditRetentionDays <= 0 {
		c.AuditRetentionDays = 90
	}
}

// Validate reports the first missing required value.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("OIDC_ENDPOINT environment variable is required")
	}
	if c.AppID == "" {
		return fmt.Errorf("OIDC_APP_ID environment variable is required")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("OIDC_APP_SECRET environment variable is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("OIDC_REDIRECT_URI environment variable is required")
	}
	return nil
}

// Frontend returns the primary frontend origin, or "/" when none is
// configured.
func (c *Config) Frontend() string {
	if len(c.FrontendOrigins) > 0 && c.FrontendOrigins[0] != "" {
		return strings.TrimRight(c.FrontendOrigins[0], "/")
	}
	return "/"
}

// SecureCookies reports whether auth cookies must carry the Secure flag.
// The flag follows the scheme of the primary frontend origin.
func (c *Config) SecureCookies() bool {
	return len(c.FrontendOrigins) > 0 && strings.HasPrefix(c.FrontendOrigins[0], "https")
}

// TokenData is the validated identity extracted from a bearer token. Both
// validation paths (local JWT verification and the remote user-info lookup)
// converge on it.
type TokenData struct {
	Subject   string    `json:"sub"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"-"`
}

// HasRole reports whether the token carries the given role.
func (t *TokenData) HasRole(role string) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserInfo is the normalized identity document produced from the IdP's
// user-info endpoint.
type UserInfo struct {
	Subject       string   `json:"sub"`
	Name          string   `json:"name,omitempty"`
	Email         string   `json:"email,omitempty"`
	Picture       string   `json:"picture,omitempty"`
	Roles         []string `json:"roles"`
	Username      string   `json:"username,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	CreatedAt     int64    `json:"created_at,omitempty"`
	UpdatedAt     int64    `json:"updated_at,omitempty"`
}

// TokenResponse represents the token set returned to the frontend after a
// code exchange or refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// SessionResponse is the envelope returned by the session probe.
type SessionResponse struct {
	IsAuthenticated bool         `json:"isAuthenticated"`
	User            *SessionUser `json:"user"`
}

// SessionUser is the user object inside the session envelope. Every field
// is always emitted; absent profile values serialize as zero values.
type SessionUser struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Picture       string   `json:"picture"`
	Roles         []string `json:"roles"`
	Username      string   `json:"username"`
	EmailVerified bool     `json:"email_verified"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}

// OAuthError represents an OAuth error response body.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}
