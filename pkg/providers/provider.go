package providers

import (
	"context"
	"fmt"

	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// Provider is the IdP-facing client the auth flow handlers depend on.
type Provider interface {
	// AuthCodeURL returns the IdP authorization URL for a PKCE challenge.
	AuthCodeURL(codeChallenge string) string

	// ExchangeCode exchanges an authorization code plus its PKCE verifier
	// for a token set.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*types.TokenResponse, error)

	// RefreshToken obtains a fresh token set from a refresh token.
	RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error)

	// GetUserInfo fetches and normalizes the identity document for an
	// access token.
	GetUserInfo(ctx context.Context, accessToken string) (*types.UserInfo, error)
}

// TransportError reports a network-level failure talking to the IdP, as
// opposed to an error response the IdP actually sent.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExchangeError reports a non-success response from the IdP token endpoint.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
}

// UserInfoError reports a failed or unusable user-info response.
type UserInfoError struct {
	StatusCode int
	Reason     string
}

func (e *UserInfoError) Error() string {
	return fmt.Sprintf("userinfo request failed (%d): %s", e.StatusCode, e.Reason)
}
