package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// clockSkewLeeway absorbs small clock drift between the gateway and the
// identity provider when checking time-based claims.
const clockSkewLeeway = 30 * time.Second

// idpSigningAlgorithms are the asymmetric algorithms accepted for tokens
// issued by the identity provider. Symmetric algorithms are rejected so a
// token signed with a leaked public key can never pass.
var idpSigningAlgorithms = []string{
	jwt.SigningMethodRS256.Alg(),
	jwt.SigningMethodRS384.Alg(),
	jwt.SigningMethodRS512.Alg(),
	jwt.SigningMethodES256.Alg(),
	jwt.SigningMethodES384.Alg(),
	jwt.SigningMethodES512.Alg(),
}

// ValidationError reports why a bearer token was rejected. The underlying
// cause is preserved so callers can distinguish signature failures from key
// set or user-info outages.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("token validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// KeySource resolves identity provider signing keys by key ID.
type KeySource interface {
	KeyByID(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// UserInfoSource resolves an access token into the identity it belongs to
// by asking the identity provider.
type UserInfoSource interface {
	GetUserInfo(ctx context.Context, accessToken string) (*types.UserInfo, error)
}

// Manager validates bearer tokens issued by the identity provider and mints
// short-lived local tokens for service-to-service use.
type Manager struct {
	keys     KeySource
	userinfo UserInfoSource
	issuer   string
	audience string

	signingSecret []byte
	signingMethod jwt.SigningMethod
	tokenLifetime time.Duration
}

func NewManager(config *types.Config, keys KeySource, userinfo UserInfoSource) *Manager {
	return &Manager{
		keys:          keys,
		userinfo:      userinfo,
		issuer:        config.Issuer,
		audience:      config.Audience,
		signingSecret: []byte(config.JWTSecretKey),
		signingMethod: signingMethod(config.JWTAlgorithm),
		tokenLifetime: time.Duration(config.AccessTokenExpireMinutes) * time.Minute,
	}
}

// Validate checks a bearer token and extracts the identity it carries.
// Tokens with three dot-separated segments are verified locally as JWTs
// against the provider's published signing keys; anything else is treated
// as an opaque token and resolved through the user-info endpoint. The two
// paths never fall through to each other, so a JWT with a bad signature
// fails without a remote call.
func (m *Manager) Validate(ctx context.Context, token string) (*types.TokenData, error) {
	data, _, err := m.Resolve(ctx, token)
	return data, err
}

// Resolve validates like Validate and additionally returns the profile
// document when the validation path produced one. Opaque tokens resolve
// through user-info and carry the full profile; JWTs carry only claims,
// so their profile is nil.
func (m *Manager) Resolve(ctx context.Context, token string) (*types.TokenData, *types.UserInfo, error) {
	if token == "" {
		return nil, nil, &ValidationError{Err: errors.New("empty token")}
	}
	if len(strings.Split(token, ".")) == 3 {
		data, err := m.validateJWT(ctx, token)
		return data, nil, err
	}
	return m.resolveOpaque(ctx, token)
}

func (m *Manager) validateJWT(ctx context.Context, tokenString string) (*types.TokenData, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(idpSigningAlgorithms),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkewLeeway),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, err := m.keys.KeyByID(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.Key, nil
	})
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	return tokenDataFromClaims(claims)
}

func (m *Manager) resolveOpaque(ctx context.Context, token string) (*types.TokenData, *types.UserInfo, error) {
	info, err := m.userinfo.GetUserInfo(ctx, token)
	if err != nil {
		return nil, nil, &ValidationError{Err: err}
	}
	data := &types.TokenData{
		Subject: info.Subject,
		Roles:   dedupeRoles(info.Roles),
	}
	return data, info, nil
}

// Mint issues a locally signed token for the given subject. Minted tokens
// are for calls between internal services; the browser-facing flows only
// ever see provider-issued tokens.
func (m *Manager) Mint(subject string, roles []string) (string, error) {
	if len(m.signingSecret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(m.tokenLifetime).Unix(),
	}
	return jwt.NewWithClaims(m.signingMethod, claims).SignedString(m.signingSecret)
}

// VerifyMinted checks a token produced by Mint. Provider-issued tokens do
// not pass here and minted tokens do not pass Validate; the two signing
// domains never overlap.
func (m *Manager) VerifyMinted(tokenString string) (*types.TokenData, error) {
	if len(m.signingSecret) == 0 {
		return nil, &ValidationError{Err: errors.New("no signing secret configured")}
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkewLeeway),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.signingSecret, nil
	})
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	return tokenDataFromClaims(claims)
}

func tokenDataFromClaims(claims jwt.MapClaims) (*types.TokenData, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, &ValidationError{Err: errors.New("missing sub claim")}
	}

	data := &types.TokenData{
		Subject: sub,
		Roles:   rolesFromClaims(claims),
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		data.ExpiresAt = exp.Time
	}
	return data, nil
}

func rolesFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["roles"].([]any)
	if !ok {
		return []string{}
	}
	roles := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			roles = append(roles, s)
		}
	}
	return dedupeRoles(roles)
}

func dedupeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, role := range roles {
		if seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}

func signingMethod(alg string) jwt.SigningMethod {
	switch alg {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}
