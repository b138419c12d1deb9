// Package session implements the frontend's session probes. The three
// endpoints here always answer 200: the frontend polls them on page load
// and treats the body, not the status code, as the verdict. Auth failures
// are a normal answer, not an error.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// renewWindow is how close to expiry a token can get before the
// validate-token probe asks the frontend to refresh it.
const renewWindow = 5 * time.Minute

// Resolver validates a token and returns its claims, plus the provider
// profile when validation already fetched one.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*types.TokenData, *types.UserInfo, error)
}

type Handler struct {
	resolver Resolver
}

func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Session reports whether the caller's bearer token identifies a user.
// The user object is built from whatever the validation path produced, so
// no extra round trip to the identity provider happens here.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	token, ok := handlerutils.BearerToken(r)
	if !ok {
		handlerutils.JSON(w, http.StatusOK, types.SessionResponse{})
		return
	}

	data, info, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		handlerutils.JSON(w, http.StatusOK, types.SessionResponse{})
		return
	}

	user := &types.SessionUser{
		ID:    data.Subject,
		Roles: data.Roles,
	}
	if info != nil {
		user.Name = info.Name
		user.Email = info.Email
		user.Picture = info.Picture
		user.Username = info.Username
		user.EmailVerified = info.EmailVerified
		user.CreatedAt = info.CreatedAt
		user.UpdatedAt = info.UpdatedAt
	}

	handlerutils.JSON(w, http.StatusOK, types.SessionResponse{
		IsAuthenticated: true,
		User:            user,
	})
}

// Token echoes the caller's bearer token back as JSON. No validation
// happens here; the endpoint exists so frontend code that cannot read its
// own Authorization header can recover the token it sent.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	token, ok := handlerutils.BearerToken(r)
	if !ok {
		handlerutils.JSON(w, http.StatusOK, map[string]any{"accessToken": nil})
		return
	}
	handlerutils.JSON(w, http.StatusOK, map[string]any{"accessToken": token})
}

// ValidateToken checks the caller's token and tells the frontend whether
// to keep it, refresh it soon, or drop it. The header is parsed by hand
// because each malformation gets its own error string.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		handlerutils.JSON(w, http.StatusOK, map[string]any{"valid": false, "error": "No token provided"})
		return
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 {
		handlerutils.JSON(w, http.StatusOK, map[string]any{"valid": false, "error": "Invalid Authorization header format"})
		return
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		handlerutils.JSON(w, http.StatusOK, map[string]any{"valid": false, "error": "Invalid authorization scheme"})
		return
	}

	data, _, err := h.resolver.Resolve(r.Context(), parts[1])
	if err != nil {
		handlerutils.JSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}

	// Opaque tokens carry no expiry; they are never flagged for renewal.
	renew := !data.ExpiresAt.IsZero() && time.Until(data.ExpiresAt) < renewWindow
	handlerutils.JSON(w, http.StatusOK, map[string]any{"valid": true, "renew": renew})
}
