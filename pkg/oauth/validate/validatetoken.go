package validate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// Validator resolves a bearer token into the identity it carries.
type Validator interface {
	Validate(ctx context.Context, token string) (*types.TokenData, error)
}

type TokenValidator struct {
	manager Validator
}

func NewTokenValidator(manager Validator) *TokenValidator {
	return &TokenValidator{manager: manager}
}

// WithTokenValidation rejects requests without a valid bearer token and
// exposes the validated identity to downstream handlers via the request
// context.
func (v *TokenValidator) WithTokenValidation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := handlerutils.BearerToken(r)
		if !ok {
			unauthorized(w, "Missing or malformed Authorization header")
			return
		}

		data, err := v.manager.Validate(r.Context(), token)
		if err != nil {
			unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), tokenDataKey{}, data)
		ctx = context.WithValue(ctx, rawTokenKey{}, token)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole validates the bearer token and additionally requires the
// given role on it.
func (v *TokenValidator) RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return v.WithTokenValidation(func(w http.ResponseWriter, r *http.Request) {
		data := GetTokenData(r)
		if data == nil || !data.HasRole(role) {
			handlerutils.JSON(w, http.StatusForbidden, map[string]string{
				"error":             "insufficient_scope",
				"error_description": fmt.Sprintf("Requires role %q", role),
			})
			return
		}
		next(w, r)
	})
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="invalid_token", error_description=%q`, description))
	handlerutils.JSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": description,
	})
}

// GetTokenData returns the identity stored by WithTokenValidation, or nil
// when the request did not pass through it.
func GetTokenData(r *http.Request) *types.TokenData {
	data, _ := r.Context().Value(tokenDataKey{}).(*types.TokenData)
	return data
}

// GetRawToken returns the bearer token stored by WithTokenValidation.
func GetRawToken(r *http.Request) string {
	token, _ := r.Context().Value(rawTokenKey{}).(string)
	return token
}

type (
	tokenDataKey struct{}
	rawTokenKey  struct{}
)
