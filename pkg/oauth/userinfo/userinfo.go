// Package userinfo serves the authenticated user's profile. It sits behind
// the token validation middleware and proxies the identity provider's
// user-info endpoint, falling back to token claims when the provider is
// unreachable.
package userinfo

import (
	"context"
	"log"
	"net/http"

	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/validate"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// Provider fetches the user profile backing an access token.
type Provider interface {
	GetUserInfo(ctx context.Context, accessToken string) (*types.UserInfo, error)
}

type Handler struct {
	provider Provider
}

func NewHandler(provider Provider) *Handler {
	return &Handler{provider: provider}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info, err := h.provider.GetUserInfo(r.Context(), validate.GetRawToken(r))
	if err != nil {
		log.Printf("Failed to get user info, serving token claims: %v", err)

		data := validate.GetTokenData(r)
		if data == nil {
			handlerutils.JSON(w, http.StatusUnauthorized, types.OAuthError{
				Error:            "invalid_token",
				ErrorDescription: "Token is not valid",
			})
			return
		}
		info = &types.UserInfo{
			Subject: data.Subject,
			Roles:   data.Roles,
		}
	}

	handlerutils.JSON(w, http.StatusOK, info)
}
