package refresh

import (
	"context"
	"log"
	"net/http"

	"github.com/srobinson/alphab-auth-gateway/pkg/audit"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/oauth/validate"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// RefreshTokenHeader carries the refresh token on refresh requests. The
// access token rides the Authorization header as usual.
const RefreshTokenHeader = "X-Refresh-Token"

// Provider is the slice of the token exchange client the refresh needs.
type Provider interface {
	RefreshToken(ctx context.Context, refreshToken string) (*types.TokenResponse, error)
}

type Handler struct {
	provider Provider
	sink     audit.Sink
}

func NewHandler(provider Provider, sink audit.Sink) http.Handler {
	return &Handler{
		provider: provider,
		sink:     sink,
	}
}

// ServeHTTP trades a refresh token for a fresh token set. The route runs
// behind the validation middleware, so the caller is already authenticated;
// the refresh token itself is rejected here before any network call when
// absent.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event := audit.New(r, audit.EventTokenRefresh)
	if data := validate.GetTokenData(r); data != nil {
		event.UserID = data.Subject
	}

	refreshToken := r.Header.Get(RefreshTokenHeader)
	if refreshToken == "" {
		event.Success = false
		event.Details = "missing refresh token"
		h.sink.Record(event)
		handlerutils.JSON(w, http.StatusUnauthorized, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Missing refresh token",
		})
		return
	}

	tokenResp, err := h.provider.RefreshToken(r.Context(), refreshToken)
	if err != nil {
		log.Printf("Failed to refresh token: %v", err)
		event.Success = false
		event.Details = "refresh failed"
		h.sink.Record(event)
		handlerutils.JSON(w, http.StatusUnauthorized, types.OAuthError{
			Error:            "invalid_grant",
			ErrorDescription: "Failed to refresh token",
		})
		return
	}

	h.sink.Record(event)
	handlerutils.JSON(w, http.StatusOK, tokenResp)
}
