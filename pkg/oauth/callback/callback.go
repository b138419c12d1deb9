package callback

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/srobinson/alphab-auth-gateway/pkg/audit"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// Provider is the slice of the token exchange client the callback needs.
type Provider interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*types.TokenResponse, error)
	GetUserInfo(ctx context.Context, accessToken string) (*types.UserInfo, error)
}

type Handler struct {
	provider Provider
	config   *types.Config
	sink     audit.Sink
}

func NewHandler(provider Provider, config *types.Config, sink audit.Sink) http.Handler {
	return &Handler{
		provider: provider,
		config:   config,
		sink:     sink,
	}
}

// ServeHTTP completes the authorization code flow. The browser arrives here
// from the IdP; on success it leaves with the token set in the fragment-free
// query of the frontend callback route.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	event := audit.New(r, audit.EventAuthentication)

	// The IdP reports user-facing failures (cancelled login, consent
	// denied) via the error parameter. Those go back to the frontend as a
	// redirect, not an error status.
	if errParam := query.Get("error"); errParam != "" {
		event.Success = false
		event.Details = errParam
		if desc := query.Get("error_description"); desc != "" {
			event.Details = errParam + ": " + desc
		}
		h.sink.Record(event)

		http.Redirect(w, r, h.frontendURL("")+"?error="+url.QueryEscape(errParam), http.StatusFound)
		return
	}

	code := query.Get("code")
	if code == "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Missing authorization code",
		})
		return
	}

	verifierCookie, err := r.Cookie(handlerutils.VerifierCookie)
	if err != nil || verifierCookie.Value == "" {
		handlerutils.JSON(w, http.StatusBadRequest, types.OAuthError{
			Error:            "invalid_request",
			ErrorDescription: "Missing PKCE code verifier",
		})
		return
	}

	tokenResp, err := h.provider.ExchangeCode(r.Context(), code, verifierCookie.Value)
	if err != nil {
		log.Printf("Failed to exchange authorization code: %v", err)
		event.Success = false
		event.Details = "code exchange failed"
		h.sink.Record(event)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to exchange authorization code",
		})
		return
	}

	// Resolve the subject for the audit trail. A userinfo hiccup must not
	// fail the sign-in at this point.
	if info, err := h.provider.GetUserInfo(r.Context(), tokenResp.AccessToken); err == nil {
		event.UserID = info.Subject
	} else {
		log.Printf("Failed to get user info after exchange: %v", err)
	}
	h.sink.Record(event)

	secure := h.config.SecureCookies()
	handlerutils.ClearAuthCookie(w, handlerutils.VerifierCookie, secure)

	params := url.Values{}
	params.Set("token", tokenResp.AccessToken)
	if tokenResp.RefreshToken != "" {
		params.Set("refresh_token", tokenResp.RefreshToken)
	}

	if rdCookie, err := r.Cookie(handlerutils.RedirectCookie); err == nil && rdCookie.Value != "" {
		if isValidRelativePath(rdCookie.Value) {
			params.Set("redirect", rdCookie.Value)
		} else {
			log.Printf("Ignoring invalid redirect path: %s", rdCookie.Value)
		}
		handlerutils.ClearAuthCookie(w, handlerutils.RedirectCookie, secure)
	}

	http.Redirect(w, r, fmt.Sprintf("%s?%s", h.frontendURL("/auth/callback"), params.Encode()), http.StatusFound)
}

// frontendURL joins a path onto the primary frontend origin without
// producing a protocol-relative URL when no origin is configured.
func (h *Handler) frontendURL(path string) string {
	frontend := h.config.Frontend()
	if frontend == "/" {
		if path == "" {
			return "/"
		}
		return path
	}
	return frontend + path
}

// isValidRelativePath validates that a redirect path is relative and safe.
func isValidRelativePath(path string) bool {
	// Must start with / and not be a protocol-relative URL
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return false
	}
	// No backslashes (Windows path confusion)
	if strings.Contains(path, "\\") {
		return false
	}
	return true
}
