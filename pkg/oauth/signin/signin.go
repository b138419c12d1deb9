package signin

import (
	"log"
	"net/http"

	"github.com/srobinson/alphab-auth-gateway/pkg/audit"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/pkce"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// cookieMaxAge bounds how long a pending sign-in stays resumable. The
// verifier is useless after the IdP round trip either way.
const cookieMaxAge = 600

// Provider builds the IdP authorization URL for a sign-in.
type Provider interface {
	AuthCodeURL(codeChallenge string) string
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

// ServeHTTP starts the authorization code flow: it generates a PKCE pair,
// parks the verifier in a short-lived cookie and redirects the browser to
// the IdP with the challenge.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event := audit.New(r, audit.EventSigninInitiation)

	pair, err := pkce.NewPair()
	if err != nil {
		log.Printf("Failed to generate PKCE pair: %v", err)
		event.Success = false
		event.Details = err.Error()
		h.sink.Record(event)
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            "server_error",
			ErrorDescription: "Failed to initiate sign-in",
		})
		return
	}

	secure := h.config.SecureCookies()
	handlerutils.SetAuthCookie(w, handlerutils.VerifierCookie, pair.Verifier, cookieMaxAge, secure)

	// An optional relative path the frontend wants to land on after the
	// callback. Validated on use, not here.
	if redirect := r.URL.Query().Get("redirectUri"); redirect != "" {
		handlerutils.SetAuthCookie(w, handlerutils.RedirectCookie, redirect, cookieMaxAge, secure)
	}

	h.sink.Record(event)
	http.Redirect(w, r, h.provider.AuthCodeURL(pair.Challenge), http.StatusFound)
}
