package signout

import (
	"context"
	"net/http"

	"github.com/srobinson/alphab-auth-gateway/pkg/audit"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

// Validator resolves a bearer token. Signout only uses it to attribute the
// audit event; every validation failure is ignored.
type Validator interface {
	Validate(ctx context.Context, token string) (*types.TokenData, error)
}

type Handler struct {
	validator Validator
	config    *types.Config
	sink      audit.Sink
}

func NewHandler(validator Validator, config *types.Config, sink audit.Sink) http.Handler {
	return &Handler{
		validator: validator,
		config:    config,
		sink:      sink,
	}
}

// ServeHTTP signs the user out locally and sends the browser back to the
// frontend. The IdP session is not terminated; the frontend drops its
// tokens and the audit trail records who left. Signout never fails.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	event := audit.New(r, audit.EventSignout)

	if token, ok := handlerutils.BearerToken(r); ok {
		if data, err := h.validator.Validate(r.Context(), token); err == nil {
			event.UserID = data.Subject
		}
	}
	h.sink.Record(event)

	secure := h.config.SecureCookies()
	handlerutils.ClearAuthCookie(w, handlerutils.VerifierCookie, secure)
	handlerutils.ClearAuthCookie(w, handlerutils.RedirectCookie, secure)

	http.Redirect(w, r, h.config.Frontend(), http.StatusSeeOther)
}
