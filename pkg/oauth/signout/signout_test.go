package signout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srobinson/alphab-auth-gateway/pkg/audit"
	"github.com/srobinson/alphab-auth-gateway/pkg/handlerutils"
	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

type stubValidator struct {
	data *types.TokenData
	err  error
}

func (s *stubValidator) Validate(_ context.Context, _ string) (*types.TokenData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type captureSink struct {
	events []*audit.Event
}

func (c *captureSink) Record(event *audit.Event) {
	c.events = append(c.events, event)
}

func testConfig() *types.Config {
	config := &types.Config{
		Endpoint:        "https://idp.example.com",
		AppID:           "app-123",
		FrontendOrigins: []string{"https://app.example.com"},
	}
	config.Derive()
	return config
}

func TestSignoutWithValidToken(t *testing.T) {
	sink := &captureSink{}
	handler := NewHandler(&stubValidator{data: &types.TokenData{Subject: "user-42"}}, testConfig(), sink)

	r := httptest.NewRequest(http.MethodGet, "/auth/signout", nil)
	r.Header.Set("Authorization", "Bearer tok-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Location"))

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.EventSignout, sink.events[0].EventType)
	assert.True(t, sink.events[0].Success)
	assert.Equal(t, "user-42", sink.events[0].UserID)
}

func TestSignoutWithInvalidToken(t *testing.T) {
	sink := &captureSink{}
	handler := NewHandler(&stubValidator{err: errors.New("expired")}, testConfig(), sink)

	r := httptest.NewRequest(http.MethodGet, "/auth/signout", nil)
	r.Header.Set("Authorization", "Bearer expired-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	// Signout succeeds regardless; the event just has no subject.
	assert.Equal(t, http.StatusSeeOther, w.Code)
	require.Len(t, sink.events, 1)
	assert.True(t, sink.events[0].Success)
	assert.Empty(t, sink.events[0].UserID)
}

func TestSignoutWithoutToken(t *testing.T) {
	sink := &captureSink{}
	handler := NewHandler(&stubValidator{}, testConfig(), sink)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/signout", nil))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	require.Len(t, sink.events, 1)
	assert.True(t, sink.events[0].Success)
}

func TestSignoutClearsFlowCookies(t *testing.T) {
	handler := NewHandler(&stubValidator{}, testConfig(), &captureSink{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/signout", nil))

	cleared := make(map[string]bool)
	for _, cookie := range w.Result().Cookies() {
		if cookie.MaxAge < 0 {
			cleared[cookie.Name] = true
		}
	}
	assert.True(t, cleared[handlerutils.VerifierCookie])
	assert.True(t, cleared[handlerutils.RedirectCookie])
}
