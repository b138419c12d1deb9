package validate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srobinson/alphab-auth-gateway/pkg/types"
)

type stubValidator struct {
	data     *types.TokenData
	err      error
	gotToken string
	calls    int
}

func (s *stubValidator) Validate(_ context.Context, token string) (*types.TokenData, error) {
	s.calls++
	s.gotToken = token
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func TestMissingAuthorizationHeader(t *testing.T) {
	stub := &stubValidator{}
	validator := NewTokenValidator(stub)

	handler := validator.WithTokenValidation(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
	assert.Equal(t, 0, stub.calls)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "invalid_token", body["error"])
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	stub := &stubValidator{}
	validator := NewTokenValidator(stub)

	handler := validator.WithTokenValidation(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a malformed header")
	})

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, stub.calls)
}

func TestInvalidTokenRejected(t *testing.T) {
	stub := &stubValidator{err: errors.New("bad signature")}
	validator := NewTokenValidator(stub)

	handler := validator.WithTokenValidation(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with an invalid token")
	})

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	handler(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "bad-token", stub.gotToken)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Invalid or expired token")
}

func TestValidTokenReachesHandler(t *testing.T) {
	stub := &stubValidator{data: &types.TokenData{
		Subject:   "user-42",
		Roles:     []string{"admin"},
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	validator := NewTokenValidator(stub)

	var seen *types.TokenData
	var rawToken string
	handler := validator.WithTokenValidation(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTokenData(r)
		rawToken = GetRawToken(r)
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	r.Header.Set("Authorization", "bearer tok-123")
	w := httptest.NewRecorder()
	handler(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-42", seen.Subject)
	assert.Equal(t, "tok-123", rawToken)
	assert.Equal(t, 1, stub.calls)
}

func TestRequireRole(t *testing.T) {
	stub := &stubValidator{data: &types.TokenData{
		Subject: "user-42",
		Roles:   []string{"user"},
	}}
	validator := NewTokenValidator(stub)

	t.Run("role present", func(t *testing.T) {
		handler := validator.RequireRole("user", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		r := httptest.NewRequest(http.MethodGet, "/auth/admin", nil)
		r.Header.Set("Authorization", "Bearer tok-123")
		w := httptest.NewRecorder()
		handler(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("role missing", func(t *testing.T) {
		handler := validator.RequireRole("admin", func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run without the role")
		})

		r := httptest.NewRequest(http.MethodGet, "/auth/admin", nil)
		r.Header.Set("Authorization", "Bearer tok-123")
		w := httptest.NewRecorder()
		handler(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "insufficient_scope", body["error"])
	})
}

func TestGetTokenDataOutsideMiddleware(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)

	assert.Nil(t, GetTokenData(r))
	assert.Empty(t, GetRawToken(r))
}
