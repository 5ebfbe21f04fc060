package api_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/payout"
)

func TestAuth_IssueAndVerify(t *testing.T) {
	auth := &api.Auth{Secret: []byte(testSecret)}

	token, err := auth.IssueToken(manager, time.Hour)
	require.NoError(t, err)

	actor, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, manager, actor)
}

func TestAuth_Rejects(t *testing.T) {
	auth := &api.Auth{Secret: []byte(testSecret)}
	sign := func(method jwt.SigningMethod, key any, claims api.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"other secret", sign(jwt.SigningMethodHS256, []byte("other"), api.Claims{Role: payout.RoleAdmin, RegisteredClaims: valid})},
		{"other algorithm", sign(jwt.SigningMethodHS512, []byte(testSecret), api.Claims{Role: payout.RoleAdmin, RegisteredClaims: valid})},
		{"unknown role", sign(jwt.SigningMethodHS256, []byte(testSecret), api.Claims{Role: "owner", RegisteredClaims: valid})},
		{"no subject", sign(jwt.SigningMethodHS256, []byte(testSecret), api.Claims{Role: payout.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: valid.ExpiresAt,
		}})},
		{"expired", sign(jwt.SigningMethodHS256, []byte(testSecret), api.Claims{Role: payout.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Verify(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestAuth_MiddlewareStoresActor(t *testing.T) {
	auth := &api.Auth{Secret: []byte(testSecret)}
	var seen payout.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = api.ActorFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	// GIVEN: A token without a display name
	token := func() string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, api.Claims{
			Role:             payout.RoleViewer,
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9"},
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return s
	}()

	// WHEN: It passes through the middleware
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware(next).ServeHTTP(rec, req)

	// THEN: The subject stands in for the name
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, payout.Actor{ID: "u-9", Name: "u-9", Role: payout.RoleViewer}, seen)

	rec = httptest.NewRecorder()
	auth.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_InjectableClock(t *testing.T) {
	issued := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	issuer := &api.Auth{Secret: []byte(testSecret), Now: func() time.Time { return issued }}
	token, err := issuer.IssueToken(admin, time.Hour)
	require.NoError(t, err)

	later := &api.Auth{Secret: []byte(testSecret), Now: func() time.Time { return issued.Add(2 * time.Hour) }}
	_, err = later.Verify(token)
	assert.Error(t, err)

	_, err = issuer.Verify(token)
	assert.NoError(t, err)
}
