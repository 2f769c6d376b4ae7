package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func protectedHandler(captured *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = *r
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthValidToken(t *testing.T) {
	var seen http.Request
	handler := Auth(AuthConfig{Enabled: true, Secret: testSecret})(protectedHandler(&seen))

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "user-42",
		"zones": []string{"tulum", "merida"},
		"roles": []string{"agent"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries/resolve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	ctx := seen.Context()
	assert.Equal(t, "user-42", UserFromContext(ctx))
	assert.Equal(t, []string{"tulum", "merida"}, ZonesFromContext(ctx))
	assert.True(t, ZoneAllowed(ctx, "tulum"))
	assert.True(t, ZoneAllowed(ctx, "Tulum"), "zone comparison is case-insensitive")
	assert.False(t, ZoneAllowed(ctx, "cancun"))
}

func TestAuthRejections(t *testing.T) {
	handler := Auth(AuthConfig{Enabled: true, Secret: testSecret})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}),
	)

	expired := signToken(t, testSecret, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noSubject := signToken(t, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "malformed header", header: "Token abc"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "expired token", header: "Bearer " + expired},
		{name: "wrong signing key", header: "Bearer " + wrongKey},
		{name: "missing subject", header: "Bearer " + noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthIssuerCheck(t *testing.T) {
	handler := Auth(AuthConfig{Enabled: true, Secret: testSecret, Issuer: "altaterra"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	good := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u", "iss": "altaterra", "exp": time.Now().Add(time.Hour).Unix(),
	})
	bad := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+good)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDisabledBypass(t *testing.T) {
	var seen http.Request
	handler := Auth(AuthConfig{Enabled: false})(protectedHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "local-tester")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	ctx := seen.Context()
	assert.Equal(t, "local-tester", UserFromContext(ctx))
	assert.True(t, ZoneAllowed(ctx, "anything"), "dev mode permits every zone")
	assert.True(t, HasRole(ctx, "admin"))
}
