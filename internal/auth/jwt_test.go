package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "devicesync.test"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeDeviceSync, ScopeDeviceRead},
	}
}

func TestParseAcceptsValidToken(t *testing.T) {
	claims, err := Parse(signToken(t, validClaims(), testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeDeviceSync))
	require.True(t, claims.HasScope(ScopeDeviceRead))
	require.False(t, claims.HasScope("admin"))
}

func TestParseSplitsSpaceDelimitedScopes(t *testing.T) {
	raw := validClaims()
	raw["scopes"] = "device:read  device:sync"
	claims, err := Parse(signToken(t, raw, testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Len(t, claims.Scopes, 2)
}

func TestParseRejectsBadTokens(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse(signToken(t, validClaims(), "other-secret"), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"
	_, err = Parse(signToken(t, wrongIssuer, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = Parse(signToken(t, expired, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject := validClaims()
	delete(noSubject, "sub")
	_, err = Parse(signToken(t, noSubject, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareSkipsPublicPaths(t *testing.T) {
	var reached []string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasClaims := FromContext(r.Context())
		if hasClaims {
			reached = append(reached, r.URL.Path+"+claims")
		} else {
			reached = append(reached, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := NewMiddleware(testConfig, PublicPaths).Wrap(next)

	for _, path := range []string{"/healthz", "/metrics", "/webhooks/device/activities"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/device/sync", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/device/sync", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), testConfig.Secret))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, []string{"/healthz", "/metrics", "/webhooks/device/activities", "/v1/device/sync+claims"}, reached)
}
