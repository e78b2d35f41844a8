package server

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"blendrates/services/lendingd/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func jwtAuthenticator() *authenticator {
	return newAuthenticator(config.AuthConfig{
		JWT: config.JWTConfig{HMACSecret: testSecret, Issuer: "blend", Audience: "rates"},
	}, nil)
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "keeper-1",
		Issuer:    "blend",
		Audience:  jwt.ClaimStrings{"rates"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func requestWithBearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorNotConfigured(t *testing.T) {
	a := newAuthenticator(config.AuthConfig{}, nil)
	_, err := a.authenticate(requestWithBearer("anything"))
	require.ErrorIs(t, err, errAuthNotConfigured)

	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, requestWithBearer("x"))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthenticatorAPITokens(t *testing.T) {
	a := newAuthenticator(config.AuthConfig{APITokens: []string{" alpha ", ""}}, nil)

	principal, err := a.authenticate(requestWithBearer("alpha"))
	require.NoError(t, err)
	require.Equal(t, "token", principal)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-API-Token", "alpha")
	_, err = a.authenticate(req)
	require.NoError(t, err)

	_, err = a.authenticate(requestWithBearer("beta"))
	require.ErrorIs(t, err, errAuthRequired)
	_, err = a.authenticate(requestWithBearer(""))
	require.ErrorIs(t, err, errAuthRequired)
}

func TestAuthenticatorJWT(t *testing.T) {
	a := jwtAuthenticator()

	principal, err := a.authenticate(requestWithBearer(signToken(t, testSecret, validClaims())))
	require.NoError(t, err)
	require.Equal(t, "keeper-1", principal)

	cases := map[string]func() string{
		"wrong secret": func() string { return signToken(t, "another-secret-another-secret-xx", validClaims()) },
		"wrong issuer": func() string {
			c := validClaims()
			c.Issuer = "other"
			return signToken(t, testSecret, c)
		},
		"wrong audience": func() string {
			c := validClaims()
			c.Audience = jwt.ClaimStrings{"gateway"}
			return signToken(t, testSecret, c)
		},
		"expired": func() string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			return signToken(t, testSecret, c)
		},
		"no expiry": func() string {
			c := validClaims()
			c.ExpiresAt = nil
			return signToken(t, testSecret, c)
		},
		"wrong algorithm": func() string {
			token := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims())
			signed, err := token.SignedString([]byte(testSecret))
			require.NoError(t, err)
			return signed
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.authenticate(requestWithBearer(build()))
			require.ErrorIs(t, err, errAuthRequired)
		})
	}
}

func TestAuthenticatorMTLSCommonName(t *testing.T) {
	a := newAuthenticator(config.AuthConfig{MTLS: config.MTLSAuthConfig{AllowedCommonNames: []string{"keeper"}}}, nil)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: "keeper"}}}}}
	principal, err := a.authenticate(req)
	require.NoError(t, err)
	require.Equal(t, "keeper", principal)

	req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{{Subject: pkix.Name{CommonName: "intruder"}}}}}
	_, err = a.authenticate(req)
	require.ErrorIs(t, err, errAuthRequired)
}

func TestMiddlewareStoresPrincipal(t *testing.T) {
	a := newAuthenticator(config.AuthConfig{APITokens: []string{"alpha"}}, nil)
	var principal string
	rec := httptest.NewRecorder()
	a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, requestWithBearer("alpha"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "token", principal)
}

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken("  bearer   abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("Bearer"))
}
