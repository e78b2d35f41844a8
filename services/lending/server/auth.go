package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"blendrates/services/lendingd/config"
)

const jwtLeeway = 2 * time.Minute

var (
	errAuthNotConfigured = errors.New("authentication is not configured")
	errAuthRequired      = errors.New("authentication required")
)

type principalKey struct{}

// PrincipalFromContext returns the identity that authenticated the request:
// "token", the JWT subject, or the client certificate common name.
func PrincipalFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(principalKey{}).(string)
	return value
}

type authenticator struct {
	logger      *slog.Logger
	tokens      map[string]struct{}
	commonNames map[string]struct{}
	secret      []byte
	parser      *jwt.Parser
}

func newAuthenticator(cfg config.AuthConfig, logger *slog.Logger) *authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &authenticator{
		logger:      logger,
		tokens:      toSet(cfg.APITokens),
		commonNames: toSet(cfg.MTLS.AllowedCommonNames),
	}
	if secret := strings.TrimSpace(cfg.JWT.HMACSecret); secret != "" {
		a.secret = []byte(secret)
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(jwtLeeway),
			jwt.WithExpirationRequired(),
		}
		if issuer := strings.TrimSpace(cfg.JWT.Issuer); issuer != "" {
			opts = append(opts, jwt.WithIssuer(issuer))
		}
		if audience := strings.TrimSpace(cfg.JWT.Audience); audience != "" {
			opts = append(opts, jwt.WithAudience(audience))
		}
		a.parser = jwt.NewParser(opts...)
	}
	return a
}

// Middleware rejects requests that present none of the configured
// credentials.
func (a *authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticate(r)
		if err != nil {
			status := http.StatusUnauthorized
			code := "unauthenticated"
			if errors.Is(err, errAuthNotConfigured) {
				status = http.StatusForbidden
				code = "forbidden"
			}
			writeJSON(w, status, map[string]string{
				"error":      err.Error(),
				"code":       code,
				"request_id": RequestIDFromContext(r.Context()),
			})
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *authenticator) authenticate(r *http.Request) (string, error) {
	if a == nil || (len(a.tokens) == 0 && a.parser == nil && len(a.commonNames) == 0) {
		return "", errAuthNotConfigured
	}
	if token := strings.TrimSpace(r.Header.Get("X-API-Token")); token != "" {
		if _, ok := a.tokens[token]; ok {
			return "token", nil
		}
	}
	if bearer := parseBearerToken(r.Header.Get("Authorization")); bearer != "" {
		if _, ok := a.tokens[bearer]; ok {
			return "token", nil
		}
		if a.parser != nil {
			subject, err := a.verifyJWT(bearer)
			if err == nil {
				return subject, nil
			}
			a.logger.Debug("jwt rejected", slog.Any("error", err))
		}
	}
	if name, ok := a.clientCommonName(r); ok {
		return name, nil
	}
	return "", errAuthRequired
}

func (a *authenticator) verifyJWT(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	if claims.Subject == "" {
		return "jwt", nil
	}
	return claims.Subject, nil
}

func (a *authenticator) clientCommonName(r *http.Request) (string, bool) {
	if len(a.commonNames) == 0 || r.TLS == nil {
		return "", false
	}
	for _, chain := range r.TLS.VerifiedChains {
		if len(chain) == 0 {
			continue
		}
		name := chain[0].Subject.CommonName
		if _, ok := a.commonNames[name]; ok {
			return name, true
		}
	}
	return "", false
}

func parseBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
