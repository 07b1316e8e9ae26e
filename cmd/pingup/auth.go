package main

import (
	"context"
	"net/http"
	"strings"

	apperrors "pingup/internal/errors"
	"pingup/internal/httputil"
	"pingup/internal/models"
	"pingup/internal/tracing"

	"github.com/golang-jwt/jwt/v5"
)

type authContextKey string

const userIDContextKey authContextKey = "auth_user_id"

// Authenticator verifies bearer tokens issued by the identity provider.
// The token subject is the caller's user id.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg models.AuthConfig) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(opts...),
	}
}

// Verify checks the token and returns the user id it was issued to.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", apperrors.NewAuthError("token verification is not configured")
	}
	if tokenString == "" {
		return "", apperrors.NewAuthError("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		authErr := apperrors.NewAuthError("invalid bearer token")
		authErr.Cause = err
		return "", authErr
	}
	if claims.Subject == "" {
		return "", apperrors.NewAuthError("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Verify(bearerToken(r))
		if err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		ctx = apperrors.ContextWithUserID(ctx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// streamToken also accepts a token query parameter, since browser
// EventSource and WebSocket clients cannot set headers.
func streamToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDContextKey).(string)
	return userID
}
