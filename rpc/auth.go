package rpc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
)

type principalKey struct{}

var (
	errMissingToken  = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid bearer token")
	errAuthDisabled  = errors.New("authenticated endpoints are disabled")
	errBadPrincipal  = errors.New("token subject is not a valid address")
	errNoPrincipal   = errors.New("no authenticated principal in request")
	errWeakSignature = errors.New("unexpected token signing method")
)

// requireAuth verifies the HS256 bearer token and stores its subject, decoded
// as the caller's address, in the request context. Every authenticated route
// acts on behalf of that principal.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			writeError(w, http.StatusServiceUnavailable, errAuthDisabled)
			return
		}
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			writeError(w, http.StatusUnauthorized, errMissingToken)
			return
		}
		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(raw, prefix), &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errWeakSignature
			}
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, errInvalidToken)
			return
		}
		principal, err := crypto.DecodeAddress(claims.Subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, errBadPrincipal)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) (crypto.Address, error) {
	principal, ok := ctx.Value(principalKey{}).(crypto.Address)
	if !ok {
		return crypto.Address{}, errNoPrincipal
	}
	return principal, nil
}

// IssueToken signs a bearer token for the given principal. The daemon CLI and
// tests use it; the server itself never mints tokens.
func IssueToken(secret []byte, principal crypto.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principal.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
