// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/atinyakov/accounts/internal/token"
	"go.uber.org/zap"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// TokenVerifier parses session tokens.
type TokenVerifier interface {
	Verify(token string) (*token.Claims, error)
}

// RevocationChecker reports whether a token ID was revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// BearerAuth rejects requests without a valid "Authorization: Bearer" token.
//
// On success the token's claims are stored in the request context and can be
// read with ClaimsFromContext. If the revocation list cannot be reached the
// token is accepted and the failure is logged.
func BearerAuth(verifier TokenVerifier, revocations RevocationChecker, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Unauthorized")
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				unauthorized(w, "Invalid token")
				return
			}

			revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				log.Warn("revocation check failed", zap.String("username", claims.Username), zap.Error(err))
			}
			if revoked {
				unauthorized(w, "Invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// ClaimsFromContext returns the claims stored by BearerAuth, or nil.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsKey).(*token.Claims)
	return claims
}
