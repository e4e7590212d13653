// internal/middleware/jwt.go
package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"social-sync/internal/auth"
)

// Auth validates the bearer token and stores the identity in the request
// context. Requests without a valid token are rejected with 401.
//
// Browsers cannot set headers on a WebSocket handshake, so a token in the
// "token" query parameter is accepted as well.
func Auth(tokens *auth.Tokens, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateToken(tokenString)
			if err != nil {
				if logger != nil {
					logger.Debug("rejected token", zap.Error(err))
				}
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithIdentity(r.Context(), claims.Identity())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", false
		}
		return strings.TrimPrefix(authHeader, "Bearer "), true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
