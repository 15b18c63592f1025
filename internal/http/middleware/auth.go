package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

func ClaimsFromContext(ctx context.Context) (*auth.AccessClaims, bool) {
	val, ok := ctx.Value(claimsKey).(*auth.AccessClaims)
	return val, ok && val != nil
}

// CustomerIDFromContext is set only for customer tokens.
func CustomerIDFromContext(ctx context.Context) (int64, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.IsAdmin {
		return 0, false
	}
	return claims.CustomerID, true
}

// ActorFromContext is the id recorded on admin decisions.
func ActorFromContext(ctx context.Context) (int64, bool) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok || !claims.IsAdmin {
		return 0, false
	}
	return claims.ActorID(), true
}

// WithClaims stores claims on ctx. Tests use it to skip token signing.
func WithClaims(ctx context.Context, claims *auth.AccessClaims) context.Context {
	if claims != nil {
		if claims.IsAdmin {
			recordIdentity(ctx, 0, claims.ActorID())
		} else {
			recordIdentity(ctx, claims.CustomerID, 0)
		}
	}
	return context.WithValue(ctx, claimsKey, claims)
}

func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid Authorization")
				return
			}
			claims, err := auth.ParseAccessToken(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// CustomerOnly rejects admin tokens on customer routes.
func CustomerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CustomerIDFromContext(r.Context()); !ok {
			writeError(w, http.StatusForbidden, "customer token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminOnly requires an admin token whose actor is still on the allow-list.
func AdminOnly(allowed map[int64]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusForbidden, "admin token required")
				return
			}
			if _, listed := allowed[actor]; !listed {
				writeError(w, http.StatusForbidden, "admin access revoked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
