package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/gorilla/mux"
)

type contextKey int

const (
	principalKey contextKey = iota
	requestIDKey
)

// PrincipalResolver turns a bearer token into the acting principal
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, token string) (models.Principal, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores the
// resolved principal in the request context
func AuthMiddleware(resolver PrincipalResolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				unauthorized(w, "Authentication required")
				return
			}

			p, err := resolver.ResolvePrincipal(r.Context(), strings.TrimSpace(token))
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal stored by AuthMiddleware
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
