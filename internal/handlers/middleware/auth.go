package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/walletapi/internal/handlers/render"
	"github.com/nkiryanov/walletapi/internal/handlers/userctx"
)

type authService interface {
	// Return id of authenticated user or error
	Auth(ctx context.Context, r *http.Request) (string, error)
}

func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := as.Auth(r.Context(), r)
			if err != nil {
				render.Error(w, render.CodeUnauthorized, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
