package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/edlab/edlab/internal/service"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	claimsKey contextKey = "claims"
	phoneKey  contextKey = "phone"
)

type AuthMiddleware struct {
	jwtService *service.JWTService
	logger     *logrus.Logger
}

func NewAuthMiddleware(jwtService *service.JWTService, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger,
	}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization header format")
			return
		}

		claims, err := m.jwtService.VerifyTokenType(parts[1], service.TokenTypeAccess)
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, phoneKey, claims.Phone)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok
}

func PhoneFromContext(ctx context.Context) (string, bool) {
	phone, ok := ctx.Value(phoneKey).(string)
	return phone, ok && phone != ""
}
