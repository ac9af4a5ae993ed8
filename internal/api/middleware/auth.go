package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// Context keys set by the middleware chain.
const (
	ContextUserID    = "user_id"
	ContextPrincipal = "principal"
)

// TokenVerifier resolves a bearer token to the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Auth validates the bearer token and injects the user id into context.
func Auth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return domain.ErrInvalidToken
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return domain.ErrInvalidToken
			}

			userID, err := verifier.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				return err
			}

			c.Set(ContextUserID, userID)
			return next(c)
		}
	}
}

// UserID returns the id injected by Auth.
func UserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(ContextUserID).(int64)
	return id, ok && id > 0
}
