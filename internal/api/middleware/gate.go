package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// PrincipalResolver loads the current role and session state of a user.
type PrincipalResolver interface {
	Principal(ctx context.Context, userID int64) (*domain.Principal, error)
}

// Gate loads the principal for the authenticated user on every request so
// broker linkage is always read fresh from the store. It must run after Auth.
func Gate(resolver PrincipalResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := UserID(c)
			if !ok {
				return domain.ErrInvalidToken
			}
			p, err := resolver.Principal(c.Request().Context(), userID)
			if err != nil {
				return err
			}
			c.Set(ContextPrincipal, p)
			return next(c)
		}
	}
}

// RequireState rejects principals that have not reached min.
func RequireState(min domain.SessionState) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return domain.ErrInvalidToken
			}
			if !p.State.AtLeast(min) {
				switch min {
				case domain.StateBrokerLinked:
					return domain.ErrBrokerNotLinked
				case domain.StateTwoFactorEnabled:
					return domain.ErrTwoFactorRequired
				default:
					return domain.ErrForbidden
				}
			}
			return next(c)
		}
	}
}

// PrincipalFrom returns the principal attached by Gate.
func PrincipalFrom(c echo.Context) (*domain.Principal, bool) {
	p, ok := c.Get(ContextPrincipal).(*domain.Principal)
	return p, ok && p != nil
}
