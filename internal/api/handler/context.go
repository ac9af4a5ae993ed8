package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/api/middleware"
	"github.com/stockauth/stockauth/internal/core/domain"
)

// currentUserID returns the id resolved by the Auth middleware. A missing id
// means the route was mounted without it.
func currentUserID(c echo.Context) (int64, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return 0, domain.ErrInvalidToken
	}
	return id, nil
}

// bind decodes the request body and runs the registered validator.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	return c.Validate(req)
}
