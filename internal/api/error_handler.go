package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps the domain error taxonomy to HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := resolveError(err, log, c)
		if code == http.StatusUnauthorized && body.Code == "" {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, errorResponse) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorResponse{Error: fmt.Sprintf("%v", he.Message)}
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: ve.Fields}
	}

	var be *domain.BrokerAuthError
	if errors.As(err, &be) {
		return http.StatusUnauthorized, errorResponse{
			Error:   "broker authentication failed",
			Code:    "broker_auth",
			Details: be.Details,
		}
	}

	// Sentinel messages are written for clients; wrapped detail is not.
	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrForbidden):
		return statusFor(err), errorResponse{Error: publicMessage(err)}
	case errors.Is(err, domain.ErrInvalidCode):
		return http.StatusBadRequest, errorResponse{Error: domain.ErrInvalidCode.Error()}
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, errorResponse{Error: domain.ErrUserNotFound.Error()}
	case errors.Is(err, domain.ErrBrokerTimeout):
		return http.StatusGatewayTimeout, errorResponse{Error: domain.ErrBrokerTimeout.Error()}
	case errors.Is(err, domain.ErrBrokerUpstream):
		log.Warn().Err(err).Str("path", c.Path()).Msg("broker upstream failure")
		return http.StatusBadGateway, errorResponse{Error: domain.ErrBrokerUpstream.Error()}
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusForbidden
	}
}

// publicMessages are the client-facing texts of every exported sentinel.
var publicMessages = []error{
	domain.ErrInvalidCredentials,
	domain.ErrInvalidToken,
	domain.ErrTokenExpired,
	domain.ErrUserExists,
	domain.ErrTwoFactorEnabled,
	domain.ErrTwoFactorDisabled,
	domain.ErrEnrollmentChanged,
	domain.ErrTwoFactorNotStarted,
	domain.ErrTwoFactorRequired,
	domain.ErrBrokerNotLinked,
	domain.ErrAPIKeyMissing,
	domain.ErrSecretUnavailable,
}

func publicMessage(err error) string {
	for _, known := range publicMessages {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrConflict):
		return domain.ErrConflict.Error()
	default:
		return domain.ErrForbidden.Error()
	}
}
