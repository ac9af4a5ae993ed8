package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/api/metrics"
	"github.com/stockauth/stockauth/internal/core/ports"
)

// AuthHandler exposes the session lifecycle: registration, login,
// two-factor enrollment, broker login and logout.
type AuthHandler struct {
	service ports.SessionService
}

func NewAuthHandler(service ports.SessionService) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register creates a new user account.
//
// @Summary      Register a new user
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      registerRequest  true  "User registration details"
// @Success      201   {object}  userResponse
// @Failure      400   {object}  errorBody
// @Failure      409   {object}  errorBody
// @Failure      422   {object}  errorBody
// @Router       /api/auth/register [post]
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	user, err := h.service.Register(c.Request().Context(), ports.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		Role:       req.Role,
		BrokerName: req.BrokerName,
		APIKey:     req.APIKey,
	})
	metrics.Observe("register", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toUserResponse(user))
}

// Login authenticates a user and returns a bearer token.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Login credentials"
// @Success      200   {object}  tokenResponse
// @Failure      401   {object}  errorBody
// @Failure      422   {object}  errorBody
// @Router       /api/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	res, err := h.service.Login(c.Request().Context(), identifier, req.Password)
	metrics.Observe("login", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken: res.Token,
		TokenType:   "bearer",
		ExpiresAt:   res.ExpiresAt,
		User:        toUserResponse(&res.User),
	})
}

// SetupTwoFactor generates a TOTP seed pending verification.
//
// @Summary      Begin two-factor setup
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200   {object}  twoFactorSetupResponse
// @Failure      401   {object}  errorBody
// @Failure      409   {object}  errorBody
// @Router       /api/auth/setup-2fa [post]
func (h *AuthHandler) SetupTwoFactor(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	setup, err := h.service.BeginTwoFactorSetup(c.Request().Context(), userID)
	metrics.Observe("setup_2fa", err)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, twoFactorSetupResponse{
		Secret:          setup.Seed,
		QRCode:          setup.QRCode,
		ProvisioningURI: setup.URL,
		Message:         "Scan the QR code with your authenticator app, then verify with a code",
	})
}

// VerifyTwoFactor enables two-factor authentication.
//
// @Summary      Verify two-factor setup
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      totpCodeRequest  true  "Current authenticator code"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  errorBody
// @Failure      403   {object}  errorBody
// @Failure      409   {object}  errorBody
// @Router       /api/auth/verify-2fa [post]
func (h *AuthHandler) VerifyTwoFactor(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req totpCodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	err = h.service.VerifyTwoFactorSetup(c.Request().Context(), userID, req.Code)
	metrics.Observe("verify_2fa", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Two-factor authentication enabled"})
}

// DisableTwoFactor turns two-factor authentication off.
//
// @Summary      Disable two-factor authentication
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      totpCodeRequest  true  "Current authenticator code"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  errorBody
// @Failure      409   {object}  errorBody
// @Router       /api/auth/disable-2fa [post]
func (h *AuthHandler) DisableTwoFactor(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req totpCodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	err = h.service.DisableTwoFactor(c.Request().Context(), userID, req.Code)
	metrics.Observe("disable_2fa", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Two-factor authentication disabled"})
}

// BrokerLogin links the user's brokerage session.
//
// @Summary      Broker login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      brokerLoginRequest  true  "Broker credentials and authenticator code"
// @Success      200   {object}  brokerLoginResponse
// @Failure      400   {object}  errorBody
// @Failure      401   {object}  errorBody
// @Failure      403   {object}  errorBody
// @Failure      502   {object}  errorBody
// @Failure      504   {object}  errorBody
// @Router       /api/auth/broker-login [post]
func (h *AuthHandler) BrokerLogin(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req brokerLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	// the service checks 2FA state before validating the credentials
	profile, err := h.service.BrokerLogin(c.Request().Context(), userID, ports.BrokerLoginInput{
		ClientID:   req.ClientID,
		PIN:        req.PIN,
		TOTPCode:   req.TOTPCode,
		BrokerTOTP: req.BrokerTOTP,
	})
	metrics.Observe("broker_login", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, brokerLoginResponse{
		Message: "Broker login successful",
		Profile: toBrokerProfileResponse(profile),
	})
}

// Logout clears the broker session.
//
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200   {object}  messageResponse
// @Failure      401   {object}  errorBody
// @Router       /api/auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	err = h.service.Logout(c.Request().Context(), userID)
	metrics.Observe("logout", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
