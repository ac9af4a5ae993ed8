package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/api/metrics"
	"github.com/stockauth/stockauth/internal/core/ports"
)

type UserHandler struct {
	service ports.SessionService
}

func NewUserHandler(service ports.SessionService) *UserHandler {
	return &UserHandler{service: service}
}

// Me returns the authenticated user.
//
// @Summary      Current user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200   {object}  userResponse
// @Failure      401   {object}  errorBody
// @Router       /api/users/me [get]
func (h *UserHandler) Me(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	user, err := h.service.CurrentUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// UpdateMe changes profile fields. A new broker or API key drops the broker session.
//
// @Summary      Update current user
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      updateProfileRequest  true  "Fields to change"
// @Success      200   {object}  userResponse
// @Failure      409   {object}  errorBody
// @Failure      422   {object}  errorBody
// @Router       /api/users/me [put]
func (h *UserHandler) UpdateMe(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	user, err := h.service.UpdateProfile(c.Request().Context(), userID, ports.ProfileInput{
		Username:   req.Username,
		Email:      req.Email,
		BrokerName: req.BrokerName,
		APIKey:     req.APIKey,
	})
	metrics.Observe("update_profile", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

// ChangePassword replaces the platform password.
//
// @Summary      Change password
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      changePasswordRequest  true  "Current and new password"
// @Success      200   {object}  messageResponse
// @Failure      401   {object}  errorBody
// @Failure      422   {object}  errorBody
// @Router       /api/users/me/password [put]
func (h *UserHandler) ChangePassword(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	err = h.service.ChangePassword(c.Request().Context(), userID, ports.PasswordChangeInput{
		Current: req.CurrentPassword,
		Next:    req.NewPassword,
	})
	metrics.Observe("change_password", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Password updated"})
}

// Get returns any user by id. Mounted for administrators only.
//
// @Summary      Get user
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int  true  "User id"
// @Success      200   {object}  userResponse
// @Failure      403   {object}  errorBody
// @Failure      404   {object}  errorBody
// @Router       /api/admin/users/{id} [get]
func (h *UserHandler) Get(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	user, err := h.service.LookupUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}
