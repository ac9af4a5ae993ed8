package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/core/ports"
)

type BrokerHandler struct {
	service ports.SessionService
}

func NewBrokerHandler(service ports.SessionService) *BrokerHandler {
	return &BrokerHandler{service: service}
}

// Profile reports broker linkage without exposing any credential.
//
// @Summary      Broker profile
// @Tags         broker
// @Produce      json
// @Security     BearerAuth
// @Success      200   {object}  brokerProfileResponse
// @Failure      401   {object}  errorBody
// @Router       /api/broker/profile [get]
func (h *BrokerHandler) Profile(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	profile, err := h.service.BrokerProfile(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBrokerProfileResponse(profile))
}

// Connect confirms an active broker session. The route is mounted behind the
// broker-linked gate, so reaching the handler is the check.
//
// @Summary      Broker session check
// @Tags         broker
// @Produce      json
// @Security     BearerAuth
// @Success      200   {object}  brokerProfileResponse
// @Failure      403   {object}  errorBody
// @Router       /api/broker/connect [post]
func (h *BrokerHandler) Connect(c echo.Context) error {
	return h.Profile(c)
}
