package handler

import (
	"time"

	"github.com/stockauth/stockauth/internal/core/ports"
)

// --- Requests ---

type registerRequest struct {
	Username   string `json:"username" example:"alice"`
	Email      string `json:"email" example:"alice@example.com"`
	Password   string `json:"password" example:"s3cret-pass"`
	Role       string `json:"role,omitempty" enums:"user,broker"`
	BrokerName string `json:"broker_name,omitempty" enums:"angel"`
	APIKey     string `json:"api_key"`
}

// loginRequest accepts the username, or the email in its place.
type loginRequest struct {
	Username string `json:"username" example:"alice"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password" validate:"required"`
}

type totpCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric" example:"123456"`
}

type brokerLoginRequest struct {
	ClientID   string `json:"client_id" validate:"required" example:"A123456"`
	PIN        string `json:"pin" validate:"required"`
	TOTPCode   string `json:"totp_code" validate:"required,len=6,numeric" example:"123456"`
	BrokerTOTP string `json:"broker_totp,omitempty" validate:"omitempty,len=6,numeric"`
}

type updateProfileRequest struct {
	Username   *string `json:"username,omitempty"`
	Email      *string `json:"email,omitempty"`
	BrokerName *string `json:"broker_name,omitempty" enums:"angel"`
	APIKey     *string `json:"api_key,omitempty"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// --- Responses ---

type userResponse struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	IsActive         bool      `json:"is_active"`
	BrokerName       string    `json:"broker_name"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type" example:"bearer"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
}

type twoFactorSetupResponse struct {
	Secret          string `json:"secret"`
	QRCode          string `json:"qr_code"`
	ProvisioningURI string `json:"provisioning_uri"`
	Message         string `json:"message"`
}

type brokerProfileResponse struct {
	BrokerName          string `json:"broker_name"`
	ClientID            string `json:"client_id,omitempty"`
	HasAPIKey           bool   `json:"has_api_key"`
	HasAccessToken      bool   `json:"has_access_token"`
	HasFeedToken        bool   `json:"has_feed_token"`
	TwoFactorEnabled    bool   `json:"two_factor_enabled"`
	BrokerSessionActive bool   `json:"broker_session_active"`
}

type brokerLoginResponse struct {
	Message string                `json:"message"`
	Profile brokerProfileResponse `json:"profile"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// errorBody documents the error envelope for swag.
type errorBody struct {
	Error   string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
}

func toUserResponse(u *ports.UserSummary) userResponse {
	return userResponse{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Role:             u.Role,
		IsActive:         u.Active,
		BrokerName:       u.BrokerName,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

func toBrokerProfileResponse(p *ports.BrokerProfile) brokerProfileResponse {
	return brokerProfileResponse{
		BrokerName:          p.BrokerName,
		ClientID:            p.ClientID,
		HasAPIKey:           p.HasAPIKey,
		HasAccessToken:      p.HasAccessToken,
		HasFeedToken:        p.HasFeedToken,
		TwoFactorEnabled:    p.TwoFactorEnabled,
		BrokerSessionActive: p.BrokerSessionActive,
	}
}
