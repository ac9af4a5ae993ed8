package ports

import (
	"context"
	"time"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// RegisterInput is the registration request as seen by the session service.
type RegisterInput struct {
	Username   string `validate:"required,min=3,max=50,username"`
	Email      string `validate:"required,email,max=100"`
	Password   string `validate:"required,min=8,max=72"`
	Role       string `validate:"omitempty,oneof=user broker"`
	BrokerName string `validate:"omitempty,oneof=angel"`
	APIKey     string `validate:"required,max=256"`
}

// ProfileInput carries optional profile changes.
type ProfileInput struct {
	Username   *string `validate:"omitempty,min=3,max=50,username"`
	Email      *string `validate:"omitempty,email,max=100"`
	BrokerName *string `validate:"omitempty,oneof=angel"`
	APIKey     *string `validate:"omitempty,min=1,max=256"`
}

// PasswordChangeInput replaces the platform password.
type PasswordChangeInput struct {
	Current string `validate:"required"`
	Next    string `validate:"required,min=8,max=72"`
}

// BrokerLoginInput carries the broker credentials submitted by the user.
// BrokerTOTP is the broker's own one-time code; when empty, TOTPCode is
// forwarded to the broker as well.
type BrokerLoginInput struct {
	ClientID   string `validate:"required,max=100"`
	PIN        string `validate:"required,max=10"`
	TOTPCode   string `validate:"required,len=6,numeric"`
	BrokerTOTP string `validate:"omitempty,len=6,numeric"`
}

// UserSummary is the public view of a user. It never carries secrets.
type UserSummary struct {
	ID               int64
	Username         string
	Email            string
	Role             string
	Active           bool
	BrokerName       string
	TwoFactorEnabled bool
	CreatedAt        time.Time
}

// LoginResult is returned by a successful primary login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      UserSummary
}

// TwoFactorSetup is the provisioning payload shown once to the user.
type TwoFactorSetup struct {
	Seed   string
	URL    string
	QRCode string // base64 PNG
}

// BrokerProfile reports broker linkage without exposing any token.
type BrokerProfile struct {
	BrokerName          string
	ClientID            string
	HasAPIKey           bool
	HasAccessToken      bool
	HasFeedToken        bool
	TwoFactorEnabled    bool
	BrokerSessionActive bool
}

// SessionService is the per-user authentication lifecycle.
type SessionService interface {
	Register(ctx context.Context, in RegisterInput) (*UserSummary, error)
	Login(ctx context.Context, identifier, password string) (*LoginResult, error)
	CurrentUser(ctx context.Context, userID int64) (*UserSummary, error)
	UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*UserSummary, error)
	ChangePassword(ctx context.Context, userID int64, in PasswordChangeInput) error

	BeginTwoFactorSetup(ctx context.Context, userID int64) (*TwoFactorSetup, error)
	VerifyTwoFactorSetup(ctx context.Context, userID int64, code string) error
	DisableTwoFactor(ctx context.Context, userID int64, code string) error

	BrokerLogin(ctx context.Context, userID int64, in BrokerLoginInput) (*BrokerProfile, error)
	BrokerProfile(ctx context.Context, userID int64) (*BrokerProfile, error)
	Logout(ctx context.Context, userID int64) error

	Principal(ctx context.Context, userID int64) (*domain.Principal, error)

	// LookupUser returns any user's summary for administrators.
	LookupUser(ctx context.Context, userID int64) (*UserSummary, error)
}
