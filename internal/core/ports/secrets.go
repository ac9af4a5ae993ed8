package ports

import (
	"context"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// SecretField names the purpose a sealed value is bound to.
type SecretField string

const (
	FieldTOTPSeed          SecretField = "totp_seed"
	FieldBrokerAPIKey      SecretField = "broker_api_key"
	FieldBrokerAccessToken SecretField = "broker_access_token"
	FieldBrokerFeedToken   SecretField = "broker_feed_token"
)

// SecretBox encrypts secrets for storage. A value sealed for one field cannot
// be opened as another.
type SecretBox interface {
	Seal(field SecretField, plaintext string) (domain.Sealed, error)
	Open(field SecretField, sealed domain.Sealed) (string, error)
}

// StepGuard remembers the last accepted TOTP time step per user and refuses
// steps that do not move forward.
type StepGuard interface {
	Accept(ctx context.Context, userID int64, step int64) (bool, error)
}
