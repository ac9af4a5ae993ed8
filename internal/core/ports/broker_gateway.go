package ports

import (
	"context"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// BrokerCredentials are the plaintext inputs of one broker login. They live
// only for the duration of the call.
type BrokerCredentials struct {
	APIKey   string
	ClientID string
	PIN      string
	TOTP     string
}

// BrokerTokens is a successful broker exchange.
type BrokerTokens struct {
	AccessToken string
	FeedToken   string
}

// BrokerGateway talks to a brokerage identity provider.
//
// Implementations return *domain.BrokerAuthError when the broker rejects the
// credentials, domain.ErrBrokerUpstream for transport or server failures and
// domain.ErrBrokerTimeout when ctx expires. They never retry.
type BrokerGateway interface {
	Authenticate(ctx context.Context, creds BrokerCredentials) (*BrokerTokens, error)
}

// BrokerDirectory resolves the gateway serving a brokerage integration.
type BrokerDirectory interface {
	Gateway(name domain.BrokerName) (BrokerGateway, error)
}
