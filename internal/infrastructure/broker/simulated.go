package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

// SimulatedGateway stands in for a brokerage during development. Any
// non-empty credentials succeed and yield fresh random tokens.
type SimulatedGateway struct {
	prefix string
	// Fail, when set, is returned instead of a session.
	Fail error
}

var _ ports.BrokerGateway = (*SimulatedGateway)(nil)

func NewSimulatedGateway(name domain.BrokerName) *SimulatedGateway {
	return &SimulatedGateway{prefix: string(name)}
}

func (g *SimulatedGateway) Authenticate(ctx context.Context, creds ports.BrokerCredentials) (*ports.BrokerTokens, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrBrokerTimeout
	}
	if g.Fail != nil {
		return nil, g.Fail
	}
	if creds.APIKey == "" || creds.ClientID == "" || creds.PIN == "" || creds.TOTP == "" {
		return nil, &domain.BrokerAuthError{Code: "AB1050", Details: "invalid client credentials"}
	}

	session := make([]byte, 16)
	if _, err := rand.Read(session); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUpstream, err)
	}
	id := hex.EncodeToString(session)
	return &ports.BrokerTokens{
		AccessToken: g.prefix + "_access_token_" + id,
		FeedToken:   g.prefix + "_feed_token_" + id,
	}, nil
}
