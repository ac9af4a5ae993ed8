package mongo

import (
	"testing"
	"time"

	"github.com/stockauth/stockauth/internal/core/domain"
)

func TestDocumentRoundTripKeepsAggregate(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	u := &domain.User{
		ID:        7,
		Username:  "Alice",
		Email:     "Alice@Example.com",
		Role:      domain.RoleBroker,
		Active:    true,
		Platform:  domain.PlatformCredentials{PasswordHash: "$2a$10$hash"},
		TwoFactor: domain.TwoFactor{Seed: domain.Sealed{1, 2}, Enabled: true},
		Broker: domain.BrokerLink{
			Name:        domain.BrokerAngel,
			APIKey:      domain.Sealed{3},
			ClientID:    "C123",
			AccessToken: domain.Sealed{4},
			FeedToken:   domain.Sealed{5},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}

	doc := toDocument(u)
	if doc.UsernameKey != "alice" || doc.EmailKey != "alice@example.com" {
		t.Fatalf("lookup keys not folded: %q %q", doc.UsernameKey, doc.EmailKey)
	}

	back := doc.toDomain()
	if back.Username != "Alice" || back.Role != domain.RoleBroker || back.State() != domain.StateBrokerLinked {
		t.Fatalf("unexpected user after round trip: %+v", back)
	}
	if err := back.CheckInvariants(); err != nil {
		t.Fatalf("invariants broken: %v", err)
	}
}

func TestSessionFieldsCoverBothTokens(t *testing.T) {
	f := sessionFields()
	for _, k := range []string{"broker_client_id", "broker_access_token", "broker_feed_token"} {
		if _, ok := f[k]; !ok {
			t.Fatalf("session clear misses %s", k)
		}
	}
}
