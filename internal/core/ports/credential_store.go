package ports

import (
	"context"

	"github.com/stockauth/stockauth/internal/core/domain"
)

// CredentialStore persists users and their sealed secrets.
//
// Every mutation is a single conditional write on one user record, so two
// requests for the same user can never interleave halfway through a change.
// Lookups return domain.ErrNotFound when no record matches.
type CredentialStore interface {
	// Create assigns the numeric id. Duplicate username or email yields domain.ErrUserExists.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	// UpdateProfile applies non-nil fields. Changing the broker name or API key
	// clears the broker session in the same write.
	UpdateProfile(ctx context.Context, id int64, update domain.ProfileUpdate) (*domain.User, error)

	// WritePendingSeed stores an unverified seed; domain.ErrTwoFactorEnabled if enrollment completed.
	WritePendingSeed(ctx context.Context, id int64, seed domain.Sealed) error
	// EnableTOTP flips the enabled flag only while seed is still the stored
	// pending seed; otherwise domain.ErrConflict.
	EnableTOTP(ctx context.Context, id int64, seed domain.Sealed) error
	// DisableTOTP removes the seed, the flag and any broker session.
	DisableTOTP(ctx context.Context, id int64) error

	// LinkBroker writes client id and both tokens together; domain.ErrTwoFactorRequired
	// when 2FA is not enabled at write time.
	LinkBroker(ctx context.Context, id int64, session domain.BrokerSession) error
	ClearBrokerSession(ctx context.Context, id int64) error
}
