package domain

import "time"

// Role is the coarse permission level of a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleBroker Role = "broker"
	RoleUser   Role = "user"
)

// Valid reports whether r is one of the recognised roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleBroker, RoleUser:
		return true
	}
	return false
}

// BrokerName identifies which brokerage integration applies to a user.
type BrokerName string

const BrokerAngel BrokerName = "angel"

// Valid reports whether b names a supported brokerage integration.
func (b BrokerName) Valid() bool {
	return b == BrokerAngel
}

// Sealed is an encrypted secret as stored at rest. Plaintext never lives on the aggregate.
type Sealed []byte

// Present reports whether a sealed value has been written.
func (s Sealed) Present() bool { return len(s) > 0 }

// PlatformCredentials is the primary credential domain.
type PlatformCredentials struct {
	// PasswordHash is a bcrypt hash; cost and salt are encoded in it.
	PasswordHash string
}

// TwoFactor holds TOTP enrollment state. Seed is present from setup onwards,
// Enabled flips once a code generated from it has been verified.
type TwoFactor struct {
	Seed    Sealed
	Enabled bool
}

// BrokerLink is the broker credential domain: the static API key supplied at
// registration plus the ephemeral session issued by the broker.
type BrokerLink struct {
	Name        BrokerName
	APIKey      Sealed
	ClientID    string
	AccessToken Sealed
	FeedToken   Sealed
}

// SessionActive reports whether both broker tokens are held.
func (b BrokerLink) SessionActive() bool {
	return b.AccessToken.Present() && b.FeedToken.Present()
}

// User is the identity aggregate.
type User struct {
	ID        int64
	Username  string
	Email     string
	Role      Role
	Active    bool
	Platform  PlatformCredentials
	TwoFactor TwoFactor
	Broker    BrokerLink
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the session state from the stored fields.
func (u *User) State() SessionState {
	switch {
	case u.TwoFactor.Enabled && u.Broker.SessionActive():
		return StateBrokerLinked
	case u.TwoFactor.Enabled:
		return StateTwoFactorEnabled
	case u.TwoFactor.Seed.Present():
		return StateTwoFactorPending
	default:
		return StateRegistered
	}
}

// CheckInvariants returns ErrInconsistentState when the record violates the
// cross-field rules every store write must preserve.
func (u *User) CheckInvariants() error {
	if u.TwoFactor.Enabled && !u.TwoFactor.Seed.Present() {
		return ErrInconsistentState
	}
	if u.Broker.AccessToken.Present() != u.Broker.FeedToken.Present() {
		return ErrInconsistentState
	}
	if u.Broker.AccessToken.Present() && !u.TwoFactor.Enabled {
		return ErrInconsistentState
	}
	return nil
}

// BrokerSession is written to the store in a single atomic update.
type BrokerSession struct {
	ClientID    string
	AccessToken Sealed
	FeedToken   Sealed
}

// ProfileUpdate carries optional profile changes; nil fields are left untouched.
type ProfileUpdate struct {
	Username   *string
	Email      *string
	BrokerName *BrokerName
	APIKey     Sealed
}

// ResetsBrokerSession reports whether applying the update invalidates the broker session.
func (p ProfileUpdate) ResetsBrokerSession() bool {
	return p.BrokerName != nil || p.APIKey.Present()
}
