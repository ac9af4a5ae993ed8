package domain

// SessionState is the per-user position in the authentication lifecycle.
// It is derived from stored fields and never persisted on its own.
type SessionState int

const (
	StateRegistered SessionState = iota + 1
	StateTwoFactorPending
	StateTwoFactorEnabled
	StateBrokerLinked
)

func (s SessionState) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateTwoFactorPending:
		return "2fa_pending"
	case StateTwoFactorEnabled:
		return "2fa_enabled"
	case StateBrokerLinked:
		return "broker_linked"
	default:
		return "unregistered"
	}
}

// AtLeast reports whether s has reached min. Pending enrollment does not
// satisfy a 2FA-enabled requirement since the order is strictly linear.
func (s SessionState) AtLeast(min SessionState) bool {
	return s >= min
}

// Principal is what the session gate attaches to an authenticated request.
type Principal struct {
	UserID int64
	Role   Role
	State  SessionState
}
