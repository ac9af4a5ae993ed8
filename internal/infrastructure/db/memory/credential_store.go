// Package memory is a process-local CredentialStore for tests and development.
package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
	"github.com/stockauth/stockauth/internal/pkg/keylock"
)

// CredentialStore keeps users in maps. Record mutations are serialised per
// user by a keylock.Locker; the index maps are guarded by a short RWMutex.
type CredentialStore struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]*domain.User
	byUsername map[string]int64
	byEmail    map[string]int64

	locks *keylock.Locker
	now   func() time.Time
}

var _ ports.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		byID:       make(map[int64]*domain.User),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		locks:      keylock.New(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *CredentialStore) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uname, email := fold(user.Username), fold(user.Email)
	if _, ok := s.byUsername[uname]; ok {
		return nil, domain.ErrUserExists
	}
	if _, ok := s.byEmail[email]; ok {
		return nil, domain.ErrUserExists
	}

	s.nextID++
	u := cloneUser(user)
	u.ID = s.nextID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.UpdatedAt = u.CreatedAt

	s.byID[u.ID] = u
	s.byUsername[uname] = u.ID
	s.byEmail[email] = u.ID
	return cloneUser(u), nil
}

func (s *CredentialStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.RLock()
	u, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byUsername[fold(username)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[fold(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *CredentialStore) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return s.mutate(id, func(u *domain.User) error {
		u.Platform.PasswordHash = passwordHash
		return nil
	})
}

func (s *CredentialStore) UpdateProfile(ctx context.Context, id int64, update domain.ProfileUpdate) (*domain.User, error) {
	err := s.mutate(id, func(u *domain.User) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if update.Username != nil {
			if other, ok := s.byUsername[fold(*update.Username)]; ok && other != id {
				return domain.ErrUserExists
			}
		}
		if update.Email != nil {
			if other, ok := s.byEmail[fold(*update.Email)]; ok && other != id {
				return domain.ErrUserExists
			}
		}
		if update.Username != nil {
			delete(s.byUsername, fold(u.Username))
			u.Username = *update.Username
			s.byUsername[fold(u.Username)] = id
		}
		if update.Email != nil {
			delete(s.byEmail, fold(u.Email))
			u.Email = *update.Email
			s.byEmail[fold(u.Email)] = id
		}
		if update.BrokerName != nil {
			u.Broker.Name = *update.BrokerName
		}
		if update.APIKey.Present() {
			u.Broker.APIKey = cloneBytes(update.APIKey)
		}
		if update.ResetsBrokerSession() {
			clearSession(u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *CredentialStore) WritePendingSeed(_ context.Context, id int64, seed domain.Sealed) error {
	return s.mutate(id, func(u *domain.User) error {
		if u.TwoFactor.Enabled {
			return domain.ErrTwoFactorEnabled
		}
		u.TwoFactor.Seed = cloneBytes(seed)
		return nil
	})
}

func (s *CredentialStore) EnableTOTP(_ context.Context, id int64, seed domain.Sealed) error {
	return s.mutate(id, func(u *domain.User) error {
		if u.TwoFactor.Enabled || !bytes.Equal(u.TwoFactor.Seed, seed) {
			return domain.ErrConflict
		}
		u.TwoFactor.Enabled = true
		return nil
	})
}

func (s *CredentialStore) DisableTOTP(_ context.Context, id int64) error {
	return s.mutate(id, func(u *domain.User) error {
		u.TwoFactor = domain.TwoFactor{}
		clearSession(u)
		return nil
	})
}

func (s *CredentialStore) LinkBroker(_ context.Context, id int64, session domain.BrokerSession) error {
	return s.mutate(id, func(u *domain.User) error {
		if !u.TwoFactor.Enabled {
			return domain.ErrTwoFactorRequired
		}
		u.Broker.ClientID = session.ClientID
		u.Broker.AccessToken = cloneBytes(session.AccessToken)
		u.Broker.FeedToken = cloneBytes(session.FeedToken)
		return nil
	})
}

func (s *CredentialStore) ClearBrokerSession(_ context.Context, id int64) error {
	return s.mutate(id, func(u *domain.User) error {
		clearSession(u)
		return nil
	})
}

// mutate applies fn to a copy of the record and commits it only when fn
// succeeds and the result still satisfies the aggregate invariants.
func (s *CredentialStore) mutate(id int64, fn func(u *domain.User) error) error {
	return s.locks.With(id, func() error {
		s.mu.RLock()
		current, ok := s.byID[id]
		s.mu.RUnlock()
		if !ok {
			return domain.ErrNotFound
		}

		next := cloneUser(current)
		if err := fn(next); err != nil {
			return err
		}
		if err := next.CheckInvariants(); err != nil {
			return err
		}
		next.UpdatedAt = s.now()

		s.mu.Lock()
		s.byID[id] = next
		s.mu.Unlock()
		return nil
	})
}

func clearSession(u *domain.User) {
	u.Broker.ClientID = ""
	u.Broker.AccessToken = nil
	u.Broker.FeedToken = nil
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.TwoFactor.Seed = cloneBytes(u.TwoFactor.Seed)
	c.Broker.APIKey = cloneBytes(u.Broker.APIKey)
	c.Broker.AccessToken = cloneBytes(u.Broker.AccessToken)
	c.Broker.FeedToken = cloneBytes(u.Broker.FeedToken)
	return &c
}
