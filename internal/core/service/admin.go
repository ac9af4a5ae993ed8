package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
	"github.com/stockauth/stockauth/internal/pkg/validation"
)

// AdminInput is the account created by the seeding command.
type AdminInput struct {
	Username string `validate:"required,min=3,max=50,username"`
	Email    string `validate:"required,email,max=100"`
	Password string `validate:"required,min=8,max=72"`
}

// AdminSeeder creates admin accounts. Admins are only created here; public
// registration cannot ask for the role.
type AdminSeeder struct {
	store    ports.CredentialStore
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

func NewAdminSeeder(store ports.CredentialStore, logger zerolog.Logger) *AdminSeeder {
	return &AdminSeeder{
		store:    store,
		validate: validation.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Seed creates an admin account unless the username is already taken and
// reports whether a new account was written.
func (a *AdminSeeder) Seed(ctx context.Context, in AdminInput) (*ports.UserSummary, bool, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := validation.Struct(a.validate, in); err != nil {
		return nil, false, err
	}

	existing, err := a.store.FindByUsername(ctx, in.Username)
	switch {
	case err == nil:
		if existing.Role != domain.RoleAdmin {
			return nil, false, fmt.Errorf("%w: %q exists and is not an admin", domain.ErrConflict, in.Username)
		}
		return toSummary(existing), false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("find user: %w", err)
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, false, err
	}
	now := a.now()
	created, err := a.store.Create(ctx, &domain.User{
		Username:  in.Username,
		Email:     in.Email,
		Role:      domain.RoleAdmin,
		Active:    true,
		Platform:  domain.PlatformCredentials{PasswordHash: hash},
		Broker:    domain.BrokerLink{Name: domain.BrokerAngel},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create admin: %w", err)
	}
	a.logger.Info().Int64("user_id", created.ID).Msg("admin account created")
	return toSummary(created), true, nil
}
