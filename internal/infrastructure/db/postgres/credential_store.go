package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, password_hash, role, active,
	totp_seed, totp_enabled, broker_name, broker_api_key,
	COALESCE(broker_client_id, ''), broker_access_token, broker_feed_token,
	created_at, updated_at`

// dbtx is the subset of database/sql used by the store.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CredentialStore implements ports.CredentialStore on PostgreSQL. Each
// mutation is one UPDATE whose WHERE clause carries the precondition; table
// CHECK constraints back the aggregate invariants.
type CredentialStore struct {
	db dbtx
}

var _ ports.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `INSERT INTO users (username, email, password_hash, role, active, broker_name, broker_api_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	row := s.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.Platform.PasswordHash, string(user.Role), user.Active,
		string(user.Broker.Name), nullBytes(user.Broker.APIKey))

	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *CredentialStore) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (s *CredentialStore) findOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *CredentialStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.exec(ctx, domain.ErrNotFound,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
}

func (s *CredentialStore) UpdateProfile(ctx context.Context, id int64, update domain.ProfileUpdate) (*domain.User, error) {
	var brokerName *string
	if update.BrokerName != nil {
		name := string(*update.BrokerName)
		brokerName = &name
	}

	query := `UPDATE users SET
			username         = COALESCE($2, username),
			email            = COALESCE($3, email),
			broker_name      = COALESCE($4, broker_name),
			broker_api_key   = COALESCE($5, broker_api_key),
			broker_client_id    = CASE WHEN $6 THEN NULL ELSE broker_client_id END,
			broker_access_token = CASE WHEN $6 THEN NULL ELSE broker_access_token END,
			broker_feed_token   = CASE WHEN $6 THEN NULL ELSE broker_feed_token END,
			updated_at       = now()
		WHERE id = $1`

	err := s.exec(ctx, domain.ErrNotFound, query, id,
		update.Username, update.Email, brokerName, nullBytes(update.APIKey), update.ResetsBrokerSession())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *CredentialStore) WritePendingSeed(ctx context.Context, id int64, seed domain.Sealed) error {
	return s.exec(ctx, domain.ErrTwoFactorEnabled,
		`UPDATE users SET totp_seed = $2, updated_at = now() WHERE id = $1 AND NOT totp_enabled`,
		id, []byte(seed))
}

func (s *CredentialStore) EnableTOTP(ctx context.Context, id int64, seed domain.Sealed) error {
	return s.exec(ctx, domain.ErrConflict,
		`UPDATE users SET totp_enabled = TRUE, updated_at = now()
		 WHERE id = $1 AND NOT totp_enabled AND totp_seed = $2`,
		id, []byte(seed))
}

func (s *CredentialStore) DisableTOTP(ctx context.Context, id int64) error {
	return s.exec(ctx, domain.ErrNotFound,
		`UPDATE users SET totp_seed = NULL, totp_enabled = FALSE,
			broker_client_id = NULL, broker_access_token = NULL, broker_feed_token = NULL,
			updated_at = now()
		 WHERE id = $1`, id)
}

func (s *CredentialStore) LinkBroker(ctx context.Context, id int64, session domain.BrokerSession) error {
	return s.exec(ctx, domain.ErrTwoFactorRequired,
		`UPDATE users SET broker_client_id = $2, broker_access_token = $3, broker_feed_token = $4,
			updated_at = now()
		 WHERE id = $1 AND totp_enabled`,
		id, session.ClientID, []byte(session.AccessToken), []byte(session.FeedToken))
}

func (s *CredentialStore) ClearBrokerSession(ctx context.Context, id int64) error {
	return s.exec(ctx, domain.ErrNotFound,
		`UPDATE users SET broker_client_id = NULL, broker_access_token = NULL, broker_feed_token = NULL,
			updated_at = now()
		 WHERE id = $1`, id)
}

// exec runs a conditional UPDATE keyed on id (always $1). When no row
// changed it tells a missing user apart from a failed precondition.
func (s *CredentialStore) exec(ctx context.Context, onMiss error, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, args[0]).Scan(&exists); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return onMiss
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                                    domain.User
		role, brokerName                     string
		seed, apiKey, accessToken, feedToken []byte
		createdAt, updatedAt                 time.Time
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.Platform.PasswordHash, &role, &u.Active,
		&seed, &u.TwoFactor.Enabled, &brokerName, &apiKey,
		&u.Broker.ClientID, &accessToken, &feedToken,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	u.TwoFactor.Seed = seed
	u.Broker.Name = domain.BrokerName(brokerName)
	u.Broker.APIKey = apiKey
	u.Broker.AccessToken = accessToken
	u.Broker.FeedToken = feedToken
	u.CreatedAt = createdAt.UTC()
	u.UpdatedAt = updatedAt.UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullBytes maps an absent sealed value to SQL NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
