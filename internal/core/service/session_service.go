package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
	"github.com/stockauth/stockauth/internal/pkg/keylock"
	"github.com/stockauth/stockauth/internal/pkg/validation"
)

const defaultBrokerTimeout = 10 * time.Second

// SessionOptions tunes optional behaviour of the session service.
type SessionOptions struct {
	BrokerTimeout time.Duration
	// StepGuard rejects TOTP codes from an already used time step. Nil disables it.
	StepGuard ports.StepGuard
	// Now overrides the clock used for TOTP checks.
	Now func() time.Time
}

// SessionService drives a user through registration, two-factor enrollment,
// broker linking and logout. Every mutation for one user runs under that
// user's lock so enrollment and broker linking never interleave.
type SessionService struct {
	store    ports.CredentialStore
	box      ports.SecretBox
	tokens   *TokenIssuer
	totp     *TOTPEngine
	brokers  ports.BrokerDirectory
	guard    ports.StepGuard
	locks    *keylock.Locker
	validate *validator.Validate
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

var _ ports.SessionService = (*SessionService)(nil)

func NewSessionService(
	store ports.CredentialStore,
	box ports.SecretBox,
	tokens *TokenIssuer,
	totpEngine *TOTPEngine,
	brokers ports.BrokerDirectory,
	logger zerolog.Logger,
	opts SessionOptions,
) *SessionService {
	if opts.BrokerTimeout <= 0 {
		opts.BrokerTimeout = defaultBrokerTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionService{
		store:    store,
		box:      box,
		tokens:   tokens,
		totp:     totpEngine,
		brokers:  brokers,
		guard:    opts.StepGuard,
		locks:    keylock.New(),
		validate: validation.New(),
		timeout:  opts.BrokerTimeout,
		now:      opts.Now,
		logger:   logger,
	}
}

// dummyHash is compared against when the user does not exist so an unknown
// username costs the same as a wrong password.
var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("stockauth-timing-pad"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", domain.NewValidationError("password", "password must be at most 72 bytes")
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *SessionService) Register(ctx context.Context, in ports.RegisterInput) (*ports.UserSummary, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.APIKey = strings.TrimSpace(in.APIKey)
	if err := validation.Struct(s.validate, in); err != nil {
		return nil, err
	}

	role := domain.Role(in.Role)
	if role == "" {
		role = domain.RoleUser
	}
	broker := domain.BrokerName(in.BrokerName)
	if broker == "" {
		broker = domain.BrokerAngel
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.box.Seal(ports.FieldBrokerAPIKey, in.APIKey)
	if err != nil {
		return nil, fmt.Errorf("seal api key: %w", err)
	}

	now := time.Now().UTC()
	created, err := s.store.Create(ctx, &domain.User{
		Username:  in.Username,
		Email:     in.Email,
		Role:      role,
		Active:    true,
		Platform:  domain.PlatformCredentials{PasswordHash: hash},
		Broker:    domain.BrokerLink{Name: broker, APIKey: apiKey},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Int64("user_id", created.ID).Str("role", string(role)).Msg("user registered")
	return toSummary(created), nil
}

// Login accepts a username or, failing that, an email address. Every failure
// is reported as the same ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, identifier, password string) (*ports.LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.store.FindByUsername(ctx, identifier)
	if errors.Is(err, domain.ErrNotFound) && strings.Contains(identifier, "@") {
		user, err = s.store.FindByEmail(ctx, identifier)
	}
	if errors.Is(err, domain.ErrNotFound) {
		burnPasswordCheck(password)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Platform.PasswordHash), []byte(password)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, domain.ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", user.ID).Msg("login succeeded")
	return &ports.LoginResult{Token: token, ExpiresAt: expires, User: *toSummary(user)}, nil
}

func (s *SessionService) CurrentUser(ctx context.Context, userID int64) (*ports.UserSummary, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toSummary(user), nil
}

// LookupUser reads another user's account. Unlike CurrentUser, a missing id
// is reported as ErrUserNotFound rather than as a stale bearer token.
func (s *SessionService) LookupUser(ctx context.Context, userID int64) (*ports.UserSummary, error) {
	user, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return toSummary(user), nil
}

func (s *SessionService) UpdateProfile(ctx context.Context, userID int64, in ports.ProfileInput) (*ports.UserSummary, error) {
	if err := validation.Struct(s.validate, in); err != nil {
		return nil, err
	}
	defer s.locks.Lock(userID)()

	var upd domain.ProfileUpdate
	if in.Username != nil {
		v := strings.TrimSpace(*in.Username)
		upd.Username = &v
	}
	if in.Email != nil {
		v := strings.TrimSpace(*in.Email)
		upd.Email = &v
	}
	if in.BrokerName != nil {
		v := domain.BrokerName(*in.BrokerName)
		upd.BrokerName = &v
	}
	if in.APIKey != nil {
		sealed, err := s.box.Seal(ports.FieldBrokerAPIKey, strings.TrimSpace(*in.APIKey))
		if err != nil {
			return nil, fmt.Errorf("seal api key: %w", err)
		}
		upd.APIKey = sealed
	}

	user, err := s.store.UpdateProfile(ctx, userID, upd)
	if errors.Is(err, domain.ErrConflict) {
		return nil, domain.ErrUserExists
	}
	if err != nil {
		return nil, s.storeErr("update profile", err)
	}
	if upd.ResetsBrokerSession() {
		s.logger.Info().Int64("user_id", userID).Msg("broker settings changed, broker session cleared")
	}
	return toSummary(user), nil
}

func (s *SessionService) ChangePassword(ctx context.Context, userID int64, in ports.PasswordChangeInput) error {
	if err := validation.Struct(s.validate, in); err != nil {
		return err
	}
	defer s.locks.Lock(userID)()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Platform.PasswordHash), []byte(in.Current)) != nil {
		return domain.ErrInvalidCredentials
	}
	hash, err := hashPassword(in.Next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return s.storeErr("update password", err)
	}
	s.logger.Info().Int64("user_id", userID).Msg("password changed")
	return nil
}

// BeginTwoFactorSetup generates a fresh seed and stores it pending
// verification. Calling it again before verifying replaces the seed.
func (s *SessionService) BeginTwoFactorSetup(ctx context.Context, userID int64) (*ports.TwoFactorSetup, error) {
	defer s.locks.Lock(userID)()

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactor.Enabled {
		return nil, domain.ErrTwoFactorEnabled
	}

	enr, err := s.totp.NewSeed(user.Username)
	if err != nil {
		return nil, err
	}
	sealed, err := s.box.Seal(ports.FieldTOTPSeed, enr.Seed)
	if err != nil {
		return nil, fmt.Errorf("seal totp seed: %w", err)
	}
	if err := s.store.WritePendingSeed(ctx, userID, sealed); err != nil {
		return nil, s.storeErr("write pending seed", err)
	}

	s.logger.Info().Int64("user_id", userID).Str("state", domain.StateTwoFactorPending.String()).Msg("two-factor setup started")
	return &ports.TwoFactorSetup{Seed: enr.Seed, URL: enr.URL, QRCode: enr.QRCode}, nil
}

func (s *SessionService) VerifyTwoFactorSetup(ctx context.Context, userID int64, code string) error {
	defer s.locks.Lock(userID)()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactor.Enabled {
		return domain.ErrTwoFactorEnabled
	}
	if !user.TwoFactor.Seed.Present() {
		return domain.ErrTwoFactorNotStarted
	}
	if err := s.checkCode(ctx, user, code); err != nil {
		return err
	}

	err = s.store.EnableTOTP(ctx, userID, user.TwoFactor.Seed)
	if errors.Is(err, domain.ErrConflict) {
		return domain.ErrEnrollmentChanged
	}
	if err != nil {
		return s.storeErr("enable totp", err)
	}
	s.logger.Info().Int64("user_id", userID).Str("state", domain.StateTwoFactorEnabled.String()).Msg("two-factor enabled")
	return nil
}

// DisableTwoFactor turns 2FA off after checking a current code. The broker
// session goes with it.
func (s *SessionService) DisableTwoFactor(ctx context.Context, userID int64, code string) error {
	defer s.locks.Lock(userID)()

	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactor.Enabled {
		return domain.ErrTwoFactorDisabled
	}
	if err := s.checkCode(ctx, user, code); err != nil {
		return err
	}
	if err := s.store.DisableTOTP(ctx, userID); err != nil {
		return s.storeErr("disable totp", err)
	}
	s.logger.Info().Int64("user_id", userID).Str("state", domain.StateRegistered.String()).Msg("two-factor disabled")
	return nil
}

// BrokerLogin verifies a TOTP code, exchanges the stored API key and the
// submitted credentials for broker tokens and stores both tokens together.
// Any broker failure leaves the user without a broker session.
func (s *SessionService) BrokerLogin(ctx context.Context, userID int64, in ports.BrokerLoginInput) (*ports.BrokerProfile, error) {
	defer s.locks.Lock(userID)()

	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactor.Enabled {
		return nil, domain.ErrTwoFactorRequired
	}

	in.ClientID = strings.TrimSpace(in.ClientID)
	if err := validation.Struct(s.validate, in); err != nil {
		return nil, err
	}
	gateway, err := s.brokers.Gateway(user.Broker.Name)
	if err != nil {
		return nil, err
	}
	if !user.Broker.APIKey.Present() {
		return nil, domain.ErrAPIKeyMissing
	}
	if err := s.checkCode(ctx, user, in.TOTPCode); err != nil {
		return nil, err
	}
	apiKey, err := s.box.Open(ports.FieldBrokerAPIKey, user.Broker.APIKey)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("stored api key could not be opened")
		return nil, domain.ErrSecretUnavailable
	}

	brokerTOTP := in.BrokerTOTP
	if brokerTOTP == "" {
		brokerTOTP = in.TOTPCode
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	tokens, err := gateway.Authenticate(callCtx, ports.BrokerCredentials{
		APIKey:   apiKey,
		ClientID: in.ClientID,
		PIN:      in.PIN,
		TOTP:     brokerTOTP,
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err == nil && (tokens == nil || tokens.AccessToken == "" || tokens.FeedToken == "") {
		err = fmt.Errorf("%w: incomplete token pair", domain.ErrBrokerUpstream)
	}
	if err != nil {
		err = classifyGatewayError(err, timedOut)
		s.logger.Warn().Err(err).Int64("user_id", userID).Str("broker", string(user.Broker.Name)).Msg("broker login failed")
		s.dropBrokerSession(ctx, user)
		return nil, err
	}

	session := domain.BrokerSession{ClientID: in.ClientID}
	if session.AccessToken, err = s.box.Seal(ports.FieldBrokerAccessToken, tokens.AccessToken); err == nil {
		session.FeedToken, err = s.box.Seal(ports.FieldBrokerFeedToken, tokens.FeedToken)
	}
	if err != nil {
		s.dropBrokerSession(ctx, user)
		return nil, fmt.Errorf("seal broker tokens: %w", err)
	}
	if err := s.store.LinkBroker(ctx, userID, session); err != nil {
		return nil, s.storeErr("link broker", err)
	}

	s.logger.Info().Int64("user_id", userID).Str("broker", string(user.Broker.Name)).
		Str("state", domain.StateBrokerLinked.String()).Msg("broker linked")

	user.Broker.ClientID = session.ClientID
	user.Broker.AccessToken = session.AccessToken
	user.Broker.FeedToken = session.FeedToken
	return toBrokerProfile(user), nil
}

func (s *SessionService) BrokerProfile(ctx context.Context, userID int64) (*ports.BrokerProfile, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toBrokerProfile(user), nil
}

// Logout drops the broker session. Two-factor enrollment and the platform
// bearer token are left as they are.
func (s *SessionService) Logout(ctx context.Context, userID int64) error {
	defer s.locks.Lock(userID)()

	if err := s.store.ClearBrokerSession(ctx, userID); err != nil {
		return s.storeErr("clear broker session", err)
	}
	s.logger.Info().Int64("user_id", userID).Msg("broker session cleared")
	return nil
}

func (s *SessionService) Principal(ctx context.Context, userID int64) (*domain.Principal, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.Principal{UserID: user.ID, Role: user.Role, State: user.State()}, nil
}

// load fetches an active user. A missing or deactivated user means the
// bearer token no longer names anyone.
func (s *SessionService) load(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.Active {
		return nil, domain.ErrInvalidToken
	}
	return user, nil
}

// checkCode verifies code against the user's stored seed and, when a step
// guard is configured, refuses a step that was already used.
func (s *SessionService) checkCode(ctx context.Context, user *domain.User, code string) error {
	seed, err := s.box.Open(ports.FieldTOTPSeed, user.TwoFactor.Seed)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("stored totp seed could not be opened")
		return domain.ErrSecretUnavailable
	}
	step, ok := s.totp.Match(seed, code, s.now())
	if !ok {
		return domain.ErrInvalidCode
	}
	if s.guard == nil {
		return nil
	}
	fresh, err := s.guard.Accept(ctx, user.ID, step)
	if err != nil {
		// fail open: the guard is optional
		s.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("totp step guard unavailable, accepting code")
		return nil
	}
	if !fresh {
		return domain.ErrInvalidCode
	}
	return nil
}

func (s *SessionService) dropBrokerSession(ctx context.Context, user *domain.User) {
	if !user.Broker.SessionActive() && user.Broker.ClientID == "" {
		return
	}
	if err := s.store.ClearBrokerSession(ctx, user.ID); err != nil {
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to clear broker session")
	}
}

func (s *SessionService) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrInvalidToken
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrForbidden):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func classifyGatewayError(err error, timedOut bool) error {
	switch {
	case errors.Is(err, domain.ErrBrokerAuth),
		errors.Is(err, domain.ErrBrokerUpstream),
		errors.Is(err, domain.ErrBrokerTimeout):
		return err
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		return domain.ErrBrokerTimeout
	default:
		return fmt.Errorf("%w: %v", domain.ErrBrokerUpstream, err)
	}
}

func toSummary(u *domain.User) *ports.UserSummary {
	return &ports.UserSummary{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Role:             string(u.Role),
		Active:           u.Active,
		BrokerName:       string(u.Broker.Name),
		TwoFactorEnabled: u.TwoFactor.Enabled,
		CreatedAt:        u.CreatedAt,
	}
}

func toBrokerProfile(u *domain.User) *ports.BrokerProfile {
	return &ports.BrokerProfile{
		BrokerName:          string(u.Broker.Name),
		ClientID:            u.Broker.ClientID,
		HasAPIKey:           u.Broker.APIKey.Present(),
		HasAccessToken:      u.Broker.AccessToken.Present(),
		HasFeedToken:        u.Broker.FeedToken.Present(),
		TwoFactorEnabled:    u.TwoFactor.Enabled,
		BrokerSessionActive: u.TwoFactor.Enabled && u.Broker.SessionActive(),
	}
}
