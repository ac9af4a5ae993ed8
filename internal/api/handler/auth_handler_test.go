package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/api/middleware"
	"github.com/stockauth/stockauth/internal/core/domain"
	"github.com/stockauth/stockauth/internal/core/ports"
)

type stubSessionService struct {
	registerFn      func(ctx context.Context, in ports.RegisterInput) (*ports.UserSummary, error)
	loginFn         func(ctx context.Context, identifier, password string) (*ports.LoginResult, error)
	currentUserFn   func(ctx context.Context, userID int64) (*ports.UserSummary, error)
	updateFn        func(ctx context.Context, userID int64, in ports.ProfileInput) (*ports.UserSummary, error)
	passwordFn      func(ctx context.Context, userID int64, in ports.PasswordChangeInput) error
	setupFn         func(ctx context.Context, userID int64) (*ports.TwoFactorSetup, error)
	verifyFn        func(ctx context.Context, userID int64, code string) error
	disableFn       func(ctx context.Context, userID int64, code string) error
	brokerLoginFn   func(ctx context.Context, userID int64, in ports.BrokerLoginInput) (*ports.BrokerProfile, error)
	brokerProfileFn func(ctx context.Context, userID int64) (*ports.BrokerProfile, error)
	logoutFn        func(ctx context.Context, userID int64) error
	lookupFn        func(ctx context.Context, userID int64) (*ports.UserSummary, error)
}

func (s *stubSessionService) LookupUser(ctx context.Context, userID int64) (*ports.UserSummary, error) {
	return s.lookupFn(ctx, userID)
}

func (s *stubSessionService) Register(ctx context.Context, in ports.RegisterInput) (*ports.UserSummary, error) {
	return s.registerFn(ctx, in)
}

func (s *stubSessionService) Login(ctx context.Context, identifier, password string) (*ports.LoginResult, error) {
	return s.loginFn(ctx, identifier, password)
}

func (s *stubSessionService) CurrentUser(ctx context.Context, userID int64) (*ports.UserSummary, error) {
	return s.currentUserFn(ctx, userID)
}

func (s *stubSessionService) UpdateProfile(ctx context.Context, userID int64, in ports.ProfileInput) (*ports.UserSummary, error) {
	return s.updateFn(ctx, userID, in)
}

func (s *stubSessionService) ChangePassword(ctx context.Context, userID int64, in ports.PasswordChangeInput) error {
	return s.passwordFn(ctx, userID, in)
}

func (s *stubSessionService) BeginTwoFactorSetup(ctx context.Context, userID int64) (*ports.TwoFactorSetup, error) {
	return s.setupFn(ctx, userID)
}

func (s *stubSessionService) VerifyTwoFactorSetup(ctx context.Context, userID int64, code string) error {
	return s.verifyFn(ctx, userID, code)
}

func (s *stubSessionService) DisableTwoFactor(ctx context.Context, userID int64, code string) error {
	return s.disableFn(ctx, userID, code)
}

func (s *stubSessionService) BrokerLogin(ctx context.Context, userID int64, in ports.BrokerLoginInput) (*ports.BrokerProfile, error) {
	return s.brokerLoginFn(ctx, userID, in)
}

func (s *stubSessionService) BrokerProfile(ctx context.Context, userID int64) (*ports.BrokerProfile, error) {
	return s.brokerProfileFn(ctx, userID)
}

func (s *stubSessionService) Logout(ctx context.Context, userID int64) error {
	return s.logoutFn(ctx, userID)
}

func (s *stubSessionService) Principal(_ context.Context, userID int64) (*domain.Principal, error) {
	return &domain.Principal{UserID: userID, Role: domain.RoleUser, State: domain.StateRegistered}, nil
}

// newContext builds a request context; userID > 0 simulates the Auth middleware.
func newContext(method, path, body string, userID int64) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID > 0 {
		c.Set(middleware.ContextUserID, userID)
	}
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return resp
}

func TestAuthHandler_Register_Success(t *testing.T) {
	stub := &stubSessionService{
		registerFn: func(_ context.Context, in ports.RegisterInput) (*ports.UserSummary, error) {
			if in.Username != "alice" || in.APIKey != "key-1" || in.BrokerName != "angel" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &ports.UserSummary{ID: 1, Username: in.Username, Email: in.Email, Role: "user", Active: true, BrokerName: "angel"}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newContext(http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"a@example.com","password":"s3cret-pass","broker_name":"angel","api_key":"key-1"}`, 0)
	if err := handler.Register(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	resp := decode(t, rec)
	if resp["username"] != "alice" || resp["two_factor_enabled"] != false || resp["is_active"] != true {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "key-1") || strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("response leaks secrets: %s", rec.Body.String())
	}
}

func TestAuthHandler_Register_UserExists(t *testing.T) {
	stub := &stubSessionService{
		registerFn: func(context.Context, ports.RegisterInput) (*ports.UserSummary, error) {
			return nil, domain.ErrUserExists
		},
	}
	c, _ := newContext(http.MethodPost, "/api/auth/register", `{"username":"bob"}`, 0)

	if err := NewAuthHandler(stub).Register(c); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAuthHandler_Register_BadJSON(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/auth/register", `{"username":`, 0)

	err := NewAuthHandler(&stubSessionService{}).Register(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stub := &stubSessionService{
		loginFn: func(_ context.Context, identifier, password string) (*ports.LoginResult, error) {
			if identifier != "alice@example.com" || password != "s3cret-pass" {
				t.Fatalf("unexpected args: %s %s", identifier, password)
			}
			return &ports.LoginResult{Token: "jwt", ExpiresAt: expires, User: ports.UserSummary{ID: 1, Username: "alice"}}, nil
		},
	}

	c, rec := newContext(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"s3cret-pass"}`, 0)
	if err := NewAuthHandler(stub).Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp["access_token"] != "jwt" || resp["token_type"] != "bearer" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	stub := &stubSessionService{
		loginFn: func(context.Context, string, string) (*ports.LoginResult, error) {
			return nil, domain.ErrInvalidCredentials
		},
	}
	c, _ := newContext(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"nope"}`, 0)

	if err := NewAuthHandler(stub).Login(c); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthHandler_Login_MissingPassword(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/auth/login", `{"username":"alice"}`, 0)

	err := NewAuthHandler(&stubSessionService{}).Login(c)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Fields["password"] == "" {
		t.Fatalf("expected password validation error, got %v", err)
	}
}

func TestAuthHandler_SetupTwoFactor(t *testing.T) {
	stub := &stubSessionService{
		setupFn: func(_ context.Context, userID int64) (*ports.TwoFactorSetup, error) {
			if userID != 5 {
				t.Fatalf("unexpected user %d", userID)
			}
			return &ports.TwoFactorSetup{Seed: "SEED", URL: "otpauth://totp/x", QRCode: "cG5n"}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/api/auth/setup-2fa", "", 5)

	if err := NewAuthHandler(stub).SetupTwoFactor(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	if resp["secret"] != "SEED" || resp["qr_code"] != "cG5n" || resp["provisioning_uri"] != "otpauth://totp/x" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if rec.Header().Get(echo.HeaderCacheControl) != "no-store" {
		t.Fatalf("setup response must not be cached")
	}
}

func TestAuthHandler_RequiresAuthenticatedUser(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/auth/setup-2fa", "", 0)

	if err := NewAuthHandler(&stubSessionService{}).SetupTwoFactor(c); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthHandler_VerifyTwoFactor(t *testing.T) {
	var got string
	stub := &stubSessionService{
		verifyFn: func(_ context.Context, _ int64, code string) error {
			got = code
			return nil
		},
	}

	c, rec := newContext(http.MethodPost, "/api/auth/verify-2fa", `{"code":"123456"}`, 5)
	if err := NewAuthHandler(stub).VerifyTwoFactor(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || got != "123456" {
		t.Fatalf("unexpected result %d %q", rec.Code, got)
	}
}

func TestAuthHandler_VerifyTwoFactor_MalformedCode(t *testing.T) {
	for _, body := range []string{`{"code":"12345"}`, `{"code":"abcdef"}`, `{}`} {
		c, _ := newContext(http.MethodPost, "/api/auth/verify-2fa", body, 5)
		err := NewAuthHandler(&stubSessionService{}).VerifyTwoFactor(c)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", body, err)
		}
	}
}

func TestAuthHandler_BrokerLogin(t *testing.T) {
	stub := &stubSessionService{
		brokerLoginFn: func(_ context.Context, userID int64, in ports.BrokerLoginInput) (*ports.BrokerProfile, error) {
			if in.ClientID != "C1" || in.PIN != "1234" || in.TOTPCode != "123456" || in.BrokerTOTP != "" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &ports.BrokerProfile{BrokerName: "angel", ClientID: "C1", HasAPIKey: true, HasAccessToken: true,
				HasFeedToken: true, TwoFactorEnabled: true, BrokerSessionActive: true}, nil
		},
	}

	c, rec := newContext(http.MethodPost, "/api/auth/broker-login", `{"client_id":"C1","pin":"1234","totp_code":"123456"}`, 5)
	if err := NewAuthHandler(stub).BrokerLogin(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	profile, ok := resp["profile"].(map[string]any)
	if !ok || profile["has_access_token"] != true || profile["broker_session_active"] != true {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "1234") {
		t.Fatalf("response leaks the pin")
	}
}

func TestAuthHandler_BrokerLogin_ForbiddenBeforeValidation(t *testing.T) {
	stub := &stubSessionService{
		brokerLoginFn: func(context.Context, int64, ports.BrokerLoginInput) (*ports.BrokerProfile, error) {
			return nil, domain.ErrTwoFactorRequired
		},
	}
	c, _ := newContext(http.MethodPost, "/api/auth/broker-login", `{}`, 5)

	if err := NewAuthHandler(stub).BrokerLogin(c); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	called := false
	stub := &stubSessionService{
		logoutFn: func(_ context.Context, userID int64) error {
			called = userID == 5
			return nil
		},
	}
	c, rec := newContext(http.MethodPost, "/api/auth/logout", "", 5)

	if err := NewAuthHandler(stub).Logout(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("logout not delegated")
	}
}
