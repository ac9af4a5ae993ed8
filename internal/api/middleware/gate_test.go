package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/stockauth/stockauth/internal/core/domain"
)

type stubResolver struct {
	principal *domain.Principal
	err       error
	calls     int
}

func (r *stubResolver) Principal(_ context.Context, userID int64) (*domain.Principal, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	p := *r.principal
	p.UserID = userID
	return &p, nil
}

func gated(t *testing.T, resolver PrincipalResolver, min domain.SessionState) (bool, error) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set(ContextUserID, int64(3))

	called := false
	chain := Gate(resolver)(RequireState(min)(func(c echo.Context) error {
		called = true
		p, ok := PrincipalFrom(c)
		if !ok || p.UserID != 3 {
			t.Fatalf("principal not attached")
		}
		return nil
	}))
	err := chain(c)
	return called, err
}

func TestGate_RequireState(t *testing.T) {
	cases := []struct {
		name   string
		state  domain.SessionState
		min    domain.SessionState
		wantOK bool
		want   error
	}{
		{"linked passes linked", domain.StateBrokerLinked, domain.StateBrokerLinked, true, nil},
		{"enabled passes enabled", domain.StateTwoFactorEnabled, domain.StateTwoFactorEnabled, true, nil},
		{"linked passes enabled", domain.StateBrokerLinked, domain.StateTwoFactorEnabled, true, nil},
		{"pending blocked from enabled", domain.StateTwoFactorPending, domain.StateTwoFactorEnabled, false, domain.ErrTwoFactorRequired},
		{"enabled blocked from linked", domain.StateTwoFactorEnabled, domain.StateBrokerLinked, false, domain.ErrBrokerNotLinked},
		{"registered passes registered", domain.StateRegistered, domain.StateRegistered, true, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := &stubResolver{principal: &domain.Principal{Role: domain.RoleUser, State: tc.state}}
			called, err := gated(t, resolver, tc.min)
			if called != tc.wantOK {
				t.Fatalf("next called = %v, want %v", called, tc.wantOK)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want != nil && !errors.Is(err, domain.ErrForbidden) {
				t.Fatalf("state rejection must be forbidden, got %v", err)
			}
		})
	}
}

func TestGate_ResolverFailure(t *testing.T) {
	resolver := &stubResolver{err: domain.ErrInvalidToken}
	called, err := gated(t, resolver, domain.StateRegistered)
	if called {
		t.Fatalf("should not reach next")
	}
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestGate_LoadsOnEveryRequest(t *testing.T) {
	resolver := &stubResolver{principal: &domain.Principal{Role: domain.RoleUser, State: domain.StateBrokerLinked}}
	for i := 0; i < 3; i++ {
		if _, err := gated(t, resolver, domain.StateBrokerLinked); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if resolver.calls != 3 {
		t.Fatalf("expected 3 store reads, got %d", resolver.calls)
	}
}

func TestGate_WithoutAuth(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := Gate(&stubResolver{})(func(c echo.Context) error {
		t.Fatalf("should not reach next")
		return nil
	})(c)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
