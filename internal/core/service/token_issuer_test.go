package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stockauth/stockauth/internal/core/domain"
)

func fixedIssuer(at time.Time) *TokenIssuer {
	ti := NewTokenIssuer([]byte("test-secret"), "stockauth", 30*time.Minute)
	ti.now = func() time.Time { return at }
	return ti
}

func TestTokenIssuer_IssueVerify(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	ti := fixedIssuer(now)

	token, exp, err := ti.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", exp)
	}

	id, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected subject 42, got %d", id)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	ti := fixedIssuer(now)
	token, _, _ := ti.Issue(1)

	ti.now = func() time.Time { return now.Add(31 * time.Minute) }
	if _, err := ti.Verify(token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := ti.Verify(token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expired token must be Unauthorized, got %v", err)
	}
}

func TestTokenIssuer_RejectsForeignSecretAndIssuer(t *testing.T) {
	now := time.Now()
	ti := fixedIssuer(now)

	other := NewTokenIssuer([]byte("other-secret"), "stockauth", time.Hour)
	token, _, _ := other.Issue(1)
	if _, err := ti.Verify(token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	otherIss := NewTokenIssuer([]byte("test-secret"), "someone-else", time.Hour)
	token, _, _ = otherIss.Issue(1)
	if _, err := ti.Verify(token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign issuer, got %v", err)
	}
}

func TestTokenIssuer_RejectsAlgNoneAndMissingExpiry(t *testing.T) {
	ti := fixedIssuer(time.Now())

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    "stockauth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ti.Verify(signed); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected alg none rejected, got %v", err)
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1", Issuer: "stockauth"})
	signed, _ = noExp.SignedString([]byte("test-secret"))
	if _, err := ti.Verify(signed); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected missing exp rejected, got %v", err)
	}
}

func TestTokenIssuer_RejectsGarbageAndBadSubject(t *testing.T) {
	ti := fixedIssuer(time.Now())
	if _, err := ti.Verify("not-a-token"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "stockauth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, _ := bad.SignedString([]byte("test-secret"))
	if _, err := ti.Verify(signed); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected non-numeric subject rejected, got %v", err)
	}
}
