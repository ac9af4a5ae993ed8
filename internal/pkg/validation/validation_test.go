package validation

import (
	"errors"
	"testing"

	"github.com/stockauth/stockauth/internal/core/domain"
)

type sample struct {
	Username   string `validate:"required,username"`
	APIKey     string `validate:"required"`
	BrokerTOTP string `json:"broker_totp" validate:"omitempty,len=6,numeric"`
}

func TestStruct_ReportsFieldsBySnakeOrJSONName(t *testing.T) {
	v := New()

	err := Struct(v, sample{Username: "bad name!", BrokerTOTP: "12ab"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	for _, f := range []string{"username", "api_key", "broker_totp"} {
		if _, ok := ve.Fields[f]; !ok {
			t.Fatalf("missing field %q in %+v", f, ve.Fields)
		}
	}
}

func TestStruct_Valid(t *testing.T) {
	if err := Struct(New(), sample{Username: "alice_01", APIKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSnake(t *testing.T) {
	cases := map[string]string{
		"APIKey":     "api_key",
		"BrokerTOTP": "broker_totp",
		"ClientID":   "client_id",
		"Username":   "username",
		"TOTPCode":   "totp_code",
	}
	for in, want := range cases {
		if got := snake(in); got != want {
			t.Fatalf("snake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUsernameTag_LettersDigitsUnderscore(t *testing.T) {
	v := New()
	cases := map[string]bool{
		"alice":    true,
		"Alice_01": true,
		"_x_":      true,
		"ali.ce":   false,
		"ali-ce":   false,
		"ali ce":   false,
		"alice@x":  false,
		"émile":    false,
	}
	for name, ok := range cases {
		err := Struct(v, sample{Username: name, APIKey: "k"})
		if (err == nil) != ok {
			t.Fatalf("username %q: valid=%v, err=%v", name, ok, err)
		}
	}
}
