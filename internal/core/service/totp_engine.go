package service

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20
	totpSkew       = 1
	qrCodeSize     = 256
)

// Enrollment is a freshly generated seed with its provisioning data.
type Enrollment struct {
	Seed   string
	URL    string
	QRCode string // base64 PNG of URL
}

// TOTPEngine generates seeds and checks codes per RFC 6238: SHA1, six digits,
// 30-second steps, one step of skew either way.
type TOTPEngine struct {
	issuer string
}

func NewTOTPEngine(issuer string) *TOTPEngine {
	return &TOTPEngine{issuer: issuer}
}

// NewSeed generates a random seed for accountName and renders its QR code.
func (e *TOTPEngine) NewSeed(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}

	return &Enrollment{
		Seed:   key.Secret(),
		URL:    key.URL(),
		QRCode: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Match reports whether code is valid for seed at time at, and the time step
// it matched.
func (e *TOTPEngine) Match(seed, code string, at time.Time) (int64, bool) {
	if len(code) != int(otp.DigitsSix) {
		return 0, false
	}

	step := at.Unix() / totpPeriod
	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		candidate := step + offset
		expected, err := totp.GenerateCodeCustom(seed, time.Unix(candidate*totpPeriod, 0), validateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return candidate, true
		}
	}
	return 0, false
}

// Code returns the code for seed at time at.
func (e *TOTPEngine) Code(seed string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(seed, at, validateOpts)
}

var validateOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}
