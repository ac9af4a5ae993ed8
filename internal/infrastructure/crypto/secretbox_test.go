package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockauth/stockauth/internal/core/ports"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestSecretBox_RoundTrip(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"", "JBSWY3DPEHPK3PXP", "api-key-with-ünïcode", strings.Repeat("x", 4096)} {
		sealed, err := box.Seal(ports.FieldBrokerAPIKey, plaintext)
		require.NoError(t, err)
		if plaintext != "" {
			assert.NotContains(t, string(sealed), plaintext)
		}

		opened, err := box.Open(ports.FieldBrokerAPIKey, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestSecretBox_FreshNoncePerSeal(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	a, err := box.Seal(ports.FieldTOTPSeed, "same")
	require.NoError(t, err)
	b, err := box.Seal(ports.FieldTOTPSeed, "same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestSecretBox_FieldBinding(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal(ports.FieldBrokerAccessToken, "token")
	require.NoError(t, err)

	_, err = box.Open(ports.FieldBrokerFeedToken, sealed)
	assert.ErrorIs(t, err, ErrSealedCorrupt)
}

func TestSecretBox_WrongKeyAndTampering(t *testing.T) {
	box, err := NewSecretBox(testKey)
	require.NoError(t, err)
	other, err := NewSecretBox([]byte("another-key-another-key-another-key"))
	require.NoError(t, err)

	sealed, err := box.Seal(ports.FieldTOTPSeed, "seed")
	require.NoError(t, err)

	_, err = other.Open(ports.FieldTOTPSeed, sealed)
	assert.ErrorIs(t, err, ErrSealedCorrupt)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = box.Open(ports.FieldTOTPSeed, tampered)
	assert.ErrorIs(t, err, ErrSealedCorrupt)

	_, err = box.Open(ports.FieldTOTPSeed, sealed[:5])
	assert.ErrorIs(t, err, ErrSealedCorrupt)
}

func TestNewSecretBox_ShortKey(t *testing.T) {
	_, err := NewSecretBox([]byte("short"))
	assert.ErrorIs(t, err, ErrKeyTooShort)
}
