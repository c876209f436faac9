package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-verifier/internal/common/errors"
)

func TestNewSecretBox(t *testing.T) {
	_, err := NewSecretBox("")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	box, err := NewSecretBox("short")
	require.NoError(t, err)
	assert.NotNil(t, box)
}

func TestSecretBox_SealOpen(t *testing.T) {
	box, err := NewSecretBox("an-operator-supplied-passphrase")
	require.NoError(t, err)

	sealed, err := box.Seal("whsec_abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, EncryptedPrefix))
	assert.NotContains(t, sealed, "whsec_abc123")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc123", opened)

	t.Run("randomised nonce", func(t *testing.T) {
		again, err := box.Seal("whsec_abc123")
		require.NoError(t, err)
		assert.NotEqual(t, sealed, again)
	})
}

func TestSecretBox_OpenFailures(t *testing.T) {
	box, err := NewSecretBox("key-one")
	require.NoError(t, err)
	other, err := NewSecretBox("key-two")
	require.NoError(t, err)

	sealed, err := box.Seal("secret")
	require.NoError(t, err)

	tests := []struct {
		name  string
		box   *SecretBox
		value string
	}{
		{"wrong key", other, sealed},
		{"not base64", box, "enc:%%%"},
		{"too short", box, "enc:AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.box.Open(tt.value)
			assert.Error(t, err)
		})
	}
}

func TestReveal(t *testing.T) {
	box, err := NewSecretBox("passphrase")
	require.NoError(t, err)
	sealed, err := box.Seal("plain-secret")
	require.NoError(t, err)

	got, err := Reveal(nil, "plain-secret")
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", got)

	got, err = Reveal(box, sealed)
	require.NoError(t, err)
	assert.Equal(t, "plain-secret", got)

	_, err = Reveal(nil, sealed)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
