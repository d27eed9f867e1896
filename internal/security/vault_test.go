package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestVaultRoundTrip(t *testing.T) {
	v, err := NewVault(testKey())
	require.NoError(t, err)

	plaintext := "api-secret-xyz-123"
	ciphertext, err := v.EncryptString(plaintext)
	require.NoError(t, err)
	require.NotContains(t, string(ciphertext), plaintext)

	decrypted, err := v.DecryptString(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestVaultTamperedCiphertextFails(t *testing.T) {
	v, err := NewVault(testKey())
	require.NoError(t, err)

	ciphertext, err := v.EncryptString("secret")
	require.NoError(t, err)

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = v.Decrypt(tampered)
	require.Error(t, err)
}

func TestVaultWrongKeyFails(t *testing.T) {
	v1, err := NewVault(testKey())
	require.NoError(t, err)
	v2, err := NewVault(bytes.Repeat([]byte("z"), 32))
	require.NoError(t, err)

	ciphertext, err := v1.EncryptString("secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestVaultUnsupportedVersion(t *testing.T) {
	v, err := NewVault(testKey())
	require.NoError(t, err)

	ciphertext, err := v.EncryptString("secret")
	require.NoError(t, err)
	ciphertext[0] = 99

	_, err = v.Decrypt(ciphertext)
	require.Error(t, err)
	var verErr ErrUnsupportedVaultVersion
	require.ErrorAs(t, err, &verErr)
	require.Equal(t, byte(99), verErr.Version)
}

func TestNewVaultRejectsBadKeyLength(t *testing.T) {
	_, err := NewVault([]byte("too-short"))
	require.Error(t, err)
}
