package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPINHashAndVerify(t *testing.T) {
	hash, err := HashPIN("123456")
	require.NoError(t, err)
	assert.NotEqual(t, "123456", hash)

	assert.True(t, VerifyPIN("123456", hash))
	assert.False(t, VerifyPIN("654321", hash))
	assert.False(t, VerifyPIN("123456", "not-a-hash"))
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(24)
	require.NoError(t, err)
	b, err := GenerateRandomString(24)
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
	// URL-safe: no padding or reserved characters
	assert.NotContains(t, a, "=")
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("host-identity")
	assert.Len(t, fp, 16)
	// stable for the same identity
	assert.Equal(t, fp, Fingerprint("host-identity"))
	assert.NotEqual(t, fp, Fingerprint("other-identity"))
}

func TestRandomFingerprint(t *testing.T) {
	a, err := RandomFingerprint()
	require.NoError(t, err)
	b, err := RandomFingerprint()
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}
