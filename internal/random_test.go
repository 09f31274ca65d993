package internal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOTPLengthAndRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := NewOTP(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}

func TestNewOTPDigitBounds(t *testing.T) {
	_, err := NewOTP(5)
	assert.Error(t, err)
	_, err = NewOTP(11)
	assert.Error(t, err)

	code, err := NewOTP(8)
	require.NoError(t, err)
	assert.Len(t, code, 8)
}

func TestNewBackupCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewBackupCode(10)
		require.NoError(t, err)
		require.Len(t, code, 10)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(backupCodeAlphabet, c), "unexpected character %q", c)
		}
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	require.NoError(t, err)

	encoded := sid.String()
	assert.NotContains(t, encoded, "=")

	parsed, err := ParseSessionID(encoded)
	require.NoError(t, err)
	assert.Equal(t, sid, parsed)
}

func TestParseSessionIDRejectsGarbage(t *testing.T) {
	_, err := ParseSessionID("not base64url!!")
	assert.Error(t, err)
	_, err = ParseSessionID("c2hvcnQ")
	assert.Error(t, err)
}

func TestHashCodeDeterministic(t *testing.T) {
	assert.Equal(t, HashCode("123456"), HashCode("123456"))
	assert.NotEqual(t, HashCode("123456"), HashCode("123457"))
}
