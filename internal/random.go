package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
)

type SessionID [16]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// NewOTP returns a fixed-length numeric code drawn uniformly from the range
// that excludes leading zeros, e.g. [100000, 999999] for 6 digits.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	low := big.NewInt(1)
	for i := 1; i < digits; i++ {
		low.Mul(low, big.NewInt(10))
	}
	span := new(big.Int).Mul(low, big.NewInt(9))

	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	n.Add(n, low)

	otp := n.String()
	if len(otp) != digits {
		return "", errors.New("invalid otp generation length")
	}
	return otp, nil
}

// backupCodeAlphabet omits characters that read ambiguously when printed
// (0/O, 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func NewBackupCode(length int) (string, error) {
	if length < 6 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	max := big.NewInt(int64(len(backupCodeAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}
