package castellan

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// totpManager wraps authenticator-app code generation and verification. The
// secret travels as its base32 encoding, which is what provisioning URIs and
// authenticator apps exchange anyway.
type totpManager struct {
	issuer    string
	digits    otp.Digits
	period    uint
	algorithm otp.Algorithm
	skew      int
}

func newTOTPManager(cfg TOTPConfig) (*totpManager, error) {
	alg, err := totpAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	digits := otp.DigitsSix
	if cfg.Digits == 8 {
		digits = otp.DigitsEight
	}
	return &totpManager{
		issuer:    cfg.Issuer,
		digits:    digits,
		period:    uint(cfg.Period),
		algorithm: alg,
		skew:      cfg.Skew,
	}, nil
}

func totpAlgorithm(name string) (otp.Algorithm, error) {
	switch name {
	case "SHA1", "":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("unsupported totp algorithm %q", name)
	}
}

// GenerateSecret creates a new enrollment secret and its otpauth:// URI.
func (m *totpManager) GenerateSecret(accountName string) (secret []byte, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
		Period:      m.period,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return nil, "", fmt.Errorf("generate totp secret: %w", err)
	}
	return []byte(key.Secret()), key.URL(), nil
}

// VerifyCode checks a submitted code against the secret across the configured
// skew window. On success it also returns the time-step counter the code
// matched, so the caller can reject replays of the same step.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64) {
	if len(code) != m.digits.Length() {
		return false, 0
	}
	base := now.Unix() / int64(m.period)
	for offset := -m.skew; offset <= m.skew; offset++ {
		at := time.Unix((base+int64(offset))*int64(m.period), 0)
		expected, err := totp.GenerateCodeCustom(string(secret), at, totp.ValidateOpts{
			Period:    m.period,
			Skew:      0,
			Digits:    m.digits,
			Algorithm: m.algorithm,
		})
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, base + int64(offset)
		}
	}
	return false, 0
}
