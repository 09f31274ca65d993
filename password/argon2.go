// Package password hashes and verifies user passwords with Argon2id encoded
// in the PHC string format, so hashes stay portable across parameter changes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidHash means the stored hash is not a parseable argon2id PHC string.
	ErrInvalidHash = errors.New("password: invalid hash format")
	// ErrIncompatibleVersion means the hash was produced by an unsupported argon2 version.
	ErrIncompatibleVersion = errors.New("password: incompatible argon2 version")
)

// Params are the Argon2id cost settings. Defaults follow the second
// RFC 9106 recommendation, tuned for interactive logins.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Params) validate() error {
	if p.Memory < 8*1024 {
		return errors.New("password: memory below 8 MiB")
	}
	if p.Iterations < 1 {
		return errors.New("password: iterations must be at least 1")
	}
	if p.Parallelism < 1 {
		return errors.New("password: parallelism must be at least 1")
	}
	if p.SaltLength < 8 {
		return errors.New("password: salt below 8 bytes")
	}
	if p.KeyLength < 16 {
		return errors.New("password: key below 16 bytes")
	}
	return nil
}

// Hasher hashes with a fixed parameter set and verifies any parseable hash,
// whatever parameters it was created with.
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Hash derives an argon2id hash and encodes it as a PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks a password against a stored PHC hash in constant time over
// the derived keys.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(password), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(key, derived) == 1, nil
}

// NeedsRehash reports whether a stored hash was created with weaker
// parameters than the hasher's current set.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	params, _, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	if params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism ||
		uint32(len(key)) < h.params.KeyLength {
		return true, nil
	}
	return false, nil
}

// DummyHash returns a well-formed hash of a throwaway password. Callers run a
// verify against it when no user record exists, so the request costs the same
// whether or not the identifier is known.
func (h *Hasher) DummyHash() string {
	hash, err := h.Hash("castellan-dummy-verification-password")
	if err != nil {
		// rand.Read failing means the process has no working entropy source.
		panic(err)
	}
	return hash
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrIncompatibleVersion
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
