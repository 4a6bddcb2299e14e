// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Password hash algorithm tags stored next to each hash.
const (
	AlgArgon2id = "argon2id"
	AlgBcrypt   = "bcrypt"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash returns the algorithm tag and encoded hash of password.
	Hash(password string) (alg, hash string, err error)

	// Verify checks password against a hash produced by alg.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid hash.
	Verify(alg, hash, password string) (bool, error)
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params are the OWASP-recommended argon2id parameters.
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

// Hasher hashes new passwords with argon2id and verifies both argon2id and
// legacy bcrypt hashes.
type Hasher struct {
	params Argon2Params
}

// NewHasher creates a Hasher with DefaultArgon2Params.
func NewHasher() *Hasher {
	return &Hasher{params: DefaultArgon2Params}
}

// NewHasherWithParams creates a Hasher with custom argon2id parameters.
func NewHasherWithParams(params Argon2Params) *Hasher {
	return &Hasher{params: params}
}

// Hash produces an argon2id hash of the password in PHC string format.
func (h *Hasher) Hash(password string) (string, string, error) {
	if password == "" {
		return "", "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return AlgArgon2id, encoded, nil
}

// Verify checks if the password matches the hash. An empty alg is inferred
// from the hash prefix.
func (h *Hasher) Verify(alg, encodedHash, password string) (bool, error) {
	if alg == "" {
		alg = detectAlg(encodedHash)
	}

	switch alg {
	case AlgArgon2id:
		return verifyArgon2id(encodedHash, password)
	case AlgBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, oops.Code("AUTH_INVALID_HASH").With("alg", alg).Wrap(err)
		}
		return true, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", alg)
	}
}

// NeedsUpgrade returns true if hashes of alg should be replaced with argon2id.
func (h *Hasher) NeedsUpgrade(alg string) bool {
	return alg != AlgArgon2id
}

func detectAlg(encodedHash string) string {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return AlgArgon2id
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return AlgBcrypt
	}
	return ""
}

func verifyArgon2id(encodedHash, password string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != AlgArgon2id {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1<<30 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
