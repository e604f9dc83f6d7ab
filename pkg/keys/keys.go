// Package keys implements the API key material used to authenticate
// project-scoped clients.
//
// A full key is the concatenation of the 22-character project identifier
// and a 43-character random secret. The first 8 characters of the secret
// form the key prefix, which is stored in clear alongside an Argon2id
// digest of the full key. The prefix narrows verification to a single
// candidate row; the digest comparison is constant-time.
package keys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/rfvault/rfvault/pkg/ids"
)

const (
	// PrefixLength is the number of secret characters stored in clear
	// for indexed candidate lookup.
	PrefixLength = 8

	// SecretLength is the length of the base64url-encoded secret
	// portion of a key (32 random bytes).
	SecretLength = 43

	secretBytes = 32
)

// Argon2id parameters, per the library's recommended defaults.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltBytes    = 16
)

// NewSecret returns a fresh 43-character URL-safe secret.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Split separates a presented key into its project identifier and key
// prefix. It validates shape only; it says nothing about whether the key
// is genuine.
func Split(presented string) (projectID, prefix string, err error) {
	if len(presented) != ids.Length+SecretLength {
		return "", "", fmt.Errorf(
			"malformed key: want length %d, got %d",
			ids.Length+SecretLength, len(presented),
		)
	}

	projectID = presented[:ids.Length]
	if !ids.Valid(projectID) {
		return "", "", fmt.Errorf("malformed key: invalid project id")
	}

	return projectID, presented[ids.Length : ids.Length+PrefixLength], nil
}

// Digest computes an Argon2id digest of the full key with a fresh random
// salt, encoded as "argon2id$<salt>$<hash>" with base64url components.
func Digest(key string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen,
	)

	return "argon2id$" +
		base64.RawURLEncoding.EncodeToString(salt) + "$" +
		base64.RawURLEncoding.EncodeToString(hash), nil
}

// Verify reports whether the presented key matches the stored digest.
// The hash comparison is constant-time.
func Verify(digest, presented string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}

	salt, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	want, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(want) != argonKeyLen {
		return false
	}

	got := argon2.IDKey(
		[]byte(presented), salt,
		argonTime, argonMemory, argonThreads, argonKeyLen,
	)

	return subtle.ConstantTimeCompare(got, want) == 1
}
