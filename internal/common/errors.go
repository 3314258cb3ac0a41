// Package common defines shared constants and sentinel errors used across
// the Corpass core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrIntegrity means a wrapped key failed authentication on unwrap:
	// the blob was tampered with or the server secret is wrong. Fatal for
	// the affected user's data; never retried.
	ErrIntegrity = errors.New("key wrap integrity check failed")

	// ErrDecrypt means a single encrypted field could not be decrypted
	// (wrong key or corrupted ciphertext). Fatal for that field only.
	ErrDecrypt = errors.New("field decrypt failed")

	// ErrInvalidToken covers every token failure: malformed, bad signature,
	// expired, or wrong scope. Always surfaces as unauthenticated.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRateLimited means the client address is locked out; retry after
	// the lockout expires.
	ErrRateLimited = errors.New("too many login attempts")

	// ErrInvalidRecoveryCode is returned on any recovery-code mismatch or
	// decrypt failure. No partial matching.
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")

	// ErrFormat is returned for malformed Cor-ID strings and other
	// user-supplied identifiers that fail to parse.
	ErrFormat = errors.New("invalid format")
)
