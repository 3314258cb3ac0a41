// Package recovery manages account recovery codes: generation, encrypted
// storage under the user's data key, verification, and the out-of-band
// recovery file.
package recovery

import (
	"crypto/subtle"

	"github.com/corpass/corpass/internal/common"
	"github.com/corpass/corpass/internal/fieldcipher"
)

// codeBytes is the entropy of a recovery code; 32 hex characters keep the
// code human-copyable.
const codeBytes = 16

// Generate produces a fresh random recovery code.
func Generate() (string, error) {
	return common.MakeRandHexString(codeBytes)
}

// Seal encrypts the recovery code under the user's unwrapped data key.
// Only the returned ciphertext is ever persisted.
func Seal(code string, dataKey []byte) (string, error) {
	return fieldcipher.EncryptField(code, dataKey)
}

// Verify decrypts storedCiphertext and compares it with candidate in
// constant time. Any mismatch or decrypt failure is
// common.ErrInvalidRecoveryCode; no partial matching.
func Verify(candidate, storedCiphertext string, dataKey []byte) error {
	code, err := fieldcipher.DecryptField(storedCiphertext, dataKey)
	if err != nil {
		return common.ErrInvalidRecoveryCode
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(candidate)) != 1 {
		return common.ErrInvalidRecoveryCode
	}
	return nil
}

// Reseal re-encrypts the stored code with a fresh IV after a successful
// recovery. The code itself does not change.
func Reseal(storedCiphertext string, dataKey []byte) (string, error) {
	code, err := fieldcipher.DecryptField(storedCiphertext, dataKey)
	if err != nil {
		return "", common.ErrInvalidRecoveryCode
	}
	return fieldcipher.EncryptField(code, dataKey)
}
