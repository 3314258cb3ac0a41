// Package keywrap implements envelope encryption of per-user data keys.
//
// Each user owns a 128-bit data key that encrypts their stored secret fields.
// At rest, the data key itself is encrypted ("wrapped") under a key derived
// from the server-wide secret, so a database dump alone reveals nothing.
package keywrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"

	"github.com/corpass/corpass/internal/common"
)

const (
	// DataKeySize is the size of a user data key (AES-128).
	DataKeySize = 16

	saltSize   = 16
	ivSize     = aes.BlockSize
	tagSize    = sha256.Size
	kdfIters   = 100_000
	kdfKeyLen  = 32
	envVersion = 0x80
)

// GenerateDataKey produces a fresh 128-bit data key by hashing a 32-byte
// random token with SHA-256 and truncating to 16 bytes.
func GenerateDataKey() []byte {
	token := common.GenerateRandByteArray(32)
	sum := sha256.Sum256(token)
	common.WipeByteArray(token)
	return sum[:DataKeySize]
}

// Wrap encrypts dataKey under a wrapping key derived from serverSecret.
//
// Layout of the returned blob, base64-encoded:
//
//	salt(16) ‖ version(1) ‖ iv(16) ‖ AES-128-CBC(pkcs7(dataKey)) ‖ HMAC-SHA256(32)
//
// The salt is random per call, so wrapping the same key twice yields
// different blobs. The HMAC covers version‖iv‖ciphertext.
func Wrap(dataKey []byte, serverSecret string) (string, error) {
	salt := common.GenerateRandByteArray(saltSize)
	encKey, macKey := deriveKeys(serverSecret, salt)
	defer common.WipeByteArray(encKey)
	defer common.WipeByteArray(macKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad(dataKey, aes.BlockSize)
	iv := common.GenerateRandByteArray(ivSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	envelope := make([]byte, 0, 1+ivSize+len(ct)+tagSize)
	envelope = append(envelope, envVersion)
	envelope = append(envelope, iv...)
	envelope = append(envelope, ct...)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(envelope)
	envelope = mac.Sum(envelope)

	blob := append(salt, envelope...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Unwrap reverses Wrap. It re-derives the wrapping key from the salt prefix
// and serverSecret, verifies the HMAC tag, and only then decrypts.
//
// Any truncation, version mismatch, tag mismatch, or padding fault returns
// common.ErrIntegrity. Unwrap never returns unauthenticated key bytes.
func Unwrap(wrapped string, serverSecret string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	// salt + version + iv + at least one block + tag
	if len(blob) < saltSize+1+ivSize+aes.BlockSize+tagSize {
		return nil, common.ErrIntegrity
	}

	salt, envelope := blob[:saltSize], blob[saltSize:]
	encKey, macKey := deriveKeys(serverSecret, salt)
	defer common.WipeByteArray(encKey)
	defer common.WipeByteArray(macKey)

	body, tag := envelope[:len(envelope)-tagSize], envelope[len(envelope)-tagSize:]
	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return nil, common.ErrIntegrity
	}
	if body[0] != envVersion {
		return nil, common.ErrIntegrity
	}

	iv, ct := body[1:1+ivSize], body[1+ivSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, common.ErrIntegrity
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	key, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	return key, nil
}

// deriveKeys stretches serverSecret with PBKDF2-HMAC-SHA256 and splits the
// 32-byte output into an AES-128 key and an HMAC key.
func deriveKeys(serverSecret string, salt []byte) (encKey, macKey []byte) {
	derived := pbkdf2.Key([]byte(serverSecret), salt, kdfIters, kdfKeyLen, sha256.New)
	return derived[:16], derived[16:]
}
