// Package fieldcipher encrypts and decrypts individual secret fields
// (site passwords, usernames, notes) under a user's unwrapped data key.
//
// Wire format is base64(iv ‖ AES-CBC ciphertext) with PKCS#7 padding,
// matching the shape of the stored records. A fresh random IV is drawn per
// call and never reused across fields or updates.
package fieldcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"

	"github.com/corpass/corpass/internal/common"
)

// EncryptField encrypts plaintext (UTF-8) under dataKey and returns
// base64(iv ‖ ciphertext). The empty string is a valid plaintext and
// round-trips to one padding block.
func EncryptField(plaintext string, dataKey []byte) (string, error) {
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return "", err
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	iv := common.GenerateRandByteArray(aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return base64.StdEncoding.EncodeToString(append(iv, ct...)), nil
}

// DecryptField reverses EncryptField. Undecodable input, a ciphertext that is
// not a whole number of blocks, or invalid padding (wrong key or corrupted
// data) returns common.ErrDecrypt.
func DecryptField(encoded string, dataKey []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", common.ErrDecrypt
	}
	if len(raw) < 2*aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return "", common.ErrDecrypt
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return "", common.ErrDecrypt
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	plain, ok := unpad(padded, aes.BlockSize)
	if !ok {
		return "", common.ErrDecrypt
	}
	return string(plain), nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
