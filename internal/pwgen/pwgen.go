// Package pwgen generates random passwords and word-based passphrases for
// stored records.
package pwgen

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowercase = "abcdefghijklmnopqrstuvwxyz"
	digits    = "0123456789"
	special   = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// TODO: replace the built-in list with a proper wordlist shipped as data.
var words = []string{
	"apple", "banana", "cherry", "date", "fig", "grape",
	"kiwi", "lemon", "mango", "nectarine", "orange", "papaya",
}

// ErrNoCharacters is returned when every character class is disabled.
var ErrNoCharacters = errors.New("no characters available for password generation")

// Settings selects which character classes a generated password draws from.
type Settings struct {
	Length           int
	IncludeUppercase bool
	IncludeLowercase bool
	IncludeDigits    bool
	IncludeSpecial   bool
}

// Generate returns a random password of Settings.Length characters drawn
// uniformly from the enabled classes.
func Generate(s Settings) (string, error) {
	var charset string
	if s.IncludeUppercase {
		charset += uppercase
	}
	if s.IncludeLowercase {
		charset += lowercase
	}
	if s.IncludeDigits {
		charset += digits
	}
	if s.IncludeSpecial {
		charset += special
	}
	if charset == "" {
		return "", ErrNoCharacters
	}

	var b strings.Builder
	for i := 0; i < s.Length; i++ {
		c, err := randIndex(len(charset))
		if err != nil {
			return "", err
		}
		b.WriteByte(charset[c])
	}
	return b.String(), nil
}

// GenerateWords returns a passphrase of numWords dash-joined random words.
func GenerateWords(numWords int) (string, error) {
	parts := make([]string, numWords)
	for i := range parts {
		c, err := randIndex(len(words))
		if err != nil {
			return "", err
		}
		parts[i] = words[c]
	}
	return strings.Join(parts, "-"), nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
