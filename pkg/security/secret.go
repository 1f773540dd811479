package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	AlphabetAlnum  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	AlphabetDigits = "0123456789"
)

const (
	registrationTokenLength = 64
	changeTokenLength       = 32
	tfaCodeLength           = 6
	sessionIDBytes          = 16
)

// Generate draws n characters from alphabet using the OS CSPRNG. Secrets are
// never produced from a general-purpose PRNG.
func Generate(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)

	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random source failed, %w", err)
		}

		b[i] = alphabet[idx.Int64()]
	}

	return string(b), nil
}

// RegistrationToken returns a 64-char token mailed out to verify a fresh
// registration.
func RegistrationToken() (string, error) {
	return Generate(AlphabetAlnum, registrationTokenLength)
}

// ChangeToken returns a 32-char token used for password resets and
// email-change verification.
func ChangeToken() (string, error) {
	return Generate(AlphabetAlnum, changeTokenLength)
}

// TFACode returns a 6-digit numeric second-factor code.
func TFACode() (string, error) {
	return Generate(AlphabetDigits, tfaCodeLength)
}

// SessionID returns a 16-byte hex session identifier.
func SessionID() (string, error) {
	b := make([]byte, sessionIDBytes)

	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("random source failed, %w", err)
	}

	return hex.EncodeToString(b), nil
}
