package security

import "errors"

const (
	pinLength      = 7
	pinMaxAttempts = 100
)

// ErrPinSpaceExhausted means no unique security PIN could be minted within
// the attempt budget. Registration must fail loudly in that case.
var ErrPinSpaceExhausted = errors.New("could not generate a unique security pin")

// PinChecker reports how many live accounts already hold a given PIN.
type PinChecker interface {
	CountActiveWithPin(pin string) (int64, error)
}

// IssueSecurityPin mints a 7-char alphanumeric PIN that no active account
// holds. Generation is retried up to a bounded attempt count so a shrinking
// value space surfaces as an error instead of an endless loop.
func IssueSecurityPin(c PinChecker) (string, error) {
	for range pinMaxAttempts {
		pin, err := Generate(AlphabetAlnum, pinLength)
		if err != nil {
			return "", err
		}

		n, err := c.CountActiveWithPin(pin)
		if err != nil {
			return "", err
		}

		if n == 0 {
			return pin, nil
		}
	}

	return "", ErrPinSpaceExhausted
}
