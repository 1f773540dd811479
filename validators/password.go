package validators

import (
	"errors"
	"strings"
	"unicode"
)

// Special characters a password may draw from to satisfy the policy.
const PasswordSpecials = `!@#$%^&*(),.?":{}|<>`

var (
	ErrPasswordEmpty      = errors.New("no password provided")
	ErrPasswordTooShort   = errors.New("password must be at least 12 characters long")
	ErrPasswordTooLong    = errors.New("password is too long")
	ErrPasswordNoUpper    = errors.New("password must contain at least one uppercase letter")
	ErrPasswordNoLower    = errors.New("password must contain at least one lowercase letter")
	ErrPasswordNoDigit    = errors.New("password must contain at least one digit")
	ErrPasswordSpecials   = errors.New("password must contain at least two distinct special characters (e.g. !@#$%)")
	ErrPasswordRepetitive = errors.New("password must not repeat the same character three or more times in a row (e.g. aaa, 111)")
)

const (
	passwordMinLength = 12
	passwordMaxLength = 255
)

// PasswordPolicy runs every strength check independently and returns all
// failures so each one can be messaged precisely. An empty slice means the
// password passes.
func PasswordPolicy(p string) []error {
	if p == "" {
		return []error{ErrPasswordEmpty}
	}

	var failed []error

	if len(p) < passwordMinLength {
		failed = append(failed, ErrPasswordTooShort)
	}

	if len(p) > passwordMaxLength {
		failed = append(failed, ErrPasswordTooLong)
	}

	var hasUpper, hasLower, hasDigit bool
	specials := map[rune]struct{}{}

	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}

		if strings.ContainsRune(PasswordSpecials, r) {
			specials[r] = struct{}{}
		}
	}

	if !hasUpper {
		failed = append(failed, ErrPasswordNoUpper)
	}

	if !hasLower {
		failed = append(failed, ErrPasswordNoLower)
	}

	if !hasDigit {
		failed = append(failed, ErrPasswordNoDigit)
	}

	if len(specials) < 2 {
		failed = append(failed, ErrPasswordSpecials)
	}

	if hasRepeatRun(p) {
		failed = append(failed, ErrPasswordRepetitive)
	}

	return failed
}

// hasRepeatRun reports whether the string contains a run of 3 or more
// identical consecutive characters.
func hasRepeatRun(s string) bool {
	run := 1

	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
	}

	return false
}
