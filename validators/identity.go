// Package validators contains validators found throughout the application
// that have been abstracted away from the main code
package validators

import (
	"errors"
	"net/mail"
	"regexp"
	"unicode"
)

var (
	ErrEmailEmpty   = errors.New("no email address provided")
	ErrEmailInvalid = errors.New("invalid email address provided")
	ErrEmailTooLong = errors.New("email address is too long")

	ErrUsernameInvalid = errors.New("username must start with a letter and contain only letters, numbers, or underscores")
	ErrUsernameLength  = errors.New("username must be between 2 and 30 characters")

	ErrNameInvalid = errors.New("name must contain only letters and start with a letter")
	ErrNameLength  = errors.New("name must be between 2 and 30 characters")
)

const (
	maxEmailLength = 100
	minNameLength  = 2
	maxNameLength  = 30
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

func EmailValidator(e string) error {
	if e == "" {
		return ErrEmailEmpty
	}

	if len(e) > maxEmailLength {
		return ErrEmailTooLong
	}

	if _, err := mail.ParseAddress(e); err != nil {
		return ErrEmailInvalid
	}

	return nil
}

func UsernameValidator(u string) error {
	if len(u) < minNameLength || len(u) > maxNameLength {
		return ErrUsernameLength
	}

	if !usernameRegex.MatchString(u) {
		return ErrUsernameInvalid
	}

	return nil
}

// NameValidator covers first names, last names and country names, which all
// share the letters-only rule.
func NameValidator(n string) error {
	if len(n) < minNameLength || len(n) > maxNameLength {
		return ErrNameLength
	}

	for _, r := range n {
		if !unicode.IsLetter(r) {
			return ErrNameInvalid
		}
	}

	return nil
}
