package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCardNumber is returned when a card number is too short to hash
// or to derive the last four digits from.
var ErrInvalidCardNumber = errors.New("card number must have at least four digits")

// NormalizeCardNumber strips spaces and dashes so hashing and matching see
// one canonical form.
func NormalizeCardNumber(number string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
}

// LastFour returns the last four digits of a card number.
func LastFour(number string) (string, error) {
	n := NormalizeCardNumber(number)
	if len(n) < 4 {
		return "", ErrInvalidCardNumber
	}
	return n[len(n)-4:], nil
}

// HashCard produces a bcrypt hash of the card number. The full number is
// never stored; the hash plus the last four digits are enough to locate a
// pledge by card later.
func HashCard(number string) (string, error) {
	n := NormalizeCardNumber(number)
	if len(n) < 4 {
		return "", ErrInvalidCardNumber
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(n), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash card number: %w", err)
	}
	return string(hash), nil
}

// MatchCard reports whether the card number matches the stored hash.
func MatchCard(hash, number string) bool {
	n := NormalizeCardNumber(number)
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(n)) == nil
}
