package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// ValidatePassword is the password policy gate applied when an employee
// account is created: at least 8 characters with both a letter and a
// digit. Existing hashes are never re-validated.
func ValidatePassword(plain string) bool {
	if len(plain) < 8 {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range plain {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a stored bcrypt hash against a login attempt.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
