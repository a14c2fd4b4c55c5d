package auth

import (
	"fmt"
	"unicode/utf8"

	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72
)

// ValidatePassword enforces the password policy. bcrypt ignores anything
// past 72 bytes, so longer passwords are refused rather than truncated.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return apperr.Unprocessable(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return apperr.Unprocessable(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
