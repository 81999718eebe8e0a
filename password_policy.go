package authcore

import (
	"strings"
	"unicode/utf8"
)

// PasswordSymbols is the set of characters accepted as "special".
const PasswordSymbols = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

const minPasswordLength = 8

// PasswordStrength is the result of [ValidatePasswordStrength].
type PasswordStrength struct {
	Valid  bool
	Errors []string
}

// ValidatePasswordStrength checks every rule independently and reports all
// violations in a fixed order. Letter classes are ASCII only.
func ValidatePasswordStrength(password string) PasswordStrength {
	var problems []string

	if utf8.RuneCountInString(password) < minPasswordLength {
		problems = append(problems, "Password must be at least 8 characters long")
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}
	if !upper {
		problems = append(problems, "Password must contain at least one uppercase letter")
	}
	if !lower {
		problems = append(problems, "Password must contain at least one lowercase letter")
	}
	if !digit {
		problems = append(problems, "Password must contain at least one number")
	}
	if !symbol {
		problems = append(problems, "Password must contain at least one special character")
	}

	return PasswordStrength{Valid: len(problems) == 0, Errors: problems}
}

func passwordProblems(password string) []string {
	return ValidatePasswordStrength(password).Errors
}
