package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"
)

// SecretStrength grades a credential by length and character variety.
type SecretStrength int

const (
	SecretStrengthWeak SecretStrength = iota
	SecretStrengthMedium
	SecretStrengthStrong
)

// Substrings that mark a value as an unedited template default.
var placeholderMarkers = []string{
	"changeme", "please_change_me", "your_secret", "test123", "password", "admin",
	"secret", "postgres", "killcore", "example", "sample", "localhost", "default",
}

var knownWeakPasswords = []string{
	"123456", "12345678", "qwerty", "abc123", "letmein", "trustno1", "iloveyou", "passw0rd", "qazwsx",
}

// SecretValidationResult contains the result of secret validation
type SecretValidationResult struct {
	IsValid  bool
	Strength SecretStrength
	Errors   []string
	Warnings []string
}

func (r *SecretValidationResult) reject(format string, args ...any) {
	r.IsValid = false
	r.Strength = SecretStrengthWeak
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// ValidateSecret checks a secret for placeholders, weak values, length and
// character composition. requireStrong rejects weak secrets outright.
func ValidateSecret(secret string, name string, minLength int, requireStrong bool) SecretValidationResult {
	result := SecretValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}

	lower := strings.ToLower(secret)
	switch {
	case secret == "":
		result.reject("%s cannot be empty", name)
		return result
	case slices.Contains(knownWeakPasswords, lower):
		result.reject("%s is a commonly known weak password", name)
		return result
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			result.reject("%s appears to be a placeholder value (%s)", name, marker)
			return result
		}
	}
	if len(secret) < minLength {
		result.reject("%s must be at least %d characters (got %d)", name, minLength, len(secret))
		return result
	}

	result.Strength = gradeSecret(secret)
	if hasSequentialChars(secret) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s contains sequential characters (e.g., 123, abc)", name))
		if result.Strength == SecretStrengthMedium {
			result.Strength = SecretStrengthWeak
		}
	}
	if hasRepeatedChars(secret, 3) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s contains repeated characters", name))
	}

	if requireStrong {
		switch result.Strength {
		case SecretStrengthWeak:
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s is too weak for production use", name))
		case SecretStrengthMedium:
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s has medium strength - consider using a stronger secret", name))
		}
	}
	return result
}

// gradeSecret counts character classes: upper, lower, digit and symbol.
func gradeSecret(secret string) SecretStrength {
	classes := map[string]bool{}
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			classes["upper"] = true
		case unicode.IsLower(r):
			classes["lower"] = true
		case unicode.IsDigit(r):
			classes["digit"] = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			classes["symbol"] = true
		}
	}

	switch n := len(classes); {
	case len(secret) >= 16 && n >= 3:
		return SecretStrengthStrong
	case len(secret) >= 12 && n >= 2:
		return SecretStrengthMedium
	default:
		return SecretStrengthWeak
	}
}

// hasSequentialChars reports ascending runs like "123" or "abc".
func hasSequentialChars(s string) bool {
	lower := strings.ToLower(s)
	for i := 0; i+2 < len(lower); i++ {
		c := lower[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'z') {
			continue
		}
		if lower[i+1] == c+1 && lower[i+2] == c+2 {
			return true
		}
	}
	return false
}

// hasRepeatedChars reports n identical bytes in a row.
func hasRepeatedChars(s string, n int) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

// databasePassword extracts the password embedded in a connection URL.
func databasePassword(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.User == nil {
		return ""
	}
	password, _ := u.User.Password()
	return password
}

// ValidateProductionSecrets validates every configured credential for
// production use.
func ValidateProductionSecrets(cfg *Config) ValidationErrors {
	const minProductionLength = 12

	type check struct {
		field, label string
		value        string
		minLength    int
		strong       bool
	}
	var checks []check

	if cfg.Storage.Backend == "postgres" {
		if password := databasePassword(cfg.Storage.DatabaseURL); password != "" {
			checks = append(checks, check{"storage.database_url", "Database password", password, minProductionLength, true})
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Password != "" {
		checks = append(checks, check{"redis.password", "Redis password", cfg.Redis.Password, minProductionLength, true})
	}
	// Badger keys are raw AES keys; only placeholders and short values are rejected.
	if cfg.Storage.Backend == "badger" && cfg.Storage.EncryptionKey != "" {
		checks = append(checks, check{"storage.encryption_key", "Storage encryption key", cfg.Storage.EncryptionKey, 16, false})
	}

	var errs ValidationErrors
	for _, c := range checks {
		result := ValidateSecret(c.value, c.label, c.minLength, c.strong)
		if result.IsValid {
			continue
		}
		for _, msg := range result.Errors {
			errs = append(errs, ValidationError{Field: c.field, Message: msg})
		}
	}
	return errs
}
