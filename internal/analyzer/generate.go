// Package analyzer implements password generation, strength scoring and
// reuse detection against hashed history.
package analyzer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/org/credvault/pkg/models"
)

// Character set constants
const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSpecial   = "!@#$%^&*()_+-=[]{}|;:,.<>?~"

	ambiguousChars = "0Ol1I"

	MinLength = 8
	MaxLength = 128
)

// ErrInvalidConfig is returned when a generation request yields an empty
// effective character set or an out-of-range length.
var ErrInvalidConfig = errors.New("invalid password generation configuration")

// Generate produces a password of the requested length drawn uniformly and
// independently from the effective character set. Ambiguous characters are
// stripped after the class union, so excluding ambiguity never silently
// disables a whole class.
func Generate(req models.GeneratePasswordRequest) (string, error) {
	if req.Length < MinLength || req.Length > MaxLength {
		return "", fmt.Errorf("%w: length must be in [%d,%d]", ErrInvalidConfig, MinLength, MaxLength)
	}

	charset, err := buildCharset(req)
	if err != nil {
		return "", err
	}

	charsetLen := big.NewInt(int64(len(charset)))
	password := make([]byte, req.Length)
	for i := 0; i < req.Length; i++ {
		idx, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("drawing random character: %w", err)
		}
		password[i] = charset[idx.Int64()]
	}
	return string(password), nil
}

// buildCharset assembles the effective character set: the union of enabled
// classes, with the ambiguous set removed afterwards.
func buildCharset(req models.GeneratePasswordRequest) (string, error) {
	var sb strings.Builder
	if req.IncludeLowercase {
		sb.WriteString(charsetLowercase)
	}
	if req.IncludeUppercase {
		sb.WriteString(charsetUppercase)
	}
	if req.IncludeNumbers {
		sb.WriteString(charsetDigits)
	}
	if req.IncludeSpecial {
		sb.WriteString(charsetSpecial)
	}

	charset := sb.String()
	if req.ExcludeAmbiguous {
		charset = removeChars(charset, ambiguousChars)
	}
	if charset == "" {
		return "", fmt.Errorf("%w: effective character set is empty", ErrInvalidConfig)
	}
	return charset, nil
}

func removeChars(s, chars string) string {
	exclude := make(map[rune]bool, len(chars))
	for _, c := range chars {
		exclude[c] = true
	}
	var sb strings.Builder
	for _, c := range s {
		if !exclude[c] {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
