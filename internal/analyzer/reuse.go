package analyzer

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/org/credvault/pkg/models"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters following OWASP recommendations.
const (
	argonMemory  = 64 * 1024 // KiB
	argonTime    = 3
	argonThreads = 4
	hashLength   = 32
	saltLength   = 16
)

// HashPassword produces a salted Argon2id hash encoded as base64(salt)$base64(hash).
// One-way only; used for reuse detection, never for recovery.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, hashLength)
	return base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(hash), nil
}

// matchesHash re-derives the candidate under the stored salt and compares in
// constant time. Malformed entries compare as non-matching.
func matchesHash(password, encoded string) bool {
	salt64, hash64, ok := strings.Cut(encoded, "$")
	if !ok {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(salt64)
	if err != nil {
		return false
	}
	stored, err := base64.RawStdEncoding.DecodeString(hash64)
	if err != nil || len(stored) != hashLength {
		return false
	}
	derived := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, hashLength)
	return subtle.ConstantTimeCompare(derived, stored) == 1
}

// HistorySource is the slice of storage the reuse check needs.
type HistorySource interface {
	ListPasswordHistory(ctx context.Context, secretID int64) ([]*models.PasswordHistory, error)
}

// CheckReuse reports whether the candidate matches any password history row
// for the secret, including the still-active current password. Every row is
// checked so the result's timing does not reveal which entry matched.
func CheckReuse(ctx context.Context, src HistorySource, secretID int64, password string) (bool, error) {
	rows, err := src.ListPasswordHistory(ctx, secretID)
	if err != nil {
		return false, fmt.Errorf("loading password history: %w", err)
	}
	return MatchesHistory(password, rows), nil
}

// MatchesHistory compares the candidate against already-loaded history rows.
// Callers that read history under a transaction use this directly so the
// check and the write see the same rows.
func MatchesHistory(password string, rows []*models.PasswordHistory) bool {
	reused := false
	for _, h := range rows {
		if matchesHash(password, h.PasswordHash) {
			reused = true
		}
	}
	return reused
}
