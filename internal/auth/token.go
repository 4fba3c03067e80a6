// Package auth issues and validates the bearer tokens that carry caller
// identity (user id + role) into the engine.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
)

const tokenPrefix = "cvt_"

// TokenService handles token creation, validation and revocation.
type TokenService struct {
	store storage.Backend
}

// NewTokenService creates a TokenService backed by the given storage.
func NewTokenService(store storage.Backend) *TokenService {
	return &TokenService{store: store}
}

// CreateToken mints a bearer token for a user. The plaintext is returned
// once; only its SHA-256 hash is persisted.
func (s *TokenService) CreateToken(ctx context.Context, userID int64, role, displayName string, ttl time.Duration) (*models.Token, string, error) {
	if role != models.RoleAdmin && role != models.RoleUser {
		return nil, "", fmt.Errorf("unknown role %q", role)
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	t := &models.Token{
		ID:          newUUID(),
		UserID:      userID,
		Role:        role,
		DisplayName: displayName,
		TTL:         ttl,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.WriteToken(ctx, t, HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting token: %w", err)
	}
	return t, plaintext, nil
}

// ValidateToken looks up a token by its plaintext value. Returns an error
// if not found, expired, or revoked.
func (s *TokenService) ValidateToken(ctx context.Context, plaintext string) (*models.Token, error) {
	token, err := s.store.GetToken(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.New("invalid token")
		}
		return nil, err
	}
	if token.IsRevoked() {
		return nil, errors.New("token has been revoked")
	}
	if token.IsExpired() {
		return nil, errors.New("token has expired")
	}
	return token, nil
}

// RevokeToken revokes a token by id.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	return s.store.RevokeToken(ctx, tokenID)
}

// HashToken returns the SHA-256 hex hash of a plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

func newUUID() string {
	b := make([]byte, 16)
	rand.Read(b) //nolint:errcheck
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
