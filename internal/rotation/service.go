// Package rotation implements password rotation, rotation schedules, due
// alerts and compliance metrics.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/credvault/internal/access"
	"github.com/org/credvault/internal/analyzer"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrPasswordReused is returned when the replacement password matches the
// current or any retired password for the secret.
var ErrPasswordReused = errors.New("password matches a current or previous value")

// ErrNotAPassword is returned when a rotation targets a non-password secret.
var ErrNotAPassword = errors.New("secret is not a password")

// Service is the rotation engine.
type Service struct {
	store     storage.Backend
	acl       *access.Service
	masterKey []byte

	Now func() time.Time
}

// NewService creates a rotation Service.
func NewService(store storage.Backend, acl *access.Service, masterKey []byte) *Service {
	return &Service{store: store, acl: acl, masterKey: masterKey, Now: time.Now}
}

// Rotate replaces a password secret's value. The old value retires into
// history, the new hash becomes the single live history row, the secret is
// re-encrypted and rescored, and the version log and rotation history gain
// one entry each. All of it is one transaction.
func (s *Service) Rotate(ctx context.Context, caller *models.Token, secretID int64, newPassword, reason string, batchID *string) error {
	secret, err := s.store.GetSecret(ctx, secretID)
	if err != nil {
		return err
	}
	if secret.SecretType != models.SecretTypePassword {
		return ErrNotAPassword
	}
	if err := s.acl.Check(ctx, caller, secret.VaultID, models.PermissionWrite); err != nil {
		return err
	}

	newHash, err := analyzer.HashPassword(newPassword)
	if err != nil {
		return err
	}
	score := analyzer.Score(newPassword).Score

	key, err := crypto.DeriveVaultKey(s.masterKey, secret.VaultID)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(key)

	now := s.Now().UTC()
	err = s.store.VaultTx(ctx, secret.VaultID, func(tx storage.VaultTx) error {
		// Reuse is checked under the vault lock so a concurrent rotation
		// cannot slip the same value past it.
		rows, err := tx.ListPasswordHistory(secretID)
		if err != nil {
			return fmt.Errorf("loading password history: %w", err)
		}
		if analyzer.MatchesHistory(newPassword, rows) {
			return ErrPasswordReused
		}
		if err := tx.RetirePasswordHistory(secretID, now); err != nil {
			return fmt.Errorf("retiring password history: %w", err)
		}
		if err := tx.InsertPasswordHistory(&models.PasswordHistory{
			SecretID:     secretID,
			PasswordHash: newHash,
			CreatedAt:    now,
		}); err != nil {
			return fmt.Errorf("recording new password: %w", err)
		}

		secret.Version++
		ciphertext, nonce, err := crypto.Encrypt([]byte(newPassword), key, crypto.VersionAAD(secret.ID, secret.Version))
		if err != nil {
			return fmt.Errorf("encrypting password: %w", err)
		}
		secret.EncryptedValue = ciphertext
		secret.Nonce = nonce
		secret.StrengthScore = &score
		secret.LastChanged = &now
		secret.UpdatedAt = now
		if err := tx.UpdateSecret(secret); err != nil {
			return err
		}

		if err := tx.AppendVaultVersion(&models.VaultVersion{
			VaultID:    secret.VaultID,
			ChangeType: models.ChangeSecretUpdated,
			Author:     caller.UserID,
			Timestamp:  now,
			Notes:      reason,
			Changes:    map[string]any{"secret_id": secretID, "rotated": true},
		}); err != nil {
			return err
		}
		if err := tx.InsertRotationHistory(&models.PasswordRotationHistory{
			SecretID:  secretID,
			VaultID:   secret.VaultID,
			BatchID:   batchID,
			Reason:    reason,
			RotatedBy: caller.UserID,
			RotatedAt: now,
		}); err != nil {
			return err
		}
		return tx.TouchVault(now)
	})
	if err != nil {
		return err
	}
	log.Info().Int64("secret_id", secretID).Int64("rotated_by", caller.UserID).Msg("password rotated")
	return nil
}

// BatchItem is one secret to rotate within a batch.
type BatchItem struct {
	SecretID    int64  `json:"secret_id"`
	NewPassword string `json:"new_password"`
}

// RotateBatch applies Rotate per item under one batch id. Items are
// independent transactions: failures are collected into the report and do
// not roll back rotations already applied.
func (s *Service) RotateBatch(ctx context.Context, caller *models.Token, items []BatchItem, reason string) *models.BatchReport {
	batchID := newBatchID()
	report := &models.BatchReport{BatchID: batchID}
	for _, item := range items {
		res := models.BatchItemResult{SecretID: item.SecretID, OK: true}
		if err := s.Rotate(ctx, caller, item.SecretID, item.NewPassword, reason, &batchID); err != nil {
			res.OK = false
			res.Error = err.Error()
			report.Failed++
		} else {
			report.Rotated++
		}
		report.Items = append(report.Items, res)
	}
	return report
}

// SetSchedule installs a vault's rotation policy, replacing any active
// schedule. Requires Write.
func (s *Service) SetSchedule(ctx context.Context, caller *models.Token, vaultID int64, intervalDays, alertDaysBefore int) (*models.RotationSchedule, error) {
	if intervalDays <= 0 {
		return nil, errors.New("rotation interval must be positive")
	}
	if alertDaysBefore < 0 {
		return nil, errors.New("alert days must not be negative")
	}
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionWrite); err != nil {
		return nil, err
	}
	if _, err := s.store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	sched := &models.RotationSchedule{
		VaultID:          vaultID,
		RotationInterval: intervalDays,
		AlertDaysBefore:  alertDaysBefore,
		IsActive:         true,
		CreatedBy:        caller.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("saving schedule: %w", err)
	}
	return sched, nil
}

// GetSchedule returns the vault's active schedule, if any.
func (s *Service) GetSchedule(ctx context.Context, caller *models.Token, vaultID int64) (*models.RotationSchedule, error) {
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.store.GetActiveSchedule(ctx, vaultID)
}
