// Package vault implements the secret store: vault and secret lifecycle,
// the append-only version log, and the decrypt gate.
package vault

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

// ErrDuplicateVault is returned when the asset already owns a vault.
var ErrDuplicateVault = errors.New("asset already has a vault")

// ErrPasswordViaRotation is returned when a bare value overwrite targets a
// password secret; password changes must retire the old value into history.
var ErrPasswordViaRotation = errors.New("password values change through rotation")

// Store is the vault and secret engine. Every operation that touches a
// secret value or vault structure runs the access gate first.
type Store struct {
	store     storage.Backend
	acl       *access.Service
	masterKey []byte

	Now func() time.Time
}

// NewStore creates a vault Store. The master key is held for per-vault key
// derivation only; it never leaves this process.
func NewStore(store storage.Backend, acl *access.Service, masterKey []byte) *Store {
	return &Store{store: store, acl: acl, masterKey: masterKey, Now: time.Now}
}

// CreateVault creates a vault for an asset. At most one vault per asset.
// The vault row and its VaultCreated log entry commit together.
func (s *Store) CreateVault(ctx context.Context, caller *models.Token, assetID *int64, name, description string) (*models.Vault, error) {
	if name == "" {
		return nil, errors.New("vault name is required")
	}
	now := s.Now().UTC()
	v := &models.Vault{
		AssetID:     assetID,
		Name:        name,
		Description: description,
		CreatedBy:   caller.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ver := &models.VaultVersion{
		ChangeType: models.ChangeVaultCreated,
		Author:     caller.UserID,
		Timestamp:  now,
		Notes:      "vault created",
		Changes:    map[string]any{"name": name},
	}
	if err := s.store.CreateVault(ctx, v, ver); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrDuplicateVault
		}
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	log.Info().Int64("vault_id", v.ID).Int64("created_by", caller.UserID).Msg("vault created")
	return v, nil
}

// GetVault fetches vault metadata. Requires Read.
func (s *Store) GetVault(ctx context.Context, caller *models.Token, vaultID int64) (*models.Vault, error) {
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.store.GetVault(ctx, vaultID)
}

// ListSecrets lists a vault's secrets (metadata only, values stay
// encrypted). Requires Read.
func (s *Store) ListSecrets(ctx context.Context, caller *models.Token, vaultID int64) ([]*models.Secret, error) {
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.store.ListSecrets(ctx, vaultID)
}

// AddSecret encrypts and stores a new secret. Passwords get a strength
// score and their first history row. The secret, its history row and the
// SecretAdded log entry commit in one transaction.
func (s *Store) AddSecret(ctx context.Context, caller *models.Token, vaultID int64, st models.SecretType, label, plaintext string, method models.GenerationMethod) (*models.Secret, error) {
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionWrite); err != nil {
		return nil, err
	}
	if label == "" {
		return nil, errors.New("secret label is required")
	}
	if method == "" {
		method = models.GenerationManual
	}

	key, err := crypto.DeriveVaultKey(s.masterKey, vaultID)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(key)

	now := s.Now().UTC()
	secret := &models.Secret{
		VaultID:          vaultID,
		SecretType:       st,
		Label:            label,
		GenerationMethod: method,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var passwordHash string
	if st == models.SecretTypePassword {
		score := analyzer.Score(plaintext).Score
		secret.StrengthScore = &score
		secret.LastChanged = &now
		passwordHash, err = analyzer.HashPassword(plaintext)
		if err != nil {
			return nil, err
		}
	}

	err = s.store.VaultTx(ctx, vaultID, func(tx storage.VaultTx) error {
		// Insert first to learn the id, then bind the ciphertext to it.
		secret.EncryptedValue = []byte{}
		secret.Nonce = []byte{}
		secret.Version = 1
		if err := tx.InsertSecret(secret); err != nil {
			return fmt.Errorf("inserting secret: %w", err)
		}
		ciphertext, nonce, err := crypto.Encrypt([]byte(plaintext), key, crypto.VersionAAD(secret.ID, secret.Version))
		if err != nil {
			return fmt.Errorf("encrypting secret: %w", err)
		}
		secret.EncryptedValue = ciphertext
		secret.Nonce = nonce
		if err := tx.UpdateSecret(secret); err != nil {
			return fmt.Errorf("storing ciphertext: %w", err)
		}
		if st == models.SecretTypePassword {
			if err := tx.InsertPasswordHistory(&models.PasswordHistory{
				SecretID:     secret.ID,
				PasswordHash: passwordHash,
				CreatedAt:    now,
			}); err != nil {
				return fmt.Errorf("recording password history: %w", err)
			}
		}
		if err := tx.AppendVaultVersion(&models.VaultVersion{
			VaultID:    vaultID,
			ChangeType: models.ChangeSecretAdded,
			Author:     caller.UserID,
			Timestamp:  now,
			Changes:    map[string]any{"secret_id": secret.ID, "label": label, "type": string(st)},
		}); err != nil {
			return err
		}
		return tx.TouchVault(now)
	})
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// DecryptSecret returns a secret's plaintext. Requires Read; the plaintext
// is never cached or logged.
func (s *Store) DecryptSecret(ctx context.Context, caller *models.Token, secretID int64) (string, error) {
	secret, err := s.store.GetSecret(ctx, secretID)
	if err != nil {
		return "", err
	}
	if err := s.acl.Check(ctx, caller, secret.VaultID, models.PermissionRead); err != nil {
		return "", err
	}

	key, err := crypto.DeriveVaultKey(s.masterKey, secret.VaultID)
	if err != nil {
		return "", err
	}
	defer crypto.ZeroBytes(key)

	plaintext, err := crypto.Decrypt(secret.EncryptedValue, secret.Nonce, key, crypto.VersionAAD(secret.ID, secret.Version))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// UpdateSecret changes a secret's label and, for non-password types, its
// value. Password value changes must go through rotation so the old value
// retires into history; a password value here is rejected.
func (s *Store) UpdateSecret(ctx context.Context, caller *models.Token, secretID int64, newValue, label *string) (*models.Secret, error) {
	secret, err := s.store.GetSecret(ctx, secretID)
	if err != nil {
		return nil, err
	}
	if err := s.acl.Check(ctx, caller, secret.VaultID, models.PermissionWrite); err != nil {
		return nil, err
	}
	if newValue != nil && secret.SecretType == models.SecretTypePassword {
		return nil, ErrPasswordViaRotation
	}

	now := s.Now().UTC()
	changes := map[string]any{"secret_id": secret.ID}
	if label != nil && *label != "" {
		secret.Label = *label
		changes["label"] = *label
	}

	key, err := crypto.DeriveVaultKey(s.masterKey, secret.VaultID)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(key)

	err = s.store.VaultTx(ctx, secret.VaultID, func(tx storage.VaultTx) error {
		if newValue != nil {
			secret.Version++
			ciphertext, nonce, err := crypto.Encrypt([]byte(*newValue), key, crypto.VersionAAD(secret.ID, secret.Version))
			if err != nil {
				return fmt.Errorf("encrypting secret: %w", err)
			}
			secret.EncryptedValue = ciphertext
			secret.Nonce = nonce
			changes["value_changed"] = true
		}
		secret.UpdatedAt = now
		if err := tx.UpdateSecret(secret); err != nil {
			return err
		}
		if err := tx.AppendVaultVersion(&models.VaultVersion{
			VaultID:    secret.VaultID,
			ChangeType: models.ChangeSecretUpdated,
			Author:     caller.UserID,
			Timestamp:  now,
			Changes:    changes,
		}); err != nil {
			return err
		}
		return tx.TouchVault(now)
	})
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// DeleteSecret soft-deletes a secret. Its version log and password history
// rows persist regardless.
func (s *Store) DeleteSecret(ctx context.Context, caller *models.Token, secretID int64) error {
	secret, err := s.store.GetSecret(ctx, secretID)
	if err != nil {
		return err
	}
	if err := s.acl.Check(ctx, caller, secret.VaultID, models.PermissionWrite); err != nil {
		return err
	}

	now := s.Now().UTC()
	return s.store.VaultTx(ctx, secret.VaultID, func(tx storage.VaultTx) error {
		if err := tx.SoftDeleteSecret(secretID, now); err != nil {
			return err
		}
		if err := tx.AppendVaultVersion(&models.VaultVersion{
			VaultID:    secret.VaultID,
			ChangeType: models.ChangeSecretDeleted,
			Author:     caller.UserID,
			Timestamp:  now,
			Changes:    map[string]any{"secret_id": secretID, "label": secret.Label},
		}); err != nil {
			return err
		}
		return tx.TouchVault(now)
	})
}

// GetHistory returns the vault's append-only version log. Requires Read.
func (s *Store) GetHistory(ctx context.Context, caller *models.Token, vaultID int64, limit, offset int) ([]*models.VaultVersion, error) {
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionRead); err != nil {
		return nil, err
	}
	return s.store.ListVaultVersions(ctx, vaultID, limit, offset)
}

