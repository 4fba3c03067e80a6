package models

import "time"

// SecretType identifies what kind of credential a secret holds.
type SecretType string

const (
	SecretTypePassword    SecretType = "password"
	SecretTypeIPAddress   SecretType = "ip_address"
	SecretTypeVPNKey      SecretType = "vpn_key"
	SecretTypeLicenseFile SecretType = "license_file"
)

// GenerationMethod records how a password value was produced.
type GenerationMethod string

const (
	GenerationManual    GenerationMethod = "manual"
	GenerationGenerated GenerationMethod = "generated"
)

// Vault is a container of secrets scoped to at most one asset.
type Vault struct {
	ID          int64      `json:"id"`
	AssetID     *int64     `json:"asset_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Secret is one credential entry inside a vault. EncryptedValue is opaque
// ciphertext; plaintext never persists.
type Secret struct {
	ID               int64            `json:"id"`
	VaultID          int64            `json:"vault_id"`
	SecretType       SecretType       `json:"secret_type"`
	Label            string           `json:"label"`
	EncryptedValue   []byte           `json:"-"`
	Nonce            []byte           `json:"-"`
	// Version counts value re-encryptions; ciphertext is bound to
	// (secret id, version) so stale or swapped ciphertext fails to decrypt.
	Version          int              `json:"version"`
	StrengthScore    *int             `json:"strength_score,omitempty"`
	LastChanged      *time.Time       `json:"last_changed,omitempty"`
	GenerationMethod GenerationMethod `json:"generation_method"`
	PolicyVersion    *int             `json:"policy_version,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        *time.Time       `json:"deleted_at,omitempty"`
}

// PasswordHistory is an append-only, one-way-hashed record of a password
// value's lifetime. Exactly one row per secret has RetiredAt == nil.
type PasswordHistory struct {
	ID           int64      `json:"id"`
	SecretID     int64      `json:"secret_id"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
}

// ChangeType enumerates vault version log entry kinds.
type ChangeType string

const (
	ChangeVaultCreated  ChangeType = "vault_created"
	ChangeVaultUpdated  ChangeType = "vault_updated"
	ChangeSecretAdded   ChangeType = "secret_added"
	ChangeSecretUpdated ChangeType = "secret_updated"
	ChangeSecretDeleted ChangeType = "secret_deleted"
)

// VaultVersion is one append-only audit trail entry scoped to a vault.
// Rows are never mutated or deleted.
type VaultVersion struct {
	ID         int64          `json:"id"`
	VaultID    int64          `json:"vault_id"`
	ChangeType ChangeType     `json:"change_type"`
	Author     int64          `json:"author"`
	Timestamp  time.Time      `json:"timestamp"`
	Notes      string         `json:"notes,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// VaultExport is the portable document produced by the export operation.
// Secret values stay encrypted; plaintext is never included.
type VaultExport struct {
	Vault      Vault          `json:"vault"`
	Secrets    []ExportSecret `json:"secrets"`
	ExportedBy int64          `json:"exported_by"`
	ExportedAt time.Time      `json:"exported_at"`
}

// ExportSecret is one still-encrypted secret in an export document.
type ExportSecret struct {
	ID             int64      `json:"id"`
	SecretType     SecretType `json:"secret_type"`
	Label          string     `json:"label"`
	EncryptedValue []byte     `json:"encrypted_value"`
	Nonce          []byte     `json:"nonce"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
