package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/credvault/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a uniqueness rule would be violated
// (second vault for an asset, duplicate pending permission request).
var ErrAlreadyExists = errors.New("already exists")

// Backend defines the persistence interface for the credential vault engine.
type Backend interface {
	// Vaults. CreateVault persists the vault and its VaultCreated log entry
	// atomically; it fails ErrAlreadyExists if the asset already owns a vault.
	CreateVault(ctx context.Context, vault *models.Vault, ver *models.VaultVersion) error
	GetVault(ctx context.Context, id int64) (*models.Vault, error)
	GetVaultByAsset(ctx context.Context, assetID int64) (*models.Vault, error)
	ListVaults(ctx context.Context) ([]*models.Vault, error)

	// Secrets (reads). Soft-deleted secrets are excluded.
	GetSecret(ctx context.Context, id int64) (*models.Secret, error)
	ListSecrets(ctx context.Context, vaultID int64) ([]*models.Secret, error)

	// VaultTx runs fn inside a vault-scoped transaction. Mutations within a
	// vault serialize against each other; either every write in fn commits
	// or none do.
	VaultTx(ctx context.Context, vaultID int64, fn func(tx VaultTx) error) error

	// Version log and password history (append-only).
	ListVaultVersions(ctx context.Context, vaultID int64, limit, offset int) ([]*models.VaultVersion, error)
	ListPasswordHistory(ctx context.Context, secretID int64) ([]*models.PasswordHistory, error)
	ListRotationHistory(ctx context.Context, secretID int64) ([]*models.PasswordRotationHistory, error)

	// Permissions. SavePermission inserts or refreshes the row for the
	// (user, vault, type) triple. Deactivate sets is_active=false and
	// returns how many rows changed; rows are never deleted.
	GetPermission(ctx context.Context, userID, vaultID int64, pt models.PermissionType) (*models.VaultPermission, error)
	ListPermissions(ctx context.Context, vaultID int64) ([]*models.VaultPermission, error)
	SavePermission(ctx context.Context, p *models.VaultPermission) error
	DeactivatePermissions(ctx context.Context, userID, vaultID int64, types []models.PermissionType) (int, error)

	// Permission requests. CreatePermissionRequest fails ErrAlreadyExists if
	// a pending request for the same (user, vault, type) exists.
	CreatePermissionRequest(ctx context.Context, r *models.PermissionRequest) error
	GetPermissionRequest(ctx context.Context, id int64) (*models.PermissionRequest, error)
	UpdatePermissionRequest(ctx context.Context, r *models.PermissionRequest) error
	ListPermissionRequests(ctx context.Context, vaultID int64, status models.RequestStatus) ([]*models.PermissionRequest, error)
	ExpirePendingRequests(ctx context.Context, before time.Time) (int, error)

	// Rotation schedules. SaveSchedule deactivates any other active schedule
	// for the vault in the same transaction (at most one active per vault).
	GetActiveSchedule(ctx context.Context, vaultID int64) (*models.RotationSchedule, error)
	SaveSchedule(ctx context.Context, s *models.RotationSchedule) error
	ListActiveSchedules(ctx context.Context) ([]*models.RotationSchedule, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Tokens
	WriteToken(ctx context.Context, token *models.Token, tokenHash string) error
	GetToken(ctx context.Context, tokenHash string) (*models.Token, error)
	RevokeToken(ctx context.Context, tokenID string) error

	// Metrics helpers
	CountSecrets(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// VaultTx is the set of writes available inside a vault-scoped transaction.
// Insert methods populate the model's ID on success.
type VaultTx interface {
	InsertSecret(s *models.Secret) error
	UpdateSecret(s *models.Secret) error
	SoftDeleteSecret(secretID int64, at time.Time) error
	AppendVaultVersion(v *models.VaultVersion) error
	InsertPasswordHistory(h *models.PasswordHistory) error
	RetirePasswordHistory(secretID int64, at time.Time) error
	ListPasswordHistory(secretID int64) ([]*models.PasswordHistory, error)
	InsertRotationHistory(h *models.PasswordRotationHistory) error
	TouchVault(at time.Time) error
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Operation string
	VaultID   *int64
	UserID    *int64
	Since     *time.Time
	Limit     int
	Offset    int
}
