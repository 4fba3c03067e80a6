package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/org/credvault/internal/access"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
)

type noopAuditor struct{}

func (noopAuditor) Record(ctx context.Context, e *models.AuditEntry) {}

func admin() *models.Token { return &models.Token{ID: "t1", UserID: 1, Role: models.RoleAdmin} }
func user() *models.Token  { return &models.Token{ID: "t2", UserID: 7, Role: models.RoleUser} }

func newTestStore(t *testing.T) (*Store, *access.Service, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	acl := access.NewService(backend, noopAuditor{})
	master, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("generating master key: %v", err)
	}
	return NewStore(backend, acl, master), acl, backend
}

func TestCreateVaultOnePerAsset(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	assetID := int64(10)

	if _, err := s.CreateVault(ctx, admin(), &assetID, "web-server", ""); err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	_, err := s.CreateVault(ctx, admin(), &assetID, "duplicate", "")
	if !errors.Is(err, ErrDuplicateVault) {
		t.Errorf("expected ErrDuplicateVault, got %v", err)
	}

	// Vaults without an asset binding are unrestricted.
	if _, err := s.CreateVault(ctx, admin(), nil, "floating-1", ""); err != nil {
		t.Errorf("unbound vault failed: %v", err)
	}
	if _, err := s.CreateVault(ctx, admin(), nil, "floating-2", ""); err != nil {
		t.Errorf("second unbound vault failed: %v", err)
	}
}

func TestCreateVaultWritesLogEntry(t *testing.T) {
	s, _, backend := newTestStore(t)
	ctx := context.Background()

	v, err := s.CreateVault(ctx, admin(), nil, "web-server", "")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	entries, err := backend.ListVaultVersions(ctx, v.ID, 10, 0)
	if err != nil {
		t.Fatalf("listing versions: %v", err)
	}
	if len(entries) != 1 || entries[0].ChangeType != models.ChangeVaultCreated {
		t.Errorf("expected one vault_created entry, got %+v", entries)
	}
}

func TestAddAndDecryptSecret(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	secret, err := s.AddSecret(ctx, admin(), v.ID, models.SecretTypePassword, "db-password", "Secret123!", models.GenerationManual)
	if err != nil {
		t.Fatalf("adding secret: %v", err)
	}
	if secret.StrengthScore == nil {
		t.Error("password secret should get a strength score")
	}
	if secret.LastChanged == nil {
		t.Error("password secret should get a last_changed timestamp")
	}

	plaintext, err := s.DecryptSecret(ctx, admin(), secret.ID)
	if err != nil {
		t.Fatalf("decrypting: %v", err)
	}
	if plaintext != "Secret123!" {
		t.Errorf("got %q, want original plaintext", plaintext)
	}
}

func TestDecryptRequiresRead(t *testing.T) {
	s, acl, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	secret, _ := s.AddSecret(ctx, admin(), v.ID, models.SecretTypeVPNKey, "vpn", "key-material", "")

	// Denied before any grant.
	if _, err := s.DecryptSecret(ctx, user(), secret.ID); !errors.Is(err, access.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}

	// Allowed after a read grant.
	if _, err := acl.Grant(ctx, admin(), user().UserID, v.ID, models.PermissionRead, nil); err != nil {
		t.Fatalf("granting read: %v", err)
	}
	plaintext, err := s.DecryptSecret(ctx, user(), secret.ID)
	if err != nil {
		t.Fatalf("decrypting after grant: %v", err)
	}
	if plaintext != "key-material" {
		t.Errorf("got %q, want original plaintext", plaintext)
	}

	// Read does not imply write.
	if _, err := s.AddSecret(ctx, user(), v.ID, models.SecretTypePassword, "other", "Another1!", ""); !errors.Is(err, access.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for write, got %v", err)
	}
}

func TestUpdateSecretPasswordValueRejected(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	secret, _ := s.AddSecret(ctx, admin(), v.ID, models.SecretTypePassword, "db-password", "Secret123!", "")

	newValue := "NewSecret456#"
	_, err := s.UpdateSecret(ctx, admin(), secret.ID, &newValue, nil)
	if !errors.Is(err, ErrPasswordViaRotation) {
		t.Errorf("expected ErrPasswordViaRotation, got %v", err)
	}
}

func TestUpdateSecretValueReencrypts(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	secret, _ := s.AddSecret(ctx, admin(), v.ID, models.SecretTypeIPAddress, "gateway", "10.0.0.1", "")

	newValue := "10.0.0.2"
	updated, err := s.UpdateSecret(ctx, admin(), secret.ID, &newValue, nil)
	if err != nil {
		t.Fatalf("updating: %v", err)
	}
	if updated.Version != secret.Version+1 {
		t.Errorf("expected version bump to %d, got %d", secret.Version+1, updated.Version)
	}

	plaintext, err := s.DecryptSecret(ctx, admin(), secret.ID)
	if err != nil {
		t.Fatalf("decrypting: %v", err)
	}
	if plaintext != "10.0.0.2" {
		t.Errorf("got %q, want the updated value", plaintext)
	}
}

func TestUpdateSecretLabel(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	secret, _ := s.AddSecret(ctx, admin(), v.ID, models.SecretTypePassword, "db-password", "Secret123!", "")

	label := "db-root-password"
	updated, err := s.UpdateSecret(ctx, admin(), secret.ID, nil, &label)
	if err != nil {
		t.Fatalf("updating label: %v", err)
	}
	if updated.Label != label {
		t.Errorf("got label %q, want %q", updated.Label, label)
	}
	// Label-only updates leave the ciphertext readable.
	if _, err := s.DecryptSecret(ctx, admin(), secret.ID); err != nil {
		t.Errorf("decrypt after label update failed: %v", err)
	}
}

func TestDeleteSecretKeepsHistory(t *testing.T) {
	s, _, backend := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	secret, _ := s.AddSecret(ctx, admin(), v.ID, models.SecretTypePassword, "db-password", "Secret123!", "")

	if err := s.DeleteSecret(ctx, admin(), secret.ID); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if _, err := backend.GetSecret(ctx, secret.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for the deleted secret, got %v", err)
	}

	// Version log and password history survive the delete.
	history, err := backend.ListPasswordHistory(ctx, secret.ID)
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected password history to persist, got %d rows", len(history))
	}
	entries, _ := backend.ListVaultVersions(ctx, v.ID, 10, 0)
	found := false
	for _, e := range entries {
		if e.ChangeType == models.ChangeSecretDeleted {
			found = true
		}
	}
	if !found {
		t.Error("expected a secret_deleted log entry")
	}
}

func TestGetHistoryRequiresRead(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	if _, err := s.GetHistory(ctx, user(), v.ID, 10, 0); !errors.Is(err, access.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
	entries, err := s.GetHistory(ctx, admin(), v.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected at least the vault_created entry")
	}
}

func TestExportRequiresExportPermission(t *testing.T) {
	s, acl, _ := newTestStore(t)
	ctx := context.Background()

	v, _ := s.CreateVault(ctx, admin(), nil, "web-server", "")
	s.AddSecret(ctx, admin(), v.ID, models.SecretTypePassword, "db-password", "Secret123!", "") //nolint:errcheck

	// Read alone is not enough.
	acl.Grant(ctx, admin(), user().UserID, v.ID, models.PermissionRead, nil) //nolint:errcheck
	if _, err := s.Export(ctx, user(), v.ID); !errors.Is(err, access.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied without export permission, got %v", err)
	}

	acl.Grant(ctx, admin(), user().UserID, v.ID, models.PermissionExport, nil) //nolint:errcheck
	export, err := s.Export(ctx, user(), v.ID)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(export.Secrets) != 1 {
		t.Fatalf("expected 1 secret in export, got %d", len(export.Secrets))
	}
	if len(export.Secrets[0].EncryptedValue) == 0 {
		t.Error("export should carry the encrypted value")
	}
	if export.ExportedBy != user().UserID {
		t.Errorf("expected exported_by %d, got %d", user().UserID, export.ExportedBy)
	}
}
