package vault

import (
	"context"

	"github.com/org/credvault/pkg/models"
)

// Export serializes vault metadata and still-encrypted secret values into a
// portable document. Requires Export permission (or administrator role via
// the gate's override path). Plaintext is never included; the consumer is
// responsible for file I/O.
func (s *Store) Export(ctx context.Context, caller *models.Token, vaultID int64) (*models.VaultExport, error) {
	if err := s.acl.Check(ctx, caller, vaultID, models.PermissionExport); err != nil {
		return nil, err
	}
	v, err := s.store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	secrets, err := s.store.ListSecrets(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	doc := &models.VaultExport{
		Vault:      *v,
		Secrets:    make([]models.ExportSecret, 0, len(secrets)),
		ExportedBy: caller.UserID,
		ExportedAt: s.Now().UTC(),
	}
	for _, sec := range secrets {
		doc.Secrets = append(doc.Secrets, models.ExportSecret{
			ID:             sec.ID,
			SecretType:     sec.SecretType,
			Label:          sec.Label,
			EncryptedValue: sec.EncryptedValue,
			Nonce:          sec.Nonce,
			CreatedAt:      sec.CreatedAt,
			UpdatedAt:      sec.UpdatedAt,
		})
	}
	return doc, nil
}
