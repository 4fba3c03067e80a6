package audit

import (
	"context"
	"testing"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
)

func TestRecordStampsTimestamp(t *testing.T) {
	backend := storage.NewMemoryBackend()
	logger := NewLogger(backend)
	ctx := context.Background()

	logger.Record(ctx, &models.AuditEntry{Operation: "GET /v1/vaults/1", UserID: 7, Decision: models.DecisionAllowed})

	entries, err := logger.Query(ctx, storage.AuditFilter{Limit: 10})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in on record")
	}
}

func TestQueryFilters(t *testing.T) {
	backend := storage.NewMemoryBackend()
	logger := NewLogger(backend)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	vaultA, vaultB := int64(1), int64(2)

	logger.Record(ctx, &models.AuditEntry{Operation: "grant", UserID: 1, VaultID: &vaultA, Timestamp: base})
	logger.Record(ctx, &models.AuditEntry{Operation: "revoke", UserID: 1, VaultID: &vaultA, Timestamp: base.Add(10 * time.Minute)})
	logger.Record(ctx, &models.AuditEntry{Operation: "grant", UserID: 2, VaultID: &vaultB, Timestamp: base.Add(20 * time.Minute)})

	entries, err := logger.Query(ctx, storage.AuditFilter{Operation: "grant", Limit: 10})
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("operation filter: expected 2 entries, got %d", len(entries))
	}

	uid := int64(2)
	entries, _ = logger.Query(ctx, storage.AuditFilter{UserID: &uid, Limit: 10})
	if len(entries) != 1 || entries[0].UserID != 2 {
		t.Errorf("user filter: expected user 2's entry, got %+v", entries)
	}

	entries, _ = logger.Query(ctx, storage.AuditFilter{VaultID: &vaultA, Limit: 10})
	if len(entries) != 2 {
		t.Errorf("vault filter: expected 2 entries, got %d", len(entries))
	}

	since := base.Add(15 * time.Minute)
	entries, _ = logger.Query(ctx, storage.AuditFilter{Since: &since, Limit: 10})
	if len(entries) != 1 {
		t.Errorf("since filter: expected 1 entry, got %d", len(entries))
	}

	entries, _ = logger.Query(ctx, storage.AuditFilter{Limit: 2})
	if len(entries) != 2 {
		t.Errorf("limit: expected 2 entries, got %d", len(entries))
	}
}
