package analyzer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/org/credvault/pkg/models"
)

type fakeHistory struct {
	rows []*models.PasswordHistory
}

func (f *fakeHistory) ListPasswordHistory(ctx context.Context, secretID int64) ([]*models.PasswordHistory, error) {
	return f.rows, nil
}

func historyRow(t *testing.T, password string, retired bool) *models.PasswordHistory {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	row := &models.PasswordHistory{PasswordHash: hash, CreatedAt: time.Now()}
	if retired {
		now := time.Now()
		row.RetiredAt = &now
	}
	return row
}

func TestHashPasswordFormat(t *testing.T) {
	hash, err := HashPassword("Secret123!")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.Contains(hash, "$") {
		t.Errorf("expected salt$hash encoding, got %q", hash)
	}
	// Fresh salt each call
	hash2, _ := HashPassword("Secret123!")
	if hash == hash2 {
		t.Error("two hashes of the same password should differ")
	}
}

func TestMatchesHash(t *testing.T) {
	hash, _ := HashPassword("Secret123!")
	if !matchesHash("Secret123!", hash) {
		t.Error("expected match for the original password")
	}
	if matchesHash("NotTheSame", hash) {
		t.Error("expected no match for a different password")
	}
	if matchesHash("Secret123!", "garbage-no-separator") {
		t.Error("malformed entries should never match")
	}
}

func TestCheckReuseCurrentPassword(t *testing.T) {
	src := &fakeHistory{rows: []*models.PasswordHistory{
		historyRow(t, "Current456#", false),
	}}
	reused, err := CheckReuse(context.Background(), src, 1, "Current456#")
	if err != nil {
		t.Fatalf("CheckReuse failed: %v", err)
	}
	if !reused {
		t.Error("current password should count as reuse")
	}
}

func TestCheckReuseRetiredPassword(t *testing.T) {
	src := &fakeHistory{rows: []*models.PasswordHistory{
		historyRow(t, "Old123!", true),
		historyRow(t, "Current456#", false),
	}}
	reused, err := CheckReuse(context.Background(), src, 1, "Old123!")
	if err != nil {
		t.Fatalf("CheckReuse failed: %v", err)
	}
	if !reused {
		t.Error("retired password should count as reuse")
	}
}

func TestCheckReuseFreshPassword(t *testing.T) {
	src := &fakeHistory{rows: []*models.PasswordHistory{
		historyRow(t, "Old123!", true),
		historyRow(t, "Current456#", false),
	}}
	reused, err := CheckReuse(context.Background(), src, 1, "Brand-New789$")
	if err != nil {
		t.Fatalf("CheckReuse failed: %v", err)
	}
	if reused {
		t.Error("fresh password should not count as reuse")
	}
}

func TestCheckReuseEmptyHistory(t *testing.T) {
	reused, err := CheckReuse(context.Background(), &fakeHistory{}, 1, "Anything1!")
	if err != nil {
		t.Fatalf("CheckReuse failed: %v", err)
	}
	if reused {
		t.Error("no history rows means no reuse")
	}
}
