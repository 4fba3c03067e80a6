package rotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/org/credvault/internal/access"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/internal/vault"
	"github.com/org/credvault/pkg/models"
)

type noopAuditor struct{}

func (noopAuditor) Record(ctx context.Context, e *models.AuditEntry) {}

func admin() *models.Token { return &models.Token{ID: "t1", UserID: 1, Role: models.RoleAdmin} }
func user() *models.Token  { return &models.Token{ID: "t2", UserID: 7, Role: models.RoleUser} }

type fixture struct {
	svc    *Service
	vaults *vault.Store
	store  *storage.MemoryBackend
	acl    *access.Service
	vault  *models.Vault
	secret *models.Secret
}

// newFixture builds the full stack with one vault holding one password
// secret whose value is "Secret123!".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := storage.NewMemoryBackend()
	acl := access.NewService(backend, noopAuditor{})
	master, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("generating master key: %v", err)
	}
	vaults := vault.NewStore(backend, acl, master)
	ctx := context.Background()

	v, err := vaults.CreateVault(ctx, admin(), nil, "web-server", "")
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	secret, err := vaults.AddSecret(ctx, admin(), v.ID, models.SecretTypePassword, "db-password", "Secret123!", "")
	if err != nil {
		t.Fatalf("adding secret: %v", err)
	}
	return &fixture{
		svc:    NewService(backend, acl, master),
		vaults: vaults,
		store:  backend,
		acl:    acl,
		vault:  v,
		secret: secret,
	}
}

func TestRotateReplacesValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.Rotate(ctx, admin(), f.secret.ID, "NewSecret456#", "scheduled", nil); err != nil {
		t.Fatalf("rotating: %v", err)
	}
	plaintext, err := f.vaults.DecryptSecret(ctx, admin(), f.secret.ID)
	if err != nil {
		t.Fatalf("decrypting: %v", err)
	}
	if plaintext != "NewSecret456#" {
		t.Errorf("got %q, want the new password", plaintext)
	}

	// Exactly one live history row; the old one is retired, not removed.
	history, err := f.store.ListPasswordHistory(ctx, f.secret.ID)
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	live := 0
	for _, h := range history {
		if h.RetiredAt == nil {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected exactly 1 live history row, got %d", live)
	}

	rotations, err := f.store.ListRotationHistory(ctx, f.secret.ID)
	if err != nil {
		t.Fatalf("listing rotation history: %v", err)
	}
	if len(rotations) != 1 || rotations[0].Reason != "scheduled" {
		t.Errorf("expected one rotation record with the reason, got %+v", rotations)
	}
}

func TestRotateRejectsReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Current value.
	err := f.svc.Rotate(ctx, admin(), f.secret.ID, "Secret123!", "", nil)
	if !errors.Is(err, ErrPasswordReused) {
		t.Fatalf("expected ErrPasswordReused for the current value, got %v", err)
	}

	// Retired value.
	if err := f.svc.Rotate(ctx, admin(), f.secret.ID, "NewSecret456#", "", nil); err != nil {
		t.Fatalf("rotating: %v", err)
	}
	err = f.svc.Rotate(ctx, admin(), f.secret.ID, "Secret123!", "", nil)
	if !errors.Is(err, ErrPasswordReused) {
		t.Errorf("expected ErrPasswordReused for a retired value, got %v", err)
	}

	// A failed rotation leaves the stored value intact.
	plaintext, err := f.vaults.DecryptSecret(ctx, admin(), f.secret.ID)
	if err != nil {
		t.Fatalf("decrypting: %v", err)
	}
	if plaintext != "NewSecret456#" {
		t.Errorf("got %q, want the last good password", plaintext)
	}
}

func TestRotateConcurrentSameValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two rotations racing to the same new value: the reuse check runs
	// under the vault lock, so exactly one may win.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- f.svc.Rotate(ctx, admin(), f.secret.ID, "NewSecret456#", "", nil)
		}()
	}
	var ok, reused int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			ok++
		case errors.Is(err, ErrPasswordReused):
			reused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || reused != 1 {
		t.Errorf("expected exactly one winner, got %d ok / %d reused", ok, reused)
	}

	history, err := f.store.ListPasswordHistory(ctx, f.secret.ID)
	if err != nil {
		t.Fatalf("listing history: %v", err)
	}
	live := 0
	for _, h := range history {
		if h.RetiredAt == nil {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected exactly 1 live history row, got %d", live)
	}
}

func TestRotateNonPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.vaults.AddSecret(ctx, admin(), f.vault.ID, models.SecretTypeIPAddress, "gateway", "10.0.0.1", "")
	if err != nil {
		t.Fatalf("adding secret: %v", err)
	}
	if err := f.svc.Rotate(ctx, admin(), other.ID, "10.0.0.2", "", nil); !errors.Is(err, ErrNotAPassword) {
		t.Errorf("expected ErrNotAPassword, got %v", err)
	}
}

func TestRotateRequiresWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Rotate(ctx, user(), f.secret.ID, "NewSecret456#", "", nil)
	if !errors.Is(err, access.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestRotateBatchPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, err := f.vaults.AddSecret(ctx, admin(), f.vault.ID, models.SecretTypePassword, "api-key-pw", "ApiSecret789$", "")
	if err != nil {
		t.Fatalf("adding secret: %v", err)
	}

	report := f.svc.RotateBatch(ctx, admin(), []BatchItem{
		{SecretID: f.secret.ID, NewPassword: "NewSecret456#"},
		{SecretID: second.ID, NewPassword: "ApiSecret789$"}, // reuse, must fail
	}, "quarterly")
	if report.Rotated != 1 || report.Failed != 1 {
		t.Fatalf("expected 1 rotated / 1 failed, got %d / %d", report.Rotated, report.Failed)
	}
	if !report.Items[0].OK || report.Items[1].OK {
		t.Errorf("unexpected per-item outcomes: %+v", report.Items)
	}
	if report.Items[1].Error == "" {
		t.Error("failed item should carry an error message")
	}

	// The successful rotation is tagged with the batch id.
	rotations, _ := f.store.ListRotationHistory(ctx, f.secret.ID)
	if len(rotations) != 1 || rotations[0].BatchID == nil || *rotations[0].BatchID != report.BatchID {
		t.Errorf("expected rotation tagged with batch id %q, got %+v", report.BatchID, rotations)
	}
}

func TestSetScheduleValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetSchedule(ctx, admin(), f.vault.ID, 0, 7); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := f.svc.SetSchedule(ctx, admin(), f.vault.ID, 30, -1); err == nil {
		t.Error("expected error for negative alert window")
	}
	if _, err := f.svc.SetSchedule(ctx, user(), f.vault.ID, 30, 7); !errors.Is(err, access.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestSetScheduleReplacesActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetSchedule(ctx, admin(), f.vault.ID, 90, 14); err != nil {
		t.Fatalf("setting schedule: %v", err)
	}
	if _, err := f.svc.SetSchedule(ctx, admin(), f.vault.ID, 30, 7); err != nil {
		t.Fatalf("replacing schedule: %v", err)
	}
	sched, err := f.svc.GetSchedule(ctx, admin(), f.vault.ID)
	if err != nil {
		t.Fatalf("getting schedule: %v", err)
	}
	if sched.RotationInterval != 30 || sched.AlertDaysBefore != 7 {
		t.Errorf("expected the replacement schedule, got %+v", sched)
	}
	if !sched.IsActive {
		t.Error("active schedule expected")
	}
}

func TestComputeAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetSchedule(ctx, admin(), f.vault.ID, 30, 7); err != nil {
		t.Fatalf("setting schedule: %v", err)
	}

	// Just rotated: nothing due within 7 days.
	alerts, err := f.svc.ComputeAlerts(ctx, 7)
	if err != nil {
		t.Fatalf("computing alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(alerts))
	}

	// 25 days later the password is 5 days from due.
	base := f.svc.Now()
	f.svc.Now = func() time.Time { return base.AddDate(0, 0, 25) }
	alerts, err = f.svc.ComputeAlerts(ctx, 7)
	if err != nil {
		t.Fatalf("computing alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Overdue || alerts[0].DaysUntilRotation != 5 {
		t.Errorf("expected 5 days until rotation, got %+v", alerts[0])
	}

	// 40 days later it is overdue with a negative countdown.
	f.svc.Now = func() time.Time { return base.AddDate(0, 0, 40) }
	alerts, err = f.svc.ComputeAlerts(ctx, 7)
	if err != nil {
		t.Fatalf("computing alerts: %v", err)
	}
	if len(alerts) != 1 || !alerts[0].Overdue || alerts[0].DaysUntilRotation != -10 {
		t.Errorf("expected an overdue alert at -10 days, got %+v", alerts)
	}
}

func TestComplianceMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SetSchedule(ctx, admin(), f.vault.ID, 30, 7); err != nil {
		t.Fatalf("setting schedule: %v", err)
	}
	if _, err := f.vaults.AddSecret(ctx, admin(), f.vault.ID, models.SecretTypePassword, "api-key-pw", "ApiSecret789$", ""); err != nil {
		t.Fatalf("adding secret: %v", err)
	}

	// Rotate the first password 40 days in; the second stays 40 days old.
	base := f.svc.Now()
	f.svc.Now = func() time.Time { return base.AddDate(0, 0, 40) }
	if err := f.svc.Rotate(ctx, admin(), f.secret.ID, "NewSecret456#", "", nil); err != nil {
		t.Fatalf("rotating: %v", err)
	}

	m, err := f.svc.ComputeComplianceMetrics(ctx)
	if err != nil {
		t.Fatalf("computing compliance: %v", err)
	}
	if m.TotalPasswords != 2 {
		t.Fatalf("expected 2 passwords, got %d", m.TotalPasswords)
	}
	if m.OverduePasswords != 1 {
		t.Errorf("expected 1 overdue, got %d", m.OverduePasswords)
	}
	if m.CompliancePercentage != 50 {
		t.Errorf("expected 50%% compliance, got %v", m.CompliancePercentage)
	}
}

func TestComplianceNoPasswords(t *testing.T) {
	backend := storage.NewMemoryBackend()
	acl := access.NewService(backend, noopAuditor{})
	master, _ := crypto.GenerateMasterKey()
	svc := NewService(backend, acl, master)

	m, err := svc.ComputeComplianceMetrics(context.Background())
	if err != nil {
		t.Fatalf("computing compliance: %v", err)
	}
	if m.CompliancePercentage != 100 {
		t.Errorf("expected vacuous 100%% compliance, got %v", m.CompliancePercentage)
	}
	if m.TotalPasswords != 0 {
		t.Errorf("expected 0 passwords, got %d", m.TotalPasswords)
	}
}
