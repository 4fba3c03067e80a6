// Package access implements vault permission grants, the request/approval
// workflow, and the access-check gate every privileged operation runs
// through.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrAccessDenied is returned by Check on any failed permission lookup.
// It deliberately carries no detail about which rule failed.
var ErrAccessDenied = errors.New("access denied")

// ErrDuplicateRequest is returned when a pending request already exists for
// the same (user, vault, permission) triple.
var ErrDuplicateRequest = errors.New("a pending request for this permission already exists")

// ErrRequestClosed is returned when approving or denying a request that has
// already reached a terminal state.
var ErrRequestClosed = errors.New("request is not pending")

// DefaultPendingTTL is how long a permission request may sit unanswered
// before ExpireStale moves it to Expired.
const DefaultPendingTTL = 14 * 24 * time.Hour

// AuditRecorder is the slice of the audit logger the service needs to log
// administrator overrides.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

// Service is the access-control engine.
type Service struct {
	store      storage.Backend
	auditor    AuditRecorder
	pendingTTL time.Duration

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// NewService creates an access Service.
func NewService(store storage.Backend, auditor AuditRecorder) *Service {
	return &Service{
		store:      store,
		auditor:    auditor,
		pendingTTL: DefaultPendingTTL,
		Now:        time.Now,
	}
}

// Check is the single gate for every read, write and export. Administrators
// pass via an explicit override that is always audit-logged; everyone else
// needs an active, unexpired permission of the requested type.
func (s *Service) Check(ctx context.Context, caller *models.Token, vaultID int64, pt models.PermissionType) error {
	if caller == nil {
		return ErrAccessDenied
	}
	if caller.IsAdmin() {
		s.auditor.Record(ctx, &models.AuditEntry{
			UserID:        caller.UserID,
			Role:          caller.Role,
			Operation:     "access_check",
			VaultID:       &vaultID,
			Decision:      models.DecisionAllowed,
			AdminOverride: true,
			Metadata:      map[string]any{"permission": string(pt)},
		})
		return nil
	}

	perm, err := s.store.GetPermission(ctx, caller.UserID, vaultID, pt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrAccessDenied
		}
		return fmt.Errorf("looking up permission: %w", err)
	}
	if !perm.IsActiveAt(s.Now()) {
		return ErrAccessDenied
	}
	return nil
}

// Grant gives a user a typed permission on a vault. Granting an already
// active permission of the same type refreshes its expiry instead of
// duplicating rows. The granter must be an administrator or hold Share.
func (s *Service) Grant(ctx context.Context, caller *models.Token, userID, vaultID int64, pt models.PermissionType, expiresAt *time.Time) (*models.VaultPermission, error) {
	if !models.ValidPermissionType(pt) {
		return nil, fmt.Errorf("unknown permission type %q", pt)
	}
	if err := s.Check(ctx, caller, vaultID, models.PermissionShare); err != nil {
		return nil, err
	}
	if _, err := s.store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	perm, err := s.store.GetPermission(ctx, userID, vaultID, pt)
	switch {
	case err == nil && perm.IsActiveAt(now):
		perm.ExpiresAt = expiresAt
		perm.GrantedBy = caller.UserID
		perm.GrantedAt = now
	case err == nil || errors.Is(err, storage.ErrNotFound):
		perm = &models.VaultPermission{
			UserID:    userID,
			VaultID:   vaultID,
			Type:      pt,
			GrantedBy: caller.UserID,
			GrantedAt: now,
			ExpiresAt: expiresAt,
			IsActive:  true,
		}
	default:
		return nil, fmt.Errorf("looking up permission: %w", err)
	}

	if err := s.store.SavePermission(ctx, perm); err != nil {
		return nil, fmt.Errorf("saving permission: %w", err)
	}
	log.Info().
		Int64("vault_id", vaultID).
		Int64("user_id", userID).
		Str("permission", string(pt)).
		Int64("granted_by", caller.UserID).
		Msg("permission granted")
	return perm, nil
}

// Revoke deactivates a user's permissions on a vault. With pt == "" all
// active permissions for the user on the vault are revoked. Rows are kept
// for the audit trail; only is_active flips.
func (s *Service) Revoke(ctx context.Context, caller *models.Token, userID, vaultID int64, pt models.PermissionType) (int, error) {
	if err := s.Check(ctx, caller, vaultID, models.PermissionShare); err != nil {
		return 0, err
	}
	var types []models.PermissionType
	if pt != "" {
		if !models.ValidPermissionType(pt) {
			return 0, fmt.Errorf("unknown permission type %q", pt)
		}
		types = []models.PermissionType{pt}
	}
	n, err := s.store.DeactivatePermissions(ctx, userID, vaultID, types)
	if err != nil {
		return 0, fmt.Errorf("revoking permissions: %w", err)
	}
	log.Info().
		Int64("vault_id", vaultID).
		Int64("user_id", userID).
		Int("revoked", n).
		Int64("revoked_by", caller.UserID).
		Msg("permissions revoked")
	return n, nil
}

// ListPermissions returns every permission row for a vault, active or not.
func (s *Service) ListPermissions(ctx context.Context, caller *models.Token, vaultID int64) ([]*models.VaultPermission, error) {
	if err := s.Check(ctx, caller, vaultID, models.PermissionShare); err != nil {
		return nil, err
	}
	return s.store.ListPermissions(ctx, vaultID)
}

// RequestAccess opens a pending permission request. A second request while
// one is pending for the same triple is a conflict, not a duplicate.
func (s *Service) RequestAccess(ctx context.Context, caller *models.Token, vaultID int64, pt models.PermissionType) (*models.PermissionRequest, error) {
	if !models.ValidPermissionType(pt) {
		return nil, fmt.Errorf("unknown permission type %q", pt)
	}
	if _, err := s.store.GetVault(ctx, vaultID); err != nil {
		return nil, err
	}
	now := s.Now().UTC()
	req := &models.PermissionRequest{
		UserID:      caller.UserID,
		VaultID:     vaultID,
		Permission:  pt,
		RequestedBy: caller.UserID,
		Status:      models.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePermissionRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrDuplicateRequest
		}
		return nil, fmt.Errorf("creating permission request: %w", err)
	}
	return req, nil
}

// Approve moves a pending request to Approved and grants the permission.
func (s *Service) Approve(ctx context.Context, caller *models.Token, requestID int64, notes string) (*models.PermissionRequest, error) {
	req, err := s.store.GetPermissionRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.Check(ctx, caller, req.VaultID, models.PermissionShare); err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, ErrRequestClosed
	}

	if _, err := s.Grant(ctx, caller, req.UserID, req.VaultID, req.Permission, nil); err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	req.Status = models.RequestApproved
	req.ApprovedBy = &caller.UserID
	req.ApprovalNotes = notes
	req.UpdatedAt = now
	if err := s.store.UpdatePermissionRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("updating request: %w", err)
	}
	return req, nil
}

// Deny moves a pending request to Denied. No permission is created.
func (s *Service) Deny(ctx context.Context, caller *models.Token, requestID int64, notes string) (*models.PermissionRequest, error) {
	req, err := s.store.GetPermissionRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.Check(ctx, caller, req.VaultID, models.PermissionShare); err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, ErrRequestClosed
	}

	now := s.Now().UTC()
	req.Status = models.RequestDenied
	req.ApprovedBy = &caller.UserID
	req.ApprovalNotes = notes
	req.UpdatedAt = now
	if err := s.store.UpdatePermissionRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("updating request: %w", err)
	}
	return req, nil
}

// ListRequests returns a vault's permission requests, optionally filtered
// by status.
func (s *Service) ListRequests(ctx context.Context, caller *models.Token, vaultID int64, status models.RequestStatus) ([]*models.PermissionRequest, error) {
	if err := s.Check(ctx, caller, vaultID, models.PermissionShare); err != nil {
		return nil, err
	}
	return s.store.ListPermissionRequests(ctx, vaultID, status)
}

// ExpireStale moves every request pending longer than the policy timeout to
// Expired. Invoked on demand; there is no background timer.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.Now().UTC().Add(-s.pendingTTL)
	return s.store.ExpirePendingRequests(ctx, cutoff)
}
