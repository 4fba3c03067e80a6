package models

import "time"

// PermissionType enumerates the grantable vault capabilities.
type PermissionType string

const (
	PermissionRead   PermissionType = "read"
	PermissionWrite  PermissionType = "write"
	PermissionExport PermissionType = "export"
	PermissionShare  PermissionType = "share"
)

// ValidPermissionType reports whether p is a known permission type.
func ValidPermissionType(p PermissionType) bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionExport, PermissionShare:
		return true
	}
	return false
}

// VaultPermission is a typed, optionally time-bounded grant on a vault.
// Rows are deactivated, never deleted.
type VaultPermission struct {
	ID        int64          `json:"permission_id"`
	UserID    int64          `json:"user_id"`
	VaultID   int64          `json:"vault_id"`
	Type      PermissionType `json:"permission_type"`
	GrantedBy int64          `json:"granted_by"`
	GrantedAt time.Time      `json:"granted_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	IsActive  bool           `json:"is_active"`
}

// IsActiveAt is the single expiry predicate: a permission with ExpiresAt in
// the past is denied regardless of the stored IsActive flag.
func (p *VaultPermission) IsActiveAt(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// RequestStatus is the PermissionRequest state machine. Pending may move to
// Approved, Denied or Expired; terminal states never transition further.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// PermissionRequest is a user's pending ask for vault access.
type PermissionRequest struct {
	ID            int64          `json:"request_id"`
	UserID        int64          `json:"user_id"`
	VaultID       int64          `json:"vault_id"`
	Permission    PermissionType `json:"requested_permission"`
	RequestedBy   int64          `json:"requested_by"`
	Status        RequestStatus  `json:"status"`
	ApprovedBy    *int64         `json:"approved_by,omitempty"`
	ApprovalNotes string         `json:"approval_notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
