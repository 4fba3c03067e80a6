package models

import "time"

// RotationSchedule is a per-vault rotation policy. At most one active
// schedule exists per vault.
type RotationSchedule struct {
	ID               int64     `json:"schedule_id"`
	VaultID          int64     `json:"vault_id"`
	RotationInterval int       `json:"rotation_interval"` // days
	AlertDaysBefore  int       `json:"alert_days_before"`
	IsActive         bool      `json:"is_active"`
	CreatedBy        int64     `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RotationAlert flags a password approaching or past its rotation deadline.
// Negative DaysUntilRotation means overdue.
type RotationAlert struct {
	SecretID          int64     `json:"secret_id"`
	VaultID           int64     `json:"vault_id"`
	Label             string    `json:"label"`
	LastChanged       time.Time `json:"last_changed"`
	RotationDue       time.Time `json:"rotation_due"`
	DaysUntilRotation int       `json:"days_until_rotation"`
	Overdue           bool      `json:"overdue"`
}

// ComplianceMetrics summarizes rotation compliance across all scheduled
// passwords. Zero passwords yields 100% by convention.
type ComplianceMetrics struct {
	TotalPasswords       int     `json:"total_passwords"`
	OverduePasswords     int     `json:"overdue_passwords"`
	DueWithin7Days       int     `json:"due_within_7_days"`
	AvgDaysSinceRotation float64 `json:"avg_days_since_rotation"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

// PasswordRotationHistory records one applied rotation. Rotations grouped
// under an administrative batch share a BatchID.
type PasswordRotationHistory struct {
	ID        int64     `json:"id"`
	SecretID  int64     `json:"secret_id"`
	VaultID   int64     `json:"vault_id"`
	BatchID   *string   `json:"batch_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	RotatedBy int64     `json:"rotated_by"`
	RotatedAt time.Time `json:"rotated_at"`
}

// BatchItemResult is the per-item outcome of a batch rotation. Items are
// independent transactions; one failure does not roll back the others.
type BatchItemResult struct {
	SecretID int64  `json:"secret_id"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// BatchReport is the partial-result report returned by a batch rotation.
type BatchReport struct {
	BatchID string            `json:"batch_id"`
	Rotated int               `json:"rotated"`
	Failed  int               `json:"failed"`
	Items   []BatchItemResult `json:"items"`
}
