package models

import "time"

// AuditEntry records one privileged engine operation, success or failure.
// Entries are append-only and never carry secret plaintext.
type AuditEntry struct {
	ID             int64          `json:"id"`
	RequestID      string         `json:"request_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         int64          `json:"user_id"`
	Role           string         `json:"role,omitempty"`
	Operation      string         `json:"operation"`
	VaultID        *int64         `json:"vault_id,omitempty"`
	SecretID       *int64         `json:"secret_id,omitempty"`
	Decision       string         `json:"decision"` // allowed, denied, error
	AdminOverride  bool           `json:"admin_override,omitempty"`
	ResponseCode   int            `json:"response_code,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Audit decision values.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
	DecisionError   = "error"
)
