// Package audit writes the append-only record of privileged operations.
package audit

import (
	"context"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var auditDrops = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "credvault_audit_drops_total",
	Help: "Audit entries that failed to persist. Any non-zero value is a compliance gap.",
})

func init() {
	prometheus.MustRegister(auditDrops)
}

// Logger writes structured audit entries.
type Logger struct {
	store storage.Backend
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Backend) *Logger {
	return &Logger{store: store}
}

// Record persists an audit entry. It never blocks or fails the caller's
// primary operation, but a write failure is not silent: it increments the
// drop counter and logs at error level so operators see the gap.
// Secret plaintext must never be passed here.
func (l *Logger) Record(ctx context.Context, entry *models.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		auditDrops.Inc()
		log.Error().Err(err).
			Str("operation", entry.Operation).
			Int64("user_id", entry.UserID).
			Msg("audit entry dropped")
	}
}

// Query retrieves paginated audit log entries.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}
