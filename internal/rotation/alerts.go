package rotation

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/org/credvault/pkg/models"
)

// ComputeAlerts walks every password secret under an active schedule and
// flags the ones due within daysAhead. DaysUntilRotation goes negative once
// a password is overdue. Alerts are computed on demand from stored dates;
// no timer thread exists. Severity ordering is a display concern the
// caller owns.
func (s *Service) ComputeAlerts(ctx context.Context, daysAhead int) ([]*models.RotationAlert, error) {
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	today := s.Now().UTC().Truncate(24 * time.Hour)

	var alerts []*models.RotationAlert
	for _, sched := range schedules {
		secrets, err := s.store.ListSecrets(ctx, sched.VaultID)
		if err != nil {
			return nil, err
		}
		for _, sec := range secrets {
			if sec.SecretType != models.SecretTypePassword || sec.LastChanged == nil {
				continue
			}
			due := sec.LastChanged.UTC().Truncate(24 * time.Hour).AddDate(0, 0, sched.RotationInterval)
			daysUntil := int(due.Sub(today).Hours() / 24)
			if daysUntil > daysAhead {
				continue
			}
			alerts = append(alerts, &models.RotationAlert{
				SecretID:          sec.ID,
				VaultID:           sec.VaultID,
				Label:             sec.Label,
				LastChanged:       *sec.LastChanged,
				RotationDue:       due,
				DaysUntilRotation: daysUntil,
				Overdue:           daysUntil < 0,
			})
		}
	}
	return alerts, nil
}

// ComputeComplianceMetrics summarizes rotation compliance across every
// password under an active schedule. Zero passwords is vacuously 100%
// compliant, not a division error.
func (s *Service) ComputeComplianceMetrics(ctx context.Context) (*models.ComplianceMetrics, error) {
	schedules, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	today := s.Now().UTC().Truncate(24 * time.Hour)

	m := &models.ComplianceMetrics{}
	var totalAge float64
	for _, sched := range schedules {
		secrets, err := s.store.ListSecrets(ctx, sched.VaultID)
		if err != nil {
			return nil, err
		}
		for _, sec := range secrets {
			if sec.SecretType != models.SecretTypePassword || sec.LastChanged == nil {
				continue
			}
			m.TotalPasswords++
			age := today.Sub(sec.LastChanged.UTC().Truncate(24 * time.Hour)).Hours() / 24
			totalAge += age
			daysUntil := sched.RotationInterval - int(age)
			if daysUntil < 0 {
				m.OverduePasswords++
			} else if daysUntil <= 7 {
				m.DueWithin7Days++
			}
		}
	}
	if m.TotalPasswords == 0 {
		m.CompliancePercentage = 100
		return m, nil
	}
	m.AvgDaysSinceRotation = totalAge / float64(m.TotalPasswords)
	m.CompliancePercentage = float64(m.TotalPasswords-m.OverduePasswords) / float64(m.TotalPasswords) * 100
	return m, nil
}

func newBatchID() string {
	b := make([]byte, 16)
	rand.Read(b) //nolint:errcheck
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
