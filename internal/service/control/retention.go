package control

import (
	"context"
	"time"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
)

// auditRetention is how long audit entries are kept before the daily
// retention job removes them.
const auditRetention = 90 * 24 * time.Hour

// PruneAuditLog deletes audit entries older than the retention window and
// records a summary of what was removed. The summary is written in the same
// transaction as the delete, so a failed prune leaves no misleading entry.
func (s *Service) PruneAuditLog(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-auditRetention)

	var deleted int64
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		if deleted, err = st.PruneAudit(ctx, cutoff); err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType:   audit.AuditRetention,
			Severity:    audit.SeverityInfo,
			EventSource: "system",
			Details:     map[string]any{"deleted_count": deleted, "cutoff": cutoff},
		})
	})
	return deleted, err
}
