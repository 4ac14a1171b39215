package control

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/auth"
	"github.com/sunray-sh/sunray-api/internal/store"
)

// Registration outcomes.
const (
	RegistrationNew        = "registered"
	RegistrationIdempotent = "re_registered"
	RegistrationMigrated   = "migrated"
)

// RegistrationResult reports what a registration call did.
type RegistrationResult struct {
	Status         string `json:"status"`
	Worker         string `json:"worker"`
	Host           string `json:"host"`
	PreviousWorker string `json:"previous_worker,omitempty"`
}

// RegisterWorker is the worker bootstrap and migration trigger. The same
// idempotent call covers four cases:
//
//   - the host is unbound: bind it to the calling worker
//   - the host is already bound to the caller: acknowledge, change nothing
//   - the caller matches the host's pending worker: atomically swap the
//     binding and clear the pending fields
//   - otherwise: reject, leaving the current binding untouched
//
// Unknown worker names are registered on first contact and associated with
// the API key the call authenticated with.
func (s *Service) RegisterWorker(ctx context.Context, workerName, hostname string) (RegistrationResult, error) {
	switch {
	case workerName == "":
		return RegistrationResult{}, invalid("Missing X-Worker-ID header")
	case hostname == "":
		return RegistrationResult{}, invalid("hostname is required")
	}

	now := time.Now().UTC()

	var (
		out       RegistrationResult
		rejectErr error
		migrated  bool
		refresh   fanout
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, hostname)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		worker, err := st.GetActiveWorkerByName(ctx, workerName)
		if isStoreMiss(err) {
			var keyID *string
			if id := auth.IdentityFromContext(ctx); id.Key.ID != "" {
				keyID = &id.Key.ID
			}
			worker, err = st.CreateWorker(ctx, workerName, "edge", "", keyID)
		}
		if err != nil {
			return err
		}

		out = RegistrationResult{Worker: worker.Name, Host: host.Domain}

		switch {
		case host.WorkerID != nil && *host.WorkerID == worker.ID:
			out.Status = RegistrationIdempotent
			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.WorkerReRegistered,
				Severity:  audit.SeverityInfo,
				Worker:    worker.Name,
				Details:   map[string]any{"host": host.Domain, "worker": worker.Name},
			})

		case host.PendingWorkerName != nil && *host.PendingWorkerName == worker.Name:
			previous := ""
			if host.WorkerID != nil {
				prev, err := st.GetWorkerByID(ctx, *host.WorkerID)
				if err != nil {
					return err
				}
				previous = prev.Name
			}
			if err := st.MigrateToWorker(ctx, host.ID, worker.ID, now); err != nil {
				return err
			}
			out.Status = RegistrationMigrated
			out.PreviousWorker = previous
			migrated = true

			// Resolve the refresh destination now; the RPC itself waits
			// for the commit.
			if key, err := st.GetActiveAPIKeyForWorker(ctx, worker.ID); err == nil {
				refresh = fanout{Domain: host.Domain, Worker: worker.Name, APIKey: key.Key}
			} else if !isStoreMiss(err) {
				return err
			}

			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.WorkerMigrated,
				Severity:  audit.SeverityInfo,
				Worker:    worker.Name,
				Details: map[string]any{
					"host":            host.Domain,
					"worker":          worker.Name,
					"previous_worker": previous,
				},
			})

		case host.WorkerID == nil:
			if err := st.BindWorker(ctx, host.ID, worker.ID); err != nil {
				return err
			}
			out.Status = RegistrationNew
			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.WorkerRegistered,
				Severity:  audit.SeverityInfo,
				Worker:    worker.Name,
				Details:   map[string]any{"host": host.Domain, "worker": worker.Name},
			})

		default:
			current, err := st.GetWorkerByID(ctx, *host.WorkerID)
			if err != nil {
				return err
			}
			rejectErr = conflict("Host is already bound to another worker")
			return appendAudit(ctx, st, audit.Entry{
				EventType: audit.WorkerRegistrationConflict,
				Severity:  audit.SeverityWarning,
				Worker:    worker.Name,
				Details: map[string]any{
					"host":             host.Domain,
					"current_worker":   current.Name,
					"requested_worker": worker.Name,
				},
			})
		}
	})
	if err != nil {
		return RegistrationResult{}, err
	}
	if rejectErr != nil {
		return RegistrationResult{}, rejectErr
	}

	if migrated && refresh.APIKey != "" {
		// Best effort: the new worker polls config versions anyway.
		if !s.refreshWorkerConfig(ctx, refresh, "Worker migration") {
			log.Ctx(ctx).Warn().Str("worker", out.Worker).Str("host", out.Host).
				Msg("post-migration config refresh failed")
		}
	}
	return out, nil
}

// MigrationHostStatus is one host in a worker's migration projection.
type MigrationHostStatus struct {
	Domain        string     `json:"domain"`
	CurrentWorker string     `json:"current_worker,omitempty"`
	PendingWorker string     `json:"pending_worker"`
	RequestedAt   *time.Time `json:"requested_at,omitempty"`
	PendingFor    string     `json:"pending_for,omitempty"`
}

// MigrationStatus is the operator view of one worker's migration load.
type MigrationStatus struct {
	Worker          string                `json:"worker"`
	ProtectedHosts  int64                 `json:"protected_hosts"`
	PendingOutbound []MigrationHostStatus `json:"pending_outbound"`
	PendingInbound  []MigrationHostStatus `json:"pending_inbound"`
}

// GetMigrationStatus reports how many hosts a worker protects and which
// migrations are pending away from it and toward it.
func (s *Service) GetMigrationStatus(ctx context.Context, workerName string) (MigrationStatus, error) {
	now := time.Now().UTC()

	var out MigrationStatus
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		worker, err := st.GetWorkerByName(ctx, workerName)
		if err != nil {
			return notFoundOr(err, "Worker not found")
		}
		out.Worker = worker.Name

		if out.ProtectedHosts, err = st.CountHostsByWorker(ctx, worker.ID); err != nil {
			return err
		}
		outbound, err := st.ListPendingOutbound(ctx, worker.ID, worker.Name)
		if err != nil {
			return err
		}
		inbound, err := st.ListPendingInbound(ctx, worker.Name)
		if err != nil {
			return err
		}
		out.PendingOutbound = migrationStatuses(outbound, now)
		out.PendingInbound = migrationStatuses(inbound, now)
		return nil
	})
	if err != nil {
		return MigrationStatus{}, err
	}
	return out, nil
}

func migrationStatuses(hosts []store.MigrationHost, now time.Time) []MigrationHostStatus {
	out := make([]MigrationHostStatus, 0, len(hosts))
	for _, h := range hosts {
		m := MigrationHostStatus{
			Domain:        h.Domain,
			CurrentWorker: h.CurrentWorker,
			PendingWorker: h.PendingWorker,
			RequestedAt:   h.RequestedAt,
		}
		if h.RequestedAt != nil {
			m.PendingFor = FormatTimeDelta(now.Sub(*h.RequestedAt))
		}
		out = append(out, m)
	}
	return out
}
