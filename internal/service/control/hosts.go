package control

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/hoststate"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

// minTimingSeconds is the floor for session duration and WAF revalidation
// overrides; the ceilings come from sunray_config_params.
const minTimingSeconds = 60

func stateInputs(h store.Host) hoststate.Inputs {
	return hoststate.Inputs{
		IsActive:        h.IsActive,
		HasWorker:       h.WorkerID != nil,
		BlockAllTraffic: h.BlockAllTraffic,
		DeploymentMode:  h.DeploymentMode,
		GoLiveDate:      h.GoLiveDate,
	}
}

// HostStatus is the operator-facing projection of a host, including the
// derived protection state.
type HostStatus struct {
	Domain               string     `json:"domain"`
	DisplayName          string     `json:"display_name"`
	BackendURL           string     `json:"backend_url"`
	State                string     `json:"state"`
	Worker               string     `json:"worker,omitempty"`
	PendingWorker        string     `json:"pending_worker,omitempty"`
	MigrationRequestedAt *time.Time `json:"migration_requested_at,omitempty"`
	LastMigrationTS      *time.Time `json:"last_migration_ts,omitempty"`
	GoLiveDate           *time.Time `json:"golive_date,omitempty"`
	DaysUntilGoLive      int        `json:"days_until_golive"`
	SessionDurationS     int        `json:"session_duration_s"`
	WAFRevalidationS     int        `json:"waf_bypass_revalidation_s"`
	ConfigVersion        int64      `json:"config_version"`
}

func (s *Service) hostStatus(ctx context.Context, st *store.Store, h store.Host, now time.Time) (HostStatus, error) {
	hs := HostStatus{
		Domain:               h.Domain,
		DisplayName:          h.DisplayName,
		BackendURL:           h.BackendURL,
		State:                string(hoststate.Derive(stateInputs(h), now)),
		MigrationRequestedAt: h.MigrationRequestedAt,
		LastMigrationTS:      h.LastMigrationTS,
		GoLiveDate:           h.GoLiveDate,
		DaysUntilGoLive:      hoststate.DaysUntilGoLive(stateInputs(h), now),
		SessionDurationS:     h.SessionDurationSecs,
		WAFRevalidationS:     h.WAFRevalidationSecs,
		ConfigVersion:        h.ConfigVersion,
	}
	if h.PendingWorkerName != nil {
		hs.PendingWorker = *h.PendingWorkerName
	}
	if h.WorkerID != nil {
		w, err := st.GetWorkerByID(ctx, *h.WorkerID)
		if err != nil {
			return HostStatus{}, err
		}
		hs.Worker = w.Name
	}
	return hs, nil
}

// GetHostStatus returns one host with its derived state.
func (s *Service) GetHostStatus(ctx context.Context, domain string) (HostStatus, error) {
	now := time.Now().UTC()
	var out HostStatus
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		h, err := st.GetHostByDomain(ctx, domain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		out, err = s.hostStatus(ctx, st, h, now)
		return err
	})
	return out, err
}

// CreateHost registers a new protected host with column-default tunables.
func (s *Service) CreateHost(ctx context.Context, domain, displayName, backendURL string) (HostStatus, error) {
	switch {
	case domain == "":
		return HostStatus{}, invalid("domain is required")
	case backendURL == "":
		return HostStatus{}, invalid("backend_url is required")
	}
	if displayName == "" {
		displayName = domain
	}

	now := time.Now().UTC()
	var out HostStatus
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		h, err := st.CreateHost(ctx, domain, displayName, backendURL)
		if err != nil {
			if store.IsUniqueViolation(err) {
				return conflict("Host with this domain already exists")
			}
			return err
		}
		out, err = s.hostStatus(ctx, st, h, now)
		return err
	})
	if err != nil {
		return HostStatus{}, err
	}
	log.Ctx(ctx).Info().Str("domain", domain).Msg("host created")
	return out, nil
}

// UpdateHostParams carries a partial host-settings update; nil fields keep
// their current value. ClearGoLiveDate removes the date instead of setting
// one.
type UpdateHostParams struct {
	DisplayName          *string
	BackendURL           *string
	IsActive             *bool
	BlockAllTraffic      *bool
	DeploymentMode       *bool
	GoLiveDate           *time.Time
	ClearGoLiveDate      bool
	DeploymentSessionTTL *int
	SessionDurationS     *int
	WAFRevalidationS     *int
	EmailLoginEnabled    *bool
	EmailLoginSessionS   *int
	OTPValidityS         *int
	RemoteAuthEnabled    *bool
	RemoteAuthSessionTTL *int
	RemoteAuthMaxTTL     *int
	SessionMgmtEnabled   *bool
	SessionMgmtTTL       *int
	AllowedCIDRs         *string
	PublicURLPatterns    *string
	TokenURLPatterns     *string
	WebhookHeaderName    *string
	WebhookParamName     *string
}

// UpdateHost applies a partial settings update under the process-wide
// bounds. Timing changes that affect live enforcement write their own audit
// events with old and new values; the version bump makes workers refetch.
func (s *Service) UpdateHost(ctx context.Context, domain string, p UpdateHostParams) (HostStatus, error) {
	if p.AllowedCIDRs != nil {
		if err := token.ValidateCIDRList(*p.AllowedCIDRs); err != nil {
			return HostStatus{}, invalid(err.Error())
		}
	}

	now := time.Now().UTC()
	var out HostStatus
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		h, err := st.GetHostByDomain(ctx, domain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		prev := h

		setStr := func(dst *string, v *string) {
			if v != nil {
				*dst = *v
			}
		}
		setBool := func(dst *bool, v *bool) {
			if v != nil {
				*dst = *v
			}
		}
		setInt := func(dst *int, v *int) {
			if v != nil {
				*dst = *v
			}
		}

		setStr(&h.DisplayName, p.DisplayName)
		setStr(&h.BackendURL, p.BackendURL)
		setBool(&h.IsActive, p.IsActive)
		setBool(&h.BlockAllTraffic, p.BlockAllTraffic)
		setBool(&h.DeploymentMode, p.DeploymentMode)
		if p.ClearGoLiveDate {
			h.GoLiveDate = nil
		} else if p.GoLiveDate != nil {
			h.GoLiveDate = p.GoLiveDate
		}
		setInt(&h.DeploymentSessionTTL, p.DeploymentSessionTTL)
		setInt(&h.SessionDurationSecs, p.SessionDurationS)
		setInt(&h.WAFRevalidationSecs, p.WAFRevalidationS)
		setBool(&h.EmailLoginEnabled, p.EmailLoginEnabled)
		setInt(&h.EmailLoginSessionSecs, p.EmailLoginSessionS)
		setInt(&h.OTPValiditySecs, p.OTPValidityS)
		setBool(&h.RemoteAuthEnabled, p.RemoteAuthEnabled)
		setInt(&h.RemoteAuthSessionTTL, p.RemoteAuthSessionTTL)
		setInt(&h.RemoteAuthMaxTTL, p.RemoteAuthMaxTTL)
		setBool(&h.SessionMgmtEnabled, p.SessionMgmtEnabled)
		setInt(&h.SessionMgmtTTL, p.SessionMgmtTTL)
		setStr(&h.AllowedCIDRs, p.AllowedCIDRs)
		setStr(&h.PublicURLPatterns, p.PublicURLPatterns)
		setStr(&h.TokenURLPatterns, p.TokenURLPatterns)
		setStr(&h.WebhookHeaderName, p.WebhookHeaderName)
		setStr(&h.WebhookParamName, p.WebhookParamName)

		maxSession, err := st.GetParamInt(ctx, store.ParamMaxSessionDuration, store.DefaultMaxSessionDuration)
		if err != nil {
			return err
		}
		if h.SessionDurationSecs < minTimingSeconds || h.SessionDurationSecs > maxSession {
			return invalid(fmt.Sprintf("session_duration_s must be between %d and %d seconds",
				minTimingSeconds, maxSession))
		}
		maxWAF, err := st.GetParamInt(ctx, store.ParamMaxWAFRevalidation, store.DefaultMaxWAFRevalidation)
		if err != nil {
			return err
		}
		if h.WAFRevalidationSecs < minTimingSeconds || h.WAFRevalidationSecs > maxWAF {
			return invalid(fmt.Sprintf("waf_bypass_revalidation_s must be between %d and %d seconds",
				minTimingSeconds, maxWAF))
		}
		if h.RemoteAuthMaxTTL > 0 && h.RemoteAuthSessionTTL > h.RemoteAuthMaxTTL {
			return invalid("remote_auth_session_ttl_s cannot exceed remote_auth_max_session_ttl_s")
		}

		if h, err = st.UpdateHostSettings(ctx, h); err != nil {
			return err
		}

		if prev.SessionDurationSecs != h.SessionDurationSecs {
			if err := appendAudit(ctx, st, audit.Entry{
				EventType: audit.ConfigSessionDurationChanged,
				Severity:  audit.SeverityInfo,
				Details: map[string]any{
					"host": h.Domain,
					"old":  prev.SessionDurationSecs,
					"new":  h.SessionDurationSecs,
				},
			}); err != nil {
				return err
			}
		}
		if prev.WAFRevalidationSecs != h.WAFRevalidationSecs {
			if err := appendAudit(ctx, st, audit.Entry{
				EventType: audit.ConfigWAFRevalidationChanged,
				Severity:  audit.SeverityInfo,
				Details: map[string]any{
					"host": h.Domain,
					"old":  prev.WAFRevalidationSecs,
					"new":  h.WAFRevalidationSecs,
				},
			}); err != nil {
				return err
			}
		}

		out, err = s.hostStatus(ctx, st, h, now)
		return err
	})
	if err != nil {
		return HostStatus{}, err
	}
	return out, nil
}

// SetPendingWorker schedules a migration of the host to the named worker.
// The name is stored as plain text: the target worker may not have
// registered yet. The swap itself happens when that worker registers.
func (s *Service) SetPendingWorker(ctx context.Context, domain, workerName string) error {
	if workerName == "" {
		return invalid("Worker name cannot be empty")
	}

	now := time.Now().UTC()
	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		h, err := st.GetHostByDomain(ctx, domain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		if h.PendingWorkerName != nil && *h.PendingWorkerName != "" {
			return conflict(fmt.Sprintf(
				"A migration to worker %s is already pending; cancel it first", *h.PendingWorkerName))
		}
		if err := st.SetPendingWorker(ctx, h.ID, workerName, now); err != nil {
			return err
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.WorkerMigrationRequested,
			Severity:  audit.SeverityInfo,
			Worker:    workerName,
			Details: map[string]any{
				"host":           h.Domain,
				"pending_worker": workerName,
			},
		})
	})
}

// ClearPendingWorker cancels a scheduled migration.
func (s *Service) ClearPendingWorker(ctx context.Context, domain string) error {
	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		h, err := st.GetHostByDomain(ctx, domain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		if h.PendingWorkerName == nil || *h.PendingWorkerName == "" {
			return conflict("No migration is pending for this host")
		}
		cancelled := *h.PendingWorkerName
		if err := st.ClearPendingWorker(ctx, h.ID); err != nil {
			return err
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.WorkerMigrationCancelled,
			Severity:  audit.SeverityInfo,
			Worker:    cancelled,
			Details: map[string]any{
				"host":             h.Domain,
				"cancelled_worker": cancelled,
			},
		})
	})
}

// RunGoLiveTransitions moves hosts whose go-live date has arrived out of
// deployment mode. Called by the daily cron; each transition bumps the host
// config version so workers refetch on their next poll.
func (s *Service) RunGoLiveTransitions(ctx context.Context) (int, error) {
	today := time.Now().UTC()

	var transitioned int
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		due, err := st.ListGoLiveDue(ctx, today)
		if err != nil {
			return err
		}
		for _, h := range due {
			prevState := hoststate.Derive(stateInputs(h), today)
			if err := st.FinishDeployment(ctx, h.ID); err != nil {
				return err
			}
			h.DeploymentMode = false
			newState := hoststate.Derive(stateInputs(h), today)

			if err := appendAudit(ctx, st, audit.Entry{
				EventType:   audit.HostGoLiveTransition,
				Severity:    audit.SeverityInfo,
				EventSource: "system",
				Details: map[string]any{
					"host":           h.Domain,
					"previous_state": string(prevState),
					"new_state":      string(newState),
					"golive_date":    h.GoLiveDate,
				},
			}); err != nil {
				return err
			}
			transitioned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if transitioned > 0 {
		log.Ctx(ctx).Info().Int("hosts", transitioned).Msg("go-live transitions applied")
	}
	return transitioned, nil
}
