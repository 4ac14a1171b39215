package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

// forceRefreshTimeout bounds config-refresh calls. It is deliberately
// tighter than the standard RPC timeout: a refresh is advisory and the
// worker falls back to version polling anyway.
const forceRefreshTimeout = 5 * time.Second

// defaultRevocationReason is recorded when the caller gives none.
const defaultRevocationReason = "API revocation"

// fanout is one resolved cache-clear destination: the domain the call is
// addressed to and the bearer key of the worker fronting it.
type fanout struct {
	Domain string
	Worker string
	APIKey string
}

// cacheCall pairs a destination with the invalidation to send there.
// Revocation flows build these inside the transaction and execute them
// after commit.
type cacheCall struct {
	fo  fanout
	req workerrpc.ClearRequest
}

// fanoutForHost resolves the RPC destination for a host. It fails when the
// host has no bound worker or the worker has no active API key; callers on
// the graceful path record the failure instead of propagating it.
func fanoutForHost(ctx context.Context, st *store.Store, h store.Host) (fanout, error) {
	if h.WorkerID == nil {
		return fanout{}, fmt.Errorf("host %s is not bound to a worker", h.Domain)
	}
	w, err := st.GetWorkerByID(ctx, *h.WorkerID)
	if err != nil {
		return fanout{}, fmt.Errorf("look up worker for host %s: %w", h.Domain, err)
	}
	key, err := st.GetActiveAPIKeyForWorker(ctx, w.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fanout{}, fmt.Errorf("no active API key for worker %s", w.Name)
		}
		return fanout{}, err
	}
	return fanout{Domain: h.Domain, Worker: w.Name, APIKey: key.Key}, nil
}

// clearCache sends one invalidation after the owning transaction has
// committed and records the outcome. The returned bool is the cache_cleared
// value surfaced to callers; a failure only degrades, local state stands.
func (s *Service) clearCache(ctx context.Context, fo fanout, req workerrpc.ClearRequest) bool {
	err := s.Worker.ClearCache(ctx, fo.Domain, fo.APIKey, req)

	details := map[string]any{
		"scope":  string(req.Scope),
		"target": req.Target,
		"host":   fo.Domain,
	}
	if req.Reason != "" {
		details["reason"] = req.Reason
	}

	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("host", fo.Domain).
			Str("scope", string(req.Scope)).
			Msg("worker cache clear failed")
		details["error"] = err.Error()
		s.auditOutsideTx(ctx, audit.Entry{
			EventType: audit.CacheClearFailed,
			Severity:  audit.SeverityWarning,
			Worker:    fo.Worker,
			Details:   details,
		})
		return false
	}

	ev, sev := audit.CacheCleared, audit.SeverityInfo
	if req.Nuclear() {
		ev, sev = audit.CacheNuclearClear, audit.SeverityCritical
	}
	s.auditOutsideTx(ctx, audit.Entry{
		EventType: ev,
		Severity:  sev,
		Worker:    fo.Worker,
		Details:   details,
	})
	return true
}

// clearCacheUnroutable records a fan-out that could not even be addressed,
// typically an unbound host or a worker without an active key.
func (s *Service) clearCacheUnroutable(ctx context.Context, scope workerrpc.Scope, hostDomain string, cause error) bool {
	log.Ctx(ctx).Warn().Err(cause).
		Str("host", hostDomain).
		Str("scope", string(scope)).
		Msg("cache clear has no reachable worker")
	s.auditOutsideTx(ctx, audit.Entry{
		EventType: audit.CacheClearFailed,
		Severity:  audit.SeverityWarning,
		Details: map[string]any{
			"scope": string(scope),
			"host":  hostDomain,
			"error": cause.Error(),
		},
	})
	return false
}

// refreshWorkerConfig asks one worker to drop its cached config snapshot,
// under the tight refresh timeout.
func (s *Service) refreshWorkerConfig(ctx context.Context, fo fanout, reason string) bool {
	ctx, cancel := context.WithTimeout(ctx, forceRefreshTimeout)
	defer cancel()
	return s.clearCache(ctx, fo, workerrpc.ClearRequest{
		Scope:  workerrpc.ScopeConfig,
		Target: map[string]string{},
		Reason: reason,
	})
}

// RevocationResult reports one session revocation. The local write always
// commits before fan-out, so Revoked state stands even when CacheCleared is
// false and the edge converges at the next revalidation.
type RevocationResult struct {
	SessionID    string `json:"session_id"`
	CacheCleared bool   `json:"cache_cleared"`
}

// RevokeSession revokes one session by its edge session ID and evicts it
// from the worker fronting its host.
func (s *Service) RevokeSession(ctx context.Context, sessionID, reason string) (RevocationResult, error) {
	if reason == "" {
		reason = defaultRevocationReason
	}

	var (
		sess  store.Session
		user  store.User
		host  store.Host
		fo    fanout
		foErr error
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		sess, err = st.RevokeSession(ctx, sessionID, reason)
		if err != nil {
			return notFoundOr(err, "Session not found")
		}
		if user, err = st.GetUserByID(ctx, sess.UserID); err != nil {
			return err
		}
		if host, err = st.GetHostByID(ctx, sess.HostID); err != nil {
			return err
		}
		fo, foErr = fanoutForHost(ctx, st, host)
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SessionRevoked,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			Details: map[string]any{
				"session_id": sess.SessionID,
				"host":       host.Domain,
				"reason":     reason,
			},
		})
	})
	if err != nil {
		return RevocationResult{}, err
	}

	req := workerrpc.ClearRequest{
		Scope: workerrpc.ScopeUserSession,
		Target: map[string]string{
			"hostname":  host.Domain,
			"username":  user.Username,
			"sessionId": sess.SessionID,
		},
		Reason: "Session revocation: " + reason,
	}
	res := RevocationResult{SessionID: sess.SessionID}
	if foErr != nil {
		res.CacheCleared = s.clearCacheUnroutable(ctx, req.Scope, host.Domain, foErr)
	} else {
		res.CacheCleared = s.clearCache(ctx, fo, req)
	}
	return res, nil
}

// BulkRevocationResult reports a bulk revocation. CacheCleared is true only
// when every fan-out destination acknowledged.
type BulkRevocationResult struct {
	RevokedCount int64 `json:"revoked_count"`
	CacheCleared bool  `json:"cache_cleared"`
}

// RevokeUserSessions revokes every active session of a user, optionally
// restricted to one host. Host-scoped revocations evict with the
// user-protectedhost scope; user-wide ones hit each involved worker once
// with user-worker.
func (s *Service) RevokeUserSessions(ctx context.Context, username, hostDomain, reason string) (BulkRevocationResult, error) {
	if reason == "" {
		reason = defaultRevocationReason
	}

	var (
		count      int64
		calls      []cacheCall
		unroutable []unroutableCall
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetUserByUsername(ctx, username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}

		details := map[string]any{"username": user.Username, "reason": reason}
		clearReason := "Bulk session revocation: " + reason

		if hostDomain != "" {
			host, err := st.GetActiveHostByDomain(ctx, hostDomain)
			if err != nil {
				return notFoundOr(err, "Host not found")
			}
			if count, err = st.RevokeSessionsByUserOnHost(ctx, user.ID, host.ID, reason); err != nil {
				return err
			}
			details["host"] = host.Domain
			req := workerrpc.ClearRequest{
				Scope:  workerrpc.ScopeUserProtectedHost,
				Target: map[string]string{"username": user.Username, "hostname": host.Domain},
				Reason: clearReason,
			}
			if fo, foErr := fanoutForHost(ctx, st, host); foErr != nil {
				unroutable = append(unroutable, unroutableCall{req.Scope, host.Domain, foErr})
			} else {
				calls = append(calls, cacheCall{fo, req})
			}
		} else {
			if count, err = st.RevokeSessionsByUser(ctx, user.ID, reason); err != nil {
				return err
			}
			hosts, err := st.ListUserFanoutHosts(ctx, user.ID)
			if err != nil {
				return err
			}
			for _, h := range hosts {
				req := workerrpc.ClearRequest{
					Scope:  workerrpc.ScopeUserWorker,
					Target: map[string]string{"username": user.Username},
					Reason: clearReason,
				}
				if fo, foErr := fanoutForHost(ctx, st, h); foErr != nil {
					unroutable = append(unroutable, unroutableCall{req.Scope, h.Domain, foErr})
				} else {
					calls = append(calls, cacheCall{fo, req})
				}
			}
		}

		details["revoked_count"] = count
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SessionBulkRevocation,
			Severity:  audit.SeverityWarning,
			UserID:    user.ID,
			Username:  user.Username,
			Details:   details,
		})
	})
	if err != nil {
		return BulkRevocationResult{}, err
	}

	return BulkRevocationResult{
		RevokedCount: count,
		CacheCleared: s.executeFanout(ctx, calls, unroutable),
	}, nil
}

// RevokeHostSessions revokes every active session on one host.
func (s *Service) RevokeHostSessions(ctx context.Context, domain, reason string) (BulkRevocationResult, error) {
	if reason == "" {
		reason = defaultRevocationReason
	}

	var (
		count      int64
		calls      []cacheCall
		unroutable []unroutableCall
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, domain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		if count, err = st.RevokeSessionsByHost(ctx, host.ID, reason); err != nil {
			return err
		}

		req := workerrpc.ClearRequest{
			Scope:  workerrpc.ScopeAllUsersProtectedHost,
			Target: map[string]string{"hostname": host.Domain},
			Reason: "Bulk session revocation: " + reason,
		}
		if fo, foErr := fanoutForHost(ctx, st, host); foErr != nil {
			unroutable = append(unroutable, unroutableCall{req.Scope, host.Domain, foErr})
		} else {
			calls = append(calls, cacheCall{fo, req})
		}

		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SessionBulkRevocation,
			Severity:  audit.SeverityWarning,
			Details: map[string]any{
				"host":          host.Domain,
				"reason":        reason,
				"revoked_count": count,
			},
		})
	})
	if err != nil {
		return BulkRevocationResult{}, err
	}

	return BulkRevocationResult{
		RevokedCount: count,
		CacheCleared: s.executeFanout(ctx, calls, unroutable),
	}, nil
}

// RevokeWorkerSessions revokes every active session on every host a worker
// fronts and sends the worker one nuclear invalidation. Stored revocation
// reasons are prefixed "NUCLEAR:" so worker-wide sweeps stay recognizable in
// session history.
func (s *Service) RevokeWorkerSessions(ctx context.Context, workerName, reason string) (BulkRevocationResult, error) {
	if reason == "" {
		reason = defaultRevocationReason
	}
	storedReason := "NUCLEAR: " + reason

	var (
		count      int64
		calls      []cacheCall
		unroutable []unroutableCall
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		worker, err := st.GetWorkerByName(ctx, workerName)
		if err != nil {
			return notFoundOr(err, "Worker not found")
		}
		if count, err = st.RevokeSessionsByWorker(ctx, worker.ID, storedReason); err != nil {
			return err
		}

		req := workerrpc.ClearRequest{
			Scope:  workerrpc.ScopeAllUsersWorker,
			Target: map[string]string{},
			Reason: "Bulk session revocation: " + reason,
		}
		host, err := st.GetFanoutHostByWorker(ctx, worker.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			unroutable = append(unroutable, unroutableCall{
				req.Scope, "", fmt.Errorf("worker %s fronts no active host", worker.Name),
			})
		case err != nil:
			return err
		default:
			if fo, foErr := fanoutForHost(ctx, st, host); foErr != nil {
				unroutable = append(unroutable, unroutableCall{req.Scope, host.Domain, foErr})
			} else {
				calls = append(calls, cacheCall{fo, req})
			}
		}

		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SessionBulkRevocation,
			Severity:  audit.SeverityWarning,
			Worker:    worker.Name,
			Details: map[string]any{
				"worker":        worker.Name,
				"reason":        storedReason,
				"revoked_count": count,
			},
		})
	})
	if err != nil {
		return BulkRevocationResult{}, err
	}

	return BulkRevocationResult{
		RevokedCount: count,
		CacheCleared: s.executeFanout(ctx, calls, unroutable),
	}, nil
}

type unroutableCall struct {
	scope workerrpc.Scope
	host  string
	cause error
}

// executeFanout runs the collected invalidations after commit and reports
// whether all of them landed.
func (s *Service) executeFanout(ctx context.Context, calls []cacheCall, unroutable []unroutableCall) bool {
	cleared := true
	for _, c := range calls {
		cleared = s.clearCache(ctx, c.fo, c.req) && cleared
	}
	for _, u := range unroutable {
		cleared = s.clearCacheUnroutable(ctx, u.scope, u.host, u.cause) && cleared
	}
	return cleared
}

// ClearCacheParams is the operator-initiated cache-clear request. HostDomain
// names the host whose worker receives the call; Scope and Target follow the
// invalidation contract.
type ClearCacheParams struct {
	HostDomain string
	Scope      workerrpc.Scope
	Target     map[string]string
	Reason     string
}

// ClearCache sends one operator-initiated invalidation. Unlike revocation
// fan-out there is no local write to protect, so failures surface to the
// caller. The nuclear scope is the exception: evicting a whole worker
// without revoking the matching sessions would let them resurrect on the
// next snapshot pull, so it is routed through the bulk revocation flow.
func (s *Service) ClearCache(ctx context.Context, p ClearCacheParams) error {
	req := workerrpc.ClearRequest{Scope: p.Scope, Target: p.Target, Reason: p.Reason}
	if req.Reason == "" {
		req.Reason = "Manual cache clear"
	}
	if req.Target == nil {
		req.Target = map[string]string{}
	}
	if err := req.Validate(); err != nil {
		return invalid(err.Error())
	}

	if p.Scope == workerrpc.ScopeAllUsersWorker {
		var workerName string
		err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
			host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
			if err != nil {
				return notFoundOr(err, "Host not found")
			}
			if host.WorkerID == nil {
				return invalid(fmt.Sprintf("host %s is not bound to a worker", host.Domain))
			}
			w, err := st.GetWorkerByID(ctx, *host.WorkerID)
			if err != nil {
				return err
			}
			workerName = w.Name
			return nil
		})
		if err != nil {
			return err
		}
		_, err = s.RevokeWorkerSessions(ctx, workerName, p.Reason)
		return err
	}

	var fo fanout
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		if fo, err = fanoutForHost(ctx, st, host); err != nil {
			return invalid(err.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !s.clearCache(ctx, fo, req) {
		return upstream("Cache clear failed")
	}
	return nil
}

// ForceRefreshHost makes the worker fronting a host drop its cached config
// immediately instead of waiting out the poll interval.
func (s *Service) ForceRefreshHost(ctx context.Context, domain string) error {
	var fo fanout
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, domain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		if fo, err = fanoutForHost(ctx, st, host); err != nil {
			return invalid(err.Error())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !s.refreshWorkerConfig(ctx, fo, "Force refresh") {
		return upstream("Failed to refresh worker configuration")
	}
	return nil
}
