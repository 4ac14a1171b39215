package control

import (
	"context"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
)

type ReportSecurityEventParams struct {
	Type     string
	Severity string
	Username string
	Details  map[string]any
}

// ReportSecurityEvent appends a worker-observed event to the audit log.
// The type must belong to the declared taxonomy; anything else is a caller
// bug and is rejected before it can pollute the log.
func (s *Service) ReportSecurityEvent(ctx context.Context, p ReportSecurityEventParams) error {
	et := audit.EventType(p.Type)
	if !et.Valid() {
		return invalid("Unknown event type: " + p.Type)
	}
	sev := audit.Severity(p.Severity)
	if sev == "" {
		sev = audit.SeverityWarning
	}
	if !sev.Valid() {
		return invalid("Unknown severity: " + p.Severity)
	}

	// Workers report the client they observed inside details; prefer that
	// over the connection attribution, which is the worker itself.
	var ip, ua string
	if v, ok := p.Details["ip"].(string); ok {
		ip = v
	}
	if v, ok := p.Details["user_agent"].(string); ok {
		ua = v
	}

	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		return appendAudit(ctx, st, audit.Entry{
			EventType:   et,
			Severity:    sev,
			Username:    p.Username,
			IPAddress:   ip,
			UserAgent:   ua,
			EventSource: "worker",
			Details:     p.Details,
		})
	})
}
