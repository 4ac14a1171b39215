package control

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSecurityEvent(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	err := svc.ReportSecurityEvent(ctx, ReportSecurityEventParams{
		Type: "security.unmanaged_host_access",
		Details: map[string]any{
			"ip":         "203.0.113.9",
			"user_agent": "curl/8.0",
			"host":       "shadow.ex.com",
		},
	})
	require.NoError(t, err)

	rec := lastAuditOfType(t, st, "security.unmanaged_host_access")
	assert.Equal(t, "warning", rec.Severity, "severity defaults to warning")
	assert.Equal(t, "worker", rec.EventSource)
	assert.Equal(t, "203.0.113.9", rec.IPAddress, "client IP comes from details, not the connection")
	assert.Equal(t, "curl/8.0", rec.UserAgent)
	assert.Contains(t, rec.Details, "shadow.ex.com")

	err = svc.ReportSecurityEvent(ctx, ReportSecurityEventParams{
		Type:     "security.host_id_mismatch",
		Severity: "critical",
		Username: "alice",
	})
	require.NoError(t, err)
	rec = lastAuditOfType(t, st, "security.host_id_mismatch")
	assert.Equal(t, "critical", rec.Severity)
	assert.Equal(t, "alice", rec.Username)
}

func TestReportSecurityEventRejectsUnknown(t *testing.T) {
	svc, st, _, _ := testService(t)
	ctx := context.Background()

	err := svc.ReportSecurityEvent(ctx, ReportSecurityEventParams{Type: "security.made_up"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Contains(t, ErrorMessage(err), "Unknown event type")

	err = svc.ReportSecurityEvent(ctx, ReportSecurityEventParams{
		Type:     "security.unmanaged_host_access",
		Severity: "catastrophic",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Contains(t, ErrorMessage(err), "Unknown severity")

	rows, err := st.ListAuditByType(ctx, "security.unmanaged_host_access", 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "rejected events never reach the log")
}
