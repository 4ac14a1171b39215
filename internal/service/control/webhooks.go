package control

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

type CreateWebhookTokenParams struct {
	HostDomain   string
	Name         string
	HeaderName   string
	ParamName    string
	TokenSource  string
	AllowedCIDRs string
	ExpiresAt    *time.Time
}

// CreatedWebhookToken is returned on creation and regeneration; these are
// the only responses carrying the full token value.
type CreatedWebhookToken struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Token       string     `json:"token"`
	Host        string     `json:"host"`
	TokenSource string     `json:"token_source"`
	HeaderName  string     `json:"header_name,omitempty"`
	ParamName   string     `json:"param_name,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CreateWebhookToken mints a token for one external webhook producer.
func (s *Service) CreateWebhookToken(ctx context.Context, p CreateWebhookTokenParams) (CreatedWebhookToken, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return CreatedWebhookToken{}, invalid("name is required")
	}
	if p.TokenSource == "" {
		p.TokenSource = "header"
	}
	if err := validateTokenSource(p.TokenSource, p.HeaderName, p.ParamName); err != nil {
		return CreatedWebhookToken{}, err
	}
	if err := token.ValidateCIDRList(p.AllowedCIDRs); err != nil {
		return CreatedWebhookToken{}, invalid(err.Error())
	}

	plain := token.NewWebhookToken()

	var out CreatedWebhookToken
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		h, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}
		wt, err := st.CreateWebhookToken(ctx, store.WebhookToken{
			HostID:       h.ID,
			Name:         p.Name,
			Token:        plain,
			HeaderName:   p.HeaderName,
			ParamName:    p.ParamName,
			TokenSource:  p.TokenSource,
			AllowedCIDRs: p.AllowedCIDRs,
			ExpiresAt:    p.ExpiresAt,
		})
		if err != nil {
			return err
		}
		out = CreatedWebhookToken{
			ID:          wt.ID,
			Name:        wt.Name,
			Token:       plain,
			Host:        h.Domain,
			TokenSource: wt.TokenSource,
			HeaderName:  wt.HeaderName,
			ParamName:   wt.ParamName,
			ExpiresAt:   wt.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return CreatedWebhookToken{}, err
	}
	// Creation has no event in the audit taxonomy; regeneration and use do.
	log.Ctx(ctx).Info().
		Str("host", out.Host).
		Str("token_name", out.Name).
		Msg("webhook token created")
	return out, nil
}

// RegenerateWebhookToken replaces the token value, keeping name and policy.
func (s *Service) RegenerateWebhookToken(ctx context.Context, id string) (CreatedWebhookToken, error) {
	plain := token.NewWebhookToken()

	var out CreatedWebhookToken
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		wt, err := st.RegenerateWebhookToken(ctx, id, plain)
		if err != nil {
			return notFoundOr(err, "Webhook token not found")
		}
		h, err := st.GetHostByID(ctx, wt.HostID)
		if err != nil {
			return err
		}
		out = CreatedWebhookToken{
			ID:          wt.ID,
			Name:        wt.Name,
			Token:       plain,
			Host:        h.Domain,
			TokenSource: wt.TokenSource,
			HeaderName:  wt.HeaderName,
			ParamName:   wt.ParamName,
			ExpiresAt:   wt.ExpiresAt,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.WebhookRegenerated,
			Severity:  audit.SeverityInfo,
			Details:   map[string]any{"token_name": wt.Name, "host": h.Domain},
		})
	})
	if err != nil {
		return CreatedWebhookToken{}, err
	}
	return out, nil
}

// TrackWebhookUsage bumps the usage counter for the token the worker
// matched. Unknown tokens are a silent no-op so the endpoint never reveals
// which values exist.
func (s *Service) TrackWebhookUsage(ctx context.Context, tokenValue, clientIP string) error {
	return store.WithTx(ctx, s.DB, func(st *store.Store) error {
		wt, err := st.GetWebhookTokenByToken(ctx, tokenValue)
		if isStoreMiss(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := st.TrackWebhookUsage(ctx, wt.ID); err != nil {
			return err
		}
		h, err := st.GetHostByID(ctx, wt.HostID)
		if err != nil {
			return err
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.WebhookUsed,
			Severity:  audit.SeverityInfo,
			IPAddress: clientIP,
			Details:   map[string]any{"token_name": wt.Name, "host": h.Domain},
		})
	})
}

// validateTokenSource enforces that the transport fields required by the
// source are present.
func validateTokenSource(source, headerName, paramName string) error {
	switch source {
	case "header":
		if headerName == "" {
			return invalid("header_name is required when token_source is header")
		}
	case "param":
		if paramName == "" {
			return invalid("param_name is required when token_source is param")
		}
	case "both":
		if headerName == "" && paramName == "" {
			return invalid("header_name or param_name is required when token_source is both")
		}
	default:
		return invalid("token_source must be one of header, param, both")
	}
	return nil
}
