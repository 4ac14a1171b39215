package control

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/mailer"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

// GenerateSetupTokenParams creates a bootstrap token for one user on one
// host. Zero values fall back to the process-wide defaults in
// sunray_config_params.
type GenerateSetupTokenParams struct {
	Username      string
	HostDomain    string
	DeviceName    string
	ValidityHours int
	MaxUses       int
	AllowedCIDRs  string

	// SendEmail overrides sunray.setup_token_send_email_default when set.
	SendEmail *bool
}

// GeneratedSetupToken carries the plain token back to the operator. This is
// the only time the plain value exists outside the caller's hands; the store
// keeps a SHA-512 hash.
type GeneratedSetupToken struct {
	Token      string    `json:"token"`
	TokenID    string    `json:"token_id"`
	Username   string    `json:"username"`
	Host       string    `json:"host"`
	DeviceName string    `json:"device_name"`
	ExpiresAt  time.Time `json:"expires_at"`
	MaxUses    int       `json:"max_uses"`
	EmailSent  bool      `json:"email_sent"`
	EmailError string    `json:"email_error,omitempty"`
}

// GenerateSetupToken mints a setup token, records its hash, and optionally
// emails the plain value to the user. Email delivery happens after the
// token is committed and its failure never undoes the token.
func (s *Service) GenerateSetupToken(ctx context.Context, p GenerateSetupTokenParams) (GeneratedSetupToken, error) {
	switch {
	case p.Username == "":
		return GeneratedSetupToken{}, invalid("username is required")
	case p.HostDomain == "":
		return GeneratedSetupToken{}, invalid("host is required")
	}
	if err := token.ValidateCIDRList(p.AllowedCIDRs); err != nil {
		return GeneratedSetupToken{}, invalid(err.Error())
	}

	plain := token.NewSetupToken()
	hash := token.HashSHA512(plain)
	now := time.Now().UTC()

	var (
		out       GeneratedSetupToken
		user      store.User
		sendEmail bool
		template  string
	)
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		user, err = st.GetActiveUserByUsername(ctx, p.Username)
		if err != nil {
			return notFoundOr(err, "User not found")
		}
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		deviceName := p.DeviceName
		if deviceName == "" {
			if deviceName, err = st.GetParamString(ctx, store.ParamDefaultDeviceName, store.DefaultTokenDeviceName); err != nil {
				return err
			}
		}
		validHours := p.ValidityHours
		if validHours <= 0 {
			if validHours, err = st.GetParamInt(ctx, store.ParamDefaultTokenHours, store.DefaultTokenValidHours); err != nil {
				return err
			}
		}
		maxUses := p.MaxUses
		if maxUses <= 0 {
			if maxUses, err = st.GetParamInt(ctx, store.ParamDefaultTokenMaxUses, store.DefaultTokenMaxUses); err != nil {
				return err
			}
		}
		if p.SendEmail != nil {
			sendEmail = *p.SendEmail
		} else if sendEmail, err = st.GetParamBool(ctx, store.ParamTokenSendEmailDefault, true); err != nil {
			return err
		}
		if template, err = st.GetParamString(ctx, store.ParamTokenMailTemplate, mailer.DefaultSetupTokenTemplate); err != nil {
			return err
		}

		tok, err := st.CreateSetupToken(ctx, store.SetupToken{
			UserID:       user.ID,
			HostID:       host.ID,
			TokenHash:    hash,
			DeviceName:   deviceName,
			ExpiresAt:    now.Add(time.Duration(validHours) * time.Hour),
			MaxUses:      maxUses,
			AllowedCIDRs: p.AllowedCIDRs,
		})
		if err != nil {
			return err
		}

		out = GeneratedSetupToken{
			Token:      plain,
			TokenID:    tok.ID,
			Username:   user.Username,
			Host:       host.Domain,
			DeviceName: tok.DeviceName,
			ExpiresAt:  tok.ExpiresAt,
			MaxUses:    tok.MaxUses,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SetupTokenGenerated,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			Details: map[string]any{
				"host":        host.Domain,
				"device_name": tok.DeviceName,
				"valid_hours": validHours,
				"max_uses":    tok.MaxUses,
				"expires_at":  tok.ExpiresAt,
			},
		})
	})
	if err != nil {
		return GeneratedSetupToken{}, err
	}

	if sendEmail {
		out.EmailSent, out.EmailError = s.sendSetupTokenEmail(ctx, user, out, template)
	}
	return out, nil
}

// sendSetupTokenEmail delivers the plain token to the user's address and
// records the outcome. Returns (sent, caller-visible error text).
func (s *Service) sendSetupTokenEmail(ctx context.Context, user store.User, tok GeneratedSetupToken, template string) (bool, string) {
	if user.Email == "" {
		s.auditOutsideTx(ctx, audit.Entry{
			EventType: audit.TokenEmailNoRecipient,
			Severity:  audit.SeverityWarning,
			UserID:    user.ID,
			Username:  user.Username,
			Details:   map[string]any{"host": tok.Host},
		})
		return false, "user has no email address"
	}

	html, err := mailer.RenderSetupToken(template, mailer.SetupTokenEmail{
		Username:   user.Username,
		HostDomain: tok.Host,
		DeviceName: tok.DeviceName,
		Token:      tok.Token,
		ExpiresAt:  tok.ExpiresAt,
		MaxUses:    tok.MaxUses,
	})
	if err != nil {
		s.auditOutsideTx(ctx, audit.Entry{
			EventType: audit.TokenEmailNoTemplate,
			Severity:  audit.SeverityWarning,
			UserID:    user.ID,
			Username:  user.Username,
			Details:   map[string]any{"template": template, "error": err.Error()},
		})
		return false, "mail template unavailable"
	}

	err = s.Mail.Send(ctx, mailer.Message{
		To:       user.Email,
		Subject:  "Your " + tok.Host + " setup token",
		HTMLBody: html,
		Tag:      "setup-token",
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("username", user.Username).Msg("setup token email failed")
		s.auditOutsideTx(ctx, audit.Entry{
			EventType: audit.TokenEmailError,
			Severity:  audit.SeverityError,
			UserID:    user.ID,
			Username:  user.Username,
			Details:   map[string]any{"host": tok.Host, "error": err.Error()},
		})
		return false, "email delivery failed"
	}

	s.auditOutsideTx(ctx, audit.Entry{
		EventType: audit.TokenEmailSent,
		Severity:  audit.SeverityInfo,
		UserID:    user.ID,
		Username:  user.Username,
		Details:   map[string]any{"host": tok.Host, "device_name": tok.DeviceName},
	})
	return true, ""
}

// ValidateSetupTokenParams is the worker-side token check. TokenHash is the
// SHA-512 hex the worker computed from the claimed token; the plain value
// never crosses the wire.
type ValidateSetupTokenParams struct {
	Username  string
	TokenHash string
	ClientIP  string
	UserAgent string
}

// SetupTokenValidation is the protocol result. Failures are ordinary
// responses, not HTTP errors: the worker branches on Valid.
type SetupTokenValidation struct {
	Valid bool           `json:"valid"`
	Error string         `json:"error,omitempty"`
	User  *ValidatedUser `json:"user,omitempty"`
}

// ValidatedUser is the enrollment payload returned on successful validation.
type ValidatedUser struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// ValidateSetupToken checks and consumes one setup-token use. The token row
// is locked for the whole transaction so concurrent validations of the same
// token serialize and the use counter stays exact.
func (s *Service) ValidateSetupToken(ctx context.Context, p ValidateSetupTokenParams) (SetupTokenValidation, error) {
	switch {
	case p.Username == "":
		return SetupTokenValidation{}, invalid("username is required")
	case p.TokenHash == "":
		return SetupTokenValidation{}, invalid("token_hash is required")
	}

	hash := strings.ToLower(strings.TrimSpace(p.TokenHash))
	if !strings.HasPrefix(hash, "sha512:") {
		hash = "sha512:" + hash
	}
	now := time.Now().UTC()

	var result SetupTokenValidation
	fail := func(ctx context.Context, st *store.Store, user *store.User, msg string) error {
		result = SetupTokenValidation{Valid: false, Error: msg}
		e := audit.Entry{
			EventType: audit.AuthFailure,
			Severity:  audit.SeverityWarning,
			IPAddress: p.ClientIP,
			UserAgent: p.UserAgent,
			Details:   map[string]any{"method": "setup_token", "reason": msg, "username": p.Username},
		}
		if user != nil {
			e.UserID = user.ID
			e.Username = user.Username
		}
		return appendAudit(ctx, st, e)
	}

	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		user, err := st.GetActiveUserByUsername(ctx, p.Username)
		if err != nil {
			if isStoreMiss(err) {
				return fail(ctx, st, nil, "User not found")
			}
			return err
		}

		tok, err := st.GetLiveSetupTokenForUpdate(ctx, user.ID, hash, now)
		if err != nil {
			if isStoreMiss(err) {
				return fail(ctx, st, &user, "Invalid or expired token")
			}
			return err
		}

		if entries := token.ParseCIDRList(tok.AllowedCIDRs); len(entries) > 0 &&
			!token.CIDRListContains(entries, p.ClientIP) {
			return fail(ctx, st, &user, "IP not allowed")
		}
		if tok.CurrentUses >= tok.MaxUses {
			return fail(ctx, st, &user, "Token usage limit exceeded")
		}

		consumed := tok.CurrentUses+1 >= tok.MaxUses
		tok, err = st.ConsumeSetupToken(ctx, tok.ID, consumed, now)
		if err != nil {
			return err
		}

		host, err := st.GetHostByID(ctx, tok.HostID)
		if err != nil {
			return err
		}

		result = SetupTokenValidation{
			Valid: true,
			User: &ValidatedUser{
				Username:    user.Username,
				Email:       user.Email,
				DisplayName: user.DisplayName,
			},
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.SetupTokenConsumed,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: p.ClientIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"host":         host.Domain,
				"device_name":  tok.DeviceName,
				"current_uses": tok.CurrentUses,
				"max_uses":     tok.MaxUses,
				"consumed":     tok.Consumed,
			},
		})
	})
	if err != nil {
		return SetupTokenValidation{}, err
	}
	return result, nil
}
