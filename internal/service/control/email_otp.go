package control

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

const (
	// defaultOTPMaxAttempts locks an OTP after this many wrong credential
	// comparisons.
	defaultOTPMaxAttempts = 5

	// otpResendCooldown is the minimum gap between OTP requests for the
	// same (email, host) pair.
	otpResendCooldown = 60 * time.Second

	// otpRetention is how long expired or consumed OTP rows are kept
	// before the cleanup cron removes them.
	otpRetention = 24 * time.Hour
)

// RequestEmailOTPParams asks for a login code for an email address on a
// host. BrowserTokenHash is the SHA-256 of the worker-issued srbt_ cookie;
// the plain browser token never reaches the control plane.
type RequestEmailOTPParams struct {
	Email            string
	HostDomain       string
	BrowserTokenHash string
	ClientIP         string
	UserAgent        string
	ValiditySeconds  int
}

// EmailOTPRequest is the request result. OTPCode is nil when the address is
// not a known user on the host; everything else is shaped identically so the
// response does not reveal account existence.
type EmailOTPRequest struct {
	OTPRequestID      string    `json:"otp_request_id"`
	OTPCode           *string   `json:"otp_code"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
}

// RequestEmailOTP issues an OTP for the address. Unknown addresses follow
// the same code path with a decoy row: one insert, one audit entry, one
// identically shaped response, so neither body nor latency leaks whether the
// account exists. The plain code goes back to the worker for delivery and is
// stored only as a hash.
func (s *Service) RequestEmailOTP(ctx context.Context, p RequestEmailOTPParams) (EmailOTPRequest, error) {
	switch {
	case p.Email == "":
		return EmailOTPRequest{}, invalid("email is required")
	case p.HostDomain == "":
		return EmailOTPRequest{}, invalid("host is required")
	case p.BrowserTokenHash == "":
		return EmailOTPRequest{}, invalid("browser_token_hash is required")
	}

	email := strings.ToLower(strings.TrimSpace(p.Email))
	browserHash := canonicalSHA256(p.BrowserTokenHash)
	now := time.Now().UTC()

	code := token.NewOTPCode()
	otpHash := token.HashSHA256(token.NormalizeOTP(code))
	requestID := token.NewOTPRequestID()

	var out EmailOTPRequest
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			return notFoundOr(err, "Host not found")
		}

		if last, err := st.LatestOTPRequestAt(ctx, email, host.ID); err == nil {
			if wait := last.Add(otpResendCooldown).Sub(now); wait > 0 {
				return tooManyRequests("Please wait before requesting another code")
			}
		} else if !isStoreMiss(err) {
			return err
		}

		validity := time.Duration(p.ValiditySeconds) * time.Second
		if validity <= 0 {
			validity = time.Duration(host.OTPValiditySecs) * time.Second
		}
		expiresAt := now.Add(validity)

		// The lookup, the insert, and the audit write run on both
		// branches; only user_id and the returned code differ.
		var userID *string
		event := audit.EmailOTPRequestedUnknown
		var username string
		user, err := st.GetActiveUserByEmailOnHost(ctx, email, host.ID)
		switch {
		case err == nil:
			userID = &user.ID
			username = user.Username
			event = audit.EmailOTPRequested
		case !isStoreMiss(err):
			return err
		}

		if _, err := st.CreateEmailOTP(ctx, store.EmailOTP{
			OTPRequestID:     requestID,
			HostID:           host.ID,
			UserID:           userID,
			Email:            email,
			OTPHash:          otpHash,
			BrowserTokenHash: browserHash,
			ExpiresAt:        expiresAt,
			ClientIP:         p.ClientIP,
			UserAgent:        p.UserAgent,
		}); err != nil {
			return err
		}

		out = EmailOTPRequest{
			OTPRequestID:      requestID,
			ExpiresAt:         expiresAt,
			ResendAvailableAt: now.Add(otpResendCooldown),
		}
		if userID != nil {
			out.OTPCode = &code
		}

		e := audit.Entry{
			EventType: event,
			Severity:  audit.SeverityInfo,
			Username:  username,
			IPAddress: p.ClientIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"email":          email,
				"host":           host.Domain,
				"otp_request_id": requestID,
				"expires_at":     expiresAt,
			},
		}
		if userID != nil {
			e.UserID = *userID
		}
		return appendAudit(ctx, st, e)
	})
	if err != nil {
		return EmailOTPRequest{}, err
	}
	return out, nil
}

// ValidateEmailOTPParams is one validation attempt against an issued OTP.
type ValidateEmailOTPParams struct {
	Email            string
	OTPCode          string
	OTPRequestID     string
	BrowserTokenHash string
	HostDomain       string
	ClientIP         string
	UserAgent        string

	// MaxAttempts overrides the lockout threshold; zero means the default.
	MaxAttempts int
}

// EmailOTPValidation is the protocol result. ErrorCode is one of:
// host_not_found, otp_not_found, already_consumed, expired,
// max_attempts_exceeded, browser_token_mismatch, invalid_code.
type EmailOTPValidation struct {
	Valid            bool   `json:"valid"`
	ErrorCode        string `json:"error_code,omitempty"`
	Email            string `json:"email,omitempty"`
	Username         string `json:"username,omitempty"`
	SessionDurationS int    `json:"session_duration_s,omitempty"`
}

// ValidateEmailOTP runs one attempt through the failure ladder. The OTP row
// is locked for the whole transaction, so concurrent retries serialize and
// attempts never lose an increment. Structural failures (missing, consumed,
// expired, locked out) do not count as attempts; only wrong credentials do:
// a browser-token mismatch or a wrong code. The browser token is compared
// before the code so a phished code on a foreign browser never reaches the
// code comparison.
func (s *Service) ValidateEmailOTP(ctx context.Context, p ValidateEmailOTPParams) (EmailOTPValidation, error) {
	switch {
	case p.OTPRequestID == "":
		return EmailOTPValidation{}, invalid("otp_request_id is required")
	case p.HostDomain == "":
		return EmailOTPValidation{}, invalid("host is required")
	case p.BrowserTokenHash == "":
		return EmailOTPValidation{}, invalid("browser_token_hash is required")
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultOTPMaxAttempts
	}
	now := time.Now().UTC()

	var result EmailOTPValidation
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		fail := func(event audit.EventType, severity audit.Severity, code string, otp *store.EmailOTP) error {
			result = EmailOTPValidation{Valid: false, ErrorCode: code}
			e := audit.Entry{
				EventType: event,
				Severity:  severity,
				IPAddress: p.ClientIP,
				UserAgent: p.UserAgent,
				Details: map[string]any{
					"email":          strings.ToLower(p.Email),
					"host":           p.HostDomain,
					"otp_request_id": p.OTPRequestID,
					"reason":         code,
				},
			}
			if otp != nil {
				e.Details["attempts"] = otp.Attempts
				if otp.UserID != nil {
					e.UserID = *otp.UserID
				}
			}
			return appendAudit(ctx, st, e)
		}

		host, err := st.GetActiveHostByDomain(ctx, p.HostDomain)
		if err != nil {
			if isStoreMiss(err) {
				return fail(audit.EmailOTPFailed, audit.SeverityInfo, "host_not_found", nil)
			}
			return err
		}

		otp, err := st.GetEmailOTPForUpdate(ctx, p.OTPRequestID, host.ID)
		if err != nil {
			if isStoreMiss(err) {
				return fail(audit.EmailOTPFailed, audit.SeverityInfo, "otp_not_found", nil)
			}
			return err
		}

		switch {
		case otp.Consumed:
			return fail(audit.EmailOTPFailed, audit.SeverityInfo, "already_consumed", &otp)
		case !otp.ExpiresAt.After(now):
			return fail(audit.EmailOTPExpired, audit.SeverityInfo, "expired", &otp)
		case otp.Attempts >= maxAttempts:
			return fail(audit.SecurityOTPLockout, audit.SeverityWarning, "max_attempts_exceeded", &otp)
		}

		if !hashesEqual(otp.BrowserTokenHash, canonicalSHA256(p.BrowserTokenHash)) {
			if otp.Attempts, err = st.IncrementOTPAttempts(ctx, otp.ID); err != nil {
				return err
			}
			return fail(audit.SecurityOTPBrowserMismatch, audit.SeverityWarning, "browser_token_mismatch", &otp)
		}

		claimed := token.HashSHA256(token.NormalizeOTP(p.OTPCode))
		// Decoy rows issued for unknown addresses have no user and their
		// code was never disclosed, so any match against one is a guess.
		if !hashesEqual(otp.OTPHash, claimed) || otp.UserID == nil {
			if otp.Attempts, err = st.IncrementOTPAttempts(ctx, otp.ID); err != nil {
				return err
			}
			return fail(audit.EmailOTPFailed, audit.SeverityInfo, "invalid_code", &otp)
		}

		if err := st.ConsumeEmailOTP(ctx, otp.ID, now); err != nil {
			return err
		}
		user, err := st.GetUserByID(ctx, *otp.UserID)
		if err != nil {
			return err
		}

		duration := host.EmailLoginSessionSecs
		if duration <= 0 {
			duration = host.SessionDurationSecs
		}
		result = EmailOTPValidation{
			Valid:            true,
			Email:            otp.Email,
			Username:         user.Username,
			SessionDurationS: duration,
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.EmailOTPValidated,
			Severity:  audit.SeverityInfo,
			UserID:    user.ID,
			Username:  user.Username,
			IPAddress: p.ClientIP,
			UserAgent: p.UserAgent,
			Details: map[string]any{
				"email":          otp.Email,
				"host":           host.Domain,
				"otp_request_id": otp.OTPRequestID,
			},
		})
	})
	if err != nil {
		return EmailOTPValidation{}, err
	}
	return result, nil
}

// CleanupExpiredOTPs removes OTP rows past retention and writes one summary
// entry when anything was removed. Called by the hourly cron.
func (s *Service) CleanupExpiredOTPs(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-otpRetention)

	var deleted int64
	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		var err error
		if deleted, err = st.DeleteExpiredOTPs(ctx, cutoff); err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}
		return appendAudit(ctx, st, audit.Entry{
			EventType:   audit.EmailOTPCleanup,
			Severity:    audit.SeverityInfo,
			EventSource: "system",
			Details:     map[string]any{"deleted_count": deleted, "cutoff": cutoff},
		})
	})
	return deleted, err
}

// canonicalSHA256 lowercases a client-supplied sha256 hex digest and ensures
// the storage prefix, so comparisons are format-insensitive.
func canonicalSHA256(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "sha256:") {
		h = "sha256:" + h
	}
	return h
}

// hashesEqual compares two hash strings in constant time.
func hashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
