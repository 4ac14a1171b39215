package store

import (
	"context"
	"fmt"
	"time"
)

const emailOTPCols = `id, otp_request_id, host_id, user_id, email, otp_hash,
	browser_token_hash, expires_at, attempts, consumed, consumed_at,
	client_ip, user_agent, config_version, created_at, updated_at`

func scanEmailOTP(row interface{ Scan(...any) error }) (EmailOTP, error) {
	var o EmailOTP
	err := row.Scan(&o.ID, &o.OTPRequestID, &o.HostID, &o.UserID, &o.Email, &o.OTPHash,
		&o.BrowserTokenHash, &o.ExpiresAt, &o.Attempts, &o.Consumed, &o.ConsumedAt,
		&o.ClientIP, &o.UserAgent, &o.ConfigVersion, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) CreateEmailOTP(ctx context.Context, o EmailOTP) (EmailOTP, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sunray_email_otps (otp_request_id, host_id, user_id, email,
			otp_hash, browser_token_hash, expires_at, client_ip, user_agent)
		VALUES ($1, $2, $3, lower($4), $5, $6, $7, $8, $9)
		RETURNING `+emailOTPCols,
		o.OTPRequestID, o.HostID, o.UserID, o.Email,
		o.OTPHash, o.BrowserTokenHash, o.ExpiresAt, o.ClientIP, o.UserAgent)
	created, err := scanEmailOTP(row)
	if err != nil {
		return EmailOTP{}, fmt.Errorf("create email otp: %w", err)
	}
	return created, nil
}

// GetEmailOTPForUpdate locks the OTP row for one validation attempt.
// Concurrent retries against the same otp_request_id serialize here so the
// attempts counter cannot lose increments.
func (s *Store) GetEmailOTPForUpdate(ctx context.Context, otpRequestID, hostID string) (EmailOTP, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+emailOTPCols+` FROM sunray_email_otps
		WHERE otp_request_id = $1 AND host_id = $2
		FOR UPDATE`, otpRequestID, hostID)
	o, err := scanEmailOTP(row)
	return o, notFound(err)
}

// LatestOTPRequestAt returns the creation time of the most recent OTP for
// (email, host). Used for resend throttling; decoy rows count too, so the
// throttle does not reveal whether the address exists.
func (s *Store) LatestOTPRequestAt(ctx context.Context, email, hostID string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `
		SELECT created_at FROM sunray_email_otps
		WHERE email = lower($1) AND host_id = $2
		ORDER BY created_at DESC LIMIT 1`, email, hostID).Scan(&t)
	return t, notFound(err)
}

// IncrementOTPAttempts counts one failed credential comparison and returns
// the new total.
func (s *Store) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRow(ctx, `
		UPDATE sunray_email_otps
		SET attempts = attempts + 1, `+touch+`
		WHERE id = $1
		RETURNING attempts`, id).Scan(&attempts)
	return attempts, notFound(err)
}

func (s *Store) ConsumeEmailOTP(ctx context.Context, id string, now time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sunray_email_otps
		SET consumed = TRUE, consumed_at = $2, `+touch+`
		WHERE id = $1`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredOTPs removes rows past the retention cutoff: expired codes
// and consumed codes older than the cutoff. Returns the number removed.
func (s *Store) DeleteExpiredOTPs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM sunray_email_otps
		WHERE expires_at < $1 OR (consumed AND consumed_at < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
