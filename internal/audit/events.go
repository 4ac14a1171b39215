package audit

// EventType names one entry in the closed audit taxonomy. The store rejects
// values outside this set, so a typo in a new call site fails loudly at the
// first write instead of polluting the log.
type EventType string

const (
	// Authentication and credential lifecycle
	AuthSuccess                EventType = "auth.success"
	AuthFailure                EventType = "auth.failure"
	SetupTokenGenerated        EventType = "auth.setup_token_generated"
	SetupTokenConsumed         EventType = "auth.setup_token_consumed"
	EmailOTPRequested          EventType = "auth.email_otp_requested"
	EmailOTPRequestedUnknown   EventType = "auth.email_otp_requested_unknown"
	EmailOTPValidated          EventType = "auth.email_otp_validated"
	EmailOTPFailed             EventType = "auth.email_otp_failed"
	EmailOTPExpired            EventType = "auth.email_otp_expired"
	EmailOTPCleanup            EventType = "auth.email_otp_cleanup"

	// Security observations
	SecurityOTPLockout         EventType = "security.email_otp_lockout"
	SecurityOTPBrowserMismatch EventType = "security.email_otp_browser_mismatch"
	SecurityCrossDomainSession EventType = "security.cross_domain_session"
	SecurityHostIDMismatch     EventType = "security.host_id_mismatch"
	SecurityUnmanagedHost      EventType = "security.unmanaged_host_access"

	// Passkeys
	PasskeyRegistered EventType = "passkey.registered"
	PasskeyRevoked    EventType = "passkey.revoked"

	// Sessions
	SessionCreated        EventType = "session.created"
	SessionRevoked        EventType = "session.revoked"
	SessionExpired        EventType = "session.expired"
	SessionBulkRevocation EventType = "session.bulk_revocation"

	// Edge cache invalidation
	CacheCleared      EventType = "cache.cleared"
	CacheClearFailed  EventType = "cache.clear_failed"
	CacheNuclearClear EventType = "cache.nuclear_clear"

	// Host configuration
	ConfigSessionDurationChanged EventType = "config.session_duration_changed"
	ConfigWAFRevalidationChanged EventType = "config.waf_revalidation_changed"
	ConfigFetched                EventType = "config.fetched"

	// Worker lifecycle
	WorkerRegistered           EventType = "worker.registered"
	WorkerReRegistered         EventType = "worker.re_registered"
	WorkerMigrated             EventType = "worker.migrated"
	WorkerMigrationRequested   EventType = "worker.migration_requested"
	WorkerMigrationCancelled   EventType = "worker.migration_cancelled"
	WorkerRegistrationConflict EventType = "worker.registration_conflict"

	// API keys
	APIKeyCreated     EventType = "api_key.created"
	APIKeyRegenerated EventType = "api_key.regenerated"
	APIKeyDeleted     EventType = "api_key.deleted"

	// Webhook tokens
	WebhookUsed        EventType = "webhook.used"
	WebhookRegenerated EventType = "webhook.regenerated"

	// Setup-token email delivery
	TokenEmailSent        EventType = "token.email.sent"
	TokenEmailNoTemplate  EventType = "token.email.no_template"
	TokenEmailNoRecipient EventType = "token.email.no_recipient"
	TokenEmailError       EventType = "token.email.error"

	// User validation
	UserValidationSuccess EventType = "user.validation.success"
	UserValidationUnknown EventType = "user.validation.unknown_user"

	// Host lifecycle
	HostGoLiveTransition EventType = "host.golive_transition"
	HostUserAuthorized   EventType = "host.user_authorized"

	// Remote authentication (paid path)
	RemoteSessionCreated    EventType = "remote_auth.session_created"
	RemoteSessionListed     EventType = "remote_auth.session_listed"
	RemoteSessionTerminated EventType = "remote_auth.session_terminated"

	// Log maintenance. The retention job is the only writer, and the only
	// code path allowed to delete audit rows.
	AuditRetention EventType = "audit.retention"
)

// AllEvents lists every declared event type; order matches the const block.
func AllEvents() []EventType {
	return []EventType{
		AuthSuccess, AuthFailure,
		SetupTokenGenerated, SetupTokenConsumed,
		EmailOTPRequested, EmailOTPRequestedUnknown, EmailOTPValidated,
		EmailOTPFailed, EmailOTPExpired, EmailOTPCleanup,
		SecurityOTPLockout, SecurityOTPBrowserMismatch,
		SecurityCrossDomainSession, SecurityHostIDMismatch, SecurityUnmanagedHost,
		PasskeyRegistered, PasskeyRevoked,
		SessionCreated, SessionRevoked, SessionExpired, SessionBulkRevocation,
		CacheCleared, CacheClearFailed, CacheNuclearClear,
		ConfigSessionDurationChanged, ConfigWAFRevalidationChanged, ConfigFetched,
		WorkerRegistered, WorkerReRegistered, WorkerMigrated,
		WorkerMigrationRequested, WorkerMigrationCancelled, WorkerRegistrationConflict,
		APIKeyCreated, APIKeyRegenerated, APIKeyDeleted,
		WebhookUsed, WebhookRegenerated,
		TokenEmailSent, TokenEmailNoTemplate, TokenEmailNoRecipient, TokenEmailError,
		UserValidationSuccess, UserValidationUnknown,
		HostGoLiveTransition, HostUserAuthorized,
		RemoteSessionCreated, RemoteSessionListed, RemoteSessionTerminated,
		AuditRetention,
	}
}

var validEvents = func() map[EventType]struct{} {
	m := make(map[EventType]struct{})
	for _, e := range AllEvents() {
		if _, dup := m[e]; dup {
			panic("duplicate audit event type: " + string(e))
		}
		m[e] = struct{}{}
	}
	return m
}()

// Valid reports whether the event type belongs to the declared taxonomy.
func (e EventType) Valid() bool {
	_, ok := validEvents[e]
	return ok
}

// Severity classifies an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the four declared levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}
