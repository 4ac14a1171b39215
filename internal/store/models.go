package store

import (
	"strings"
	"time"
)

// User owns passkeys and setup tokens and is authorized on zero or more
// hosts through sunray_user_hosts.
type User struct {
	ID            string
	Username      string
	Email         string
	DisplayName   string
	IsActive      bool
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Host is one protected domain. WorkerID is the currently bound worker;
// PendingWorkerName is a plain string because the migration target may not
// be registered yet.
type Host struct {
	ID                    string
	Domain                string
	DisplayName           string
	BackendURL            string
	IsActive              bool
	BlockAllTraffic       bool
	WorkerID              *string
	PendingWorkerName     *string
	MigrationRequestedAt  *time.Time
	LastMigrationTS       *time.Time
	DeploymentMode        bool
	GoLiveDate            *time.Time
	DeploymentSessionTTL  int
	SessionDurationSecs   int
	WAFRevalidationSecs   int
	EmailLoginEnabled     bool
	EmailLoginSessionSecs int
	OTPValiditySecs       int
	RemoteAuthEnabled     bool
	RemoteAuthSessionTTL  int
	RemoteAuthMaxTTL      int
	SessionMgmtEnabled    bool
	SessionMgmtTTL        int
	AllowedCIDRs          string
	PublicURLPatterns     string
	TokenURLPatterns      string
	WebhookHeaderName     string
	WebhookParamName      string
	ConfigVersion         int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Worker is one edge execution unit.
type Worker struct {
	ID            string
	Name          string
	WorkerType    string
	WorkerURL     string
	APIKeyID      *string
	IsActive      bool
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// APIKey authenticates inbound worker calls and outbound cache-clear calls.
// Key holds the plain value because it must be replayed as a Bearer token
// toward the worker; KeyDisplay is the redacted form shown in listings.
type APIKey struct {
	ID            string
	Name          string
	Key           string
	KeyDisplay    string
	Scopes        string
	IsActive      bool
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	UsageCount    int64
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasScope reports whether the key grants the required "resource:action"
// scope. The literal "all" grants everything; "resource:all" and
// "resource:*" grant every action on the resource.
func (k APIKey) HasScope(required string) bool {
	resource, _, _ := strings.Cut(required, ":")
	for _, scope := range strings.Split(k.Scopes, ",") {
		scope = strings.TrimSpace(scope)
		switch scope {
		case "", "-":
			continue
		case "all", required, resource + ":all", resource + ":*":
			return true
		}
	}
	return false
}

// Expired reports whether the key has an expiry in the past.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Passkey is a WebAuthn credential registered through a worker. HostDomain
// pins the credential to the rpId it was created under and must be checked
// on any use.
type Passkey struct {
	ID               string
	UserID           string
	CredentialID     string
	PublicKey        string
	Name             string
	HostDomain       string
	SignCount        int64
	BackupEligible   bool
	BackupState      bool
	CreatedIP        string
	CreatedUserAgent string
	LastUsedAt       *time.Time
	ConfigVersion    int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SetupToken stores sha512:<hex> of a bootstrap secret whose plain value was
// shown exactly once at creation.
type SetupToken struct {
	ID            string
	UserID        string
	HostID        string
	TokenHash     string
	DeviceName    string
	ExpiresAt     time.Time
	Consumed      bool
	ConsumedDate  *time.Time
	CurrentUses   int
	MaxUses       int
	AllowedCIDRs  string
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EmailOTP stores only hashes: sha256 of the normalized code and sha256 of
// the browser-binding token. UserID is nil for requests against unknown
// addresses (the decoy row keeps the timing profile identical).
type EmailOTP struct {
	ID               string
	OTPRequestID     string
	HostID           string
	UserID           *string
	Email            string
	OTPHash          string
	BrowserTokenHash string
	ExpiresAt        time.Time
	Attempts         int
	Consumed         bool
	ConsumedAt       *time.Time
	ClientIP         string
	UserAgent        string
	ConfigVersion    int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session is an edge-issued session mirrored into the control plane.
// CreatedVia holds the device-info JSON captured at creation.
type Session struct {
	ID            string
	SessionID     string
	UserID        string
	HostID        string
	SessionType   string
	IsActive      bool
	Revoked       bool
	RevokedReason string
	ExpiresAt     time.Time
	LastActivity  time.Time
	CredentialID  string
	CreatedIP     string
	UserAgent     string
	CreatedVia    string
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WebhookToken identifies one external webhook producer for a host.
type WebhookToken struct {
	ID            string
	HostID        string
	Name          string
	Token         string
	HeaderName    string
	ParamName     string
	TokenSource   string
	AllowedCIDRs  string
	IsActive      bool
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	UsageCount    int64
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Usable reports whether the token may authenticate a webhook right now.
func (w WebhookToken) Usable(now time.Time) bool {
	if !w.IsActive {
		return false
	}
	return w.ExpiresAt == nil || w.ExpiresAt.After(now)
}

// AccessRule is a typed per-host exception the worker consults during
// request evaluation. Only rule_type "cidr" is interpreted today.
type AccessRule struct {
	ID            string
	HostID        string
	Name          string
	RuleType      string
	Action        string
	Value         string
	Priority      int
	IsActive      bool
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuditRecord is one persisted audit entry.
type AuditRecord struct {
	ID          string
	Timestamp   time.Time
	EventType   string
	Severity    string
	UserID      *string
	Username    string
	AdminUserID string
	APIKeyID    *string
	Worker      string
	IPAddress   string
	UserAgent   string
	RequestID   string
	EventSource string
	Details     string
}

// MigrationHost is one row of a worker's migration status projection.
type MigrationHost struct {
	Domain        string
	CurrentWorker string
	PendingWorker string
	RequestedAt   *time.Time
}
