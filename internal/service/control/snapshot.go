package control

import (
	"context"
	"strings"
	"time"

	"github.com/sunray-sh/sunray-api/internal/audit"
	"github.com/sunray-sh/sunray-api/internal/hoststate"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/token"
)

// SnapshotVersion is the wire version of the configuration document.
// Workers reject snapshots with a version they do not understand.
const SnapshotVersion = 3

// Snapshot is the full configuration document a worker needs to enforce
// access. It is the authority: workers reconcile their caches to it.
type Snapshot struct {
	Version     int                     `json:"version"`
	GeneratedAt time.Time               `json:"generated_at"`
	Users       map[string]SnapshotUser `json:"users"`
	Hosts       []SnapshotHost          `json:"hosts"`
}

type SnapshotUser struct {
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	CreatedAt   time.Time         `json:"created_at"`
	Passkeys    []SnapshotPasskey `json:"passkeys"`
}

type SnapshotPasskey struct {
	CredentialID   string    `json:"credential_id"`
	PublicKey      string    `json:"public_key"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	BackupEligible bool      `json:"backup_eligible"`
	BackupState    bool      `json:"backup_state"`
}

type SnapshotHost struct {
	Domain                  string                 `json:"domain"`
	Backend                 string                 `json:"backend"`
	AuthorizedUsers         []string               `json:"authorized_users"`
	AllowedCIDRs            []string               `json:"allowed_cidrs"`
	PublicURLPatterns       []string               `json:"public_url_patterns"`
	TokenURLPatterns        []string               `json:"token_url_patterns"`
	SessionDurationOverride int                    `json:"session_duration_override"`
	WebhookHeaderName       string                 `json:"webhook_header_name,omitempty"`
	WebhookParamName        string                 `json:"webhook_param_name,omitempty"`
	WebhookTokens           []SnapshotWebhookToken `json:"webhook_tokens"`
	RemoteAuth              SnapshotRemoteAuth     `json:"remote_auth"`
	DeploymentMode          SnapshotDeployment     `json:"deployment_mode"`
}

type SnapshotWebhookToken struct {
	Token        string     `json:"token"`
	Name         string     `json:"name"`
	AllowedCIDRs []string   `json:"allowed_cidrs"`
	ExpiresAt    *time.Time `json:"expires_at"`
	HeaderName   string     `json:"header_name,omitempty"`
	ParamName    string     `json:"param_name,omitempty"`
	TokenSource  string     `json:"token_source"`
}

type SnapshotRemoteAuth struct {
	Enabled            bool `json:"enabled"`
	SessionTTL         int  `json:"session_ttl"`
	MaxSessionTTL      int  `json:"max_session_ttl"`
	SessionMgmtEnabled bool `json:"session_mgmt_enabled"`
	SessionMgmtTTL     int  `json:"session_mgmt_ttl"`
	PollingInterval    int  `json:"polling_interval"`
	ChallengeTTL       int  `json:"challenge_ttl"`
}

type SnapshotDeployment struct {
	Enabled         bool       `json:"enabled"`
	GoLiveDate      *time.Time `json:"golive_date"`
	DaysUntilGoLive int        `json:"days_until_golive"`
	SessionTTL      int        `json:"session_ttl"`
}

// BuildSnapshot assembles the configuration document from active users,
// active hosts, and currently usable webhook tokens, and records the fetch.
func (s *Service) BuildSnapshot(ctx context.Context) (Snapshot, error) {
	now := time.Now().UTC()
	snap := Snapshot{
		Version:     SnapshotVersion,
		GeneratedAt: now,
		Users:       map[string]SnapshotUser{},
		Hosts:       []SnapshotHost{},
	}

	err := store.WithTx(ctx, s.DB, func(st *store.Store) error {
		polling, err := st.GetParamInt(ctx, store.ParamRemotePollingInterval, store.DefaultRemotePollingInterval)
		if err != nil {
			return err
		}
		challenge, err := st.GetParamInt(ctx, store.ParamRemoteChallengeTTL, store.DefaultRemoteChallengeTTL)
		if err != nil {
			return err
		}

		users, err := st.ListActiveUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			passkeys, err := st.ListPasskeysByUser(ctx, u.ID)
			if err != nil {
				return err
			}
			su := SnapshotUser{
				Email:       u.Email,
				DisplayName: u.DisplayName,
				CreatedAt:   u.CreatedAt,
				Passkeys:    make([]SnapshotPasskey, 0, len(passkeys)),
			}
			for _, pk := range passkeys {
				su.Passkeys = append(su.Passkeys, SnapshotPasskey{
					CredentialID:   pk.CredentialID,
					PublicKey:      pk.PublicKey,
					Name:           pk.Name,
					CreatedAt:      pk.CreatedAt,
					BackupEligible: pk.BackupEligible,
					BackupState:    pk.BackupState,
				})
			}
			snap.Users[u.Username] = su
		}

		hosts, err := st.ListActiveHosts(ctx)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			sh := SnapshotHost{
				Domain:                  h.Domain,
				Backend:                 h.BackendURL,
				AllowedCIDRs:            token.ParseCIDRList(h.AllowedCIDRs),
				PublicURLPatterns:       parseLines(h.PublicURLPatterns),
				TokenURLPatterns:        parseLines(h.TokenURLPatterns),
				SessionDurationOverride: h.SessionDurationSecs,
				WebhookHeaderName:       h.WebhookHeaderName,
				WebhookParamName:        h.WebhookParamName,
				RemoteAuth: SnapshotRemoteAuth{
					Enabled:            h.RemoteAuthEnabled,
					SessionTTL:         h.RemoteAuthSessionTTL,
					MaxSessionTTL:      h.RemoteAuthMaxTTL,
					SessionMgmtEnabled: h.SessionMgmtEnabled,
					SessionMgmtTTL:     h.SessionMgmtTTL,
					PollingInterval:    polling,
					ChallengeTTL:       challenge,
				},
				DeploymentMode: SnapshotDeployment{
					Enabled:         h.DeploymentMode,
					GoLiveDate:      h.GoLiveDate,
					DaysUntilGoLive: hoststate.DaysUntilGoLive(stateInputs(h), now),
					SessionTTL:      h.DeploymentSessionTTL,
				},
			}

			if sh.AuthorizedUsers, err = st.ListAuthorizedUsernames(ctx, h.ID); err != nil {
				return err
			}
			if sh.AuthorizedUsers == nil {
				sh.AuthorizedUsers = []string{}
			}

			// Typed access rules extend the host allowlist without
			// touching the host record itself.
			rules, err := st.ListActiveAccessRules(ctx, h.ID)
			if err != nil {
				return err
			}
			for _, r := range rules {
				if r.RuleType == "cidr" && r.Action == "allow" {
					sh.AllowedCIDRs = append(sh.AllowedCIDRs, token.ParseCIDRList(r.Value)...)
				}
			}
			if sh.AllowedCIDRs == nil {
				sh.AllowedCIDRs = []string{}
			}

			tokens, err := st.ListUsableWebhookTokensByHost(ctx, h.ID, now)
			if err != nil {
				return err
			}
			sh.WebhookTokens = make([]SnapshotWebhookToken, 0, len(tokens))
			for _, wt := range tokens {
				cidrs := token.ParseCIDRList(wt.AllowedCIDRs)
				if cidrs == nil {
					cidrs = []string{}
				}
				sh.WebhookTokens = append(sh.WebhookTokens, SnapshotWebhookToken{
					Token:        wt.Token,
					Name:         wt.Name,
					AllowedCIDRs: cidrs,
					ExpiresAt:    wt.ExpiresAt,
					HeaderName:   wt.HeaderName,
					ParamName:    wt.ParamName,
					TokenSource:  wt.TokenSource,
				})
			}

			snap.Hosts = append(snap.Hosts, sh)
		}

		return appendAudit(ctx, st, audit.Entry{
			EventType: audit.ConfigFetched,
			Severity:  audit.SeverityInfo,
			Details: map[string]any{
				"user_count": len(snap.Users),
				"host_count": len(snap.Hosts),
				"version":    SnapshotVersion,
			},
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// parseLines splits newline-separated pattern text, dropping blanks and
// comment lines.
func parseLines(text string) []string {
	if text == "" {
		return []string{}
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if out == nil {
		return []string{}
	}
	return out
}
