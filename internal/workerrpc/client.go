// Package workerrpc is the outbound HTTP client for edge workers. The only
// call today is cache invalidation; it always runs after the local store
// commit, so a worker failure can never undo control-plane state.
package workerrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Scope selects how much edge cache one invalidation evicts.
type Scope string

const (
	ScopeUserSession           Scope = "user-session"
	ScopeUserProtectedHost     Scope = "user-protectedhost"
	ScopeUserWorker            Scope = "user-worker"
	ScopeAllUsersProtectedHost Scope = "allusers-protectedhost"
	ScopeAllUsersWorker        Scope = "allusers-worker"
	ScopeHost                  Scope = "host"
	ScopeConfig                Scope = "config"
)

// requiredTargetFields lists the exact target keys each scope must carry.
var requiredTargetFields = map[Scope][]string{
	ScopeUserSession:           {"hostname", "username", "sessionId"},
	ScopeUserProtectedHost:     {"username", "hostname"},
	ScopeUserWorker:            {"username"},
	ScopeAllUsersProtectedHost: {"hostname"},
	ScopeAllUsersWorker:        {},
	ScopeHost:                  {"hostname"},
	ScopeConfig:                {},
}

// ClearRequest is the wire body for POST /sunray-wrkr/v1/cache/clear.
type ClearRequest struct {
	Scope  Scope             `json:"scope"`
	Target map[string]string `json:"target"`
	Reason string            `json:"reason"`
}

// Validate checks the scope is known and the target carries exactly the
// required fields, nothing missing and nothing extra.
func (r ClearRequest) Validate() error {
	required, ok := requiredTargetFields[r.Scope]
	if !ok {
		return fmt.Errorf("unknown cache-clear scope %q", r.Scope)
	}
	for _, f := range required {
		if r.Target[f] == "" {
			return fmt.Errorf("scope %s requires target field %q", r.Scope, f)
		}
	}
	if len(r.Target) != len(required) {
		return fmt.Errorf("scope %s takes exactly %d target fields, got %d",
			r.Scope, len(required), len(r.Target))
	}
	return nil
}

// Nuclear reports whether the scope evicts every session on a worker.
func (r ClearRequest) Nuclear() bool {
	return r.Scope == ScopeAllUsersWorker
}

const clearPath = "/sunray-wrkr/v1/cache/clear"

// Client posts cache invalidations to workers through the hosts they front.
type Client struct {
	HTTPClient *http.Client

	// BaseURL, when set, replaces the per-domain https prefix; tests and
	// local stacks point it at a stub worker.
	BaseURL string
}

// New returns a client with the contractual 10 s call timeout. Callers with
// a tighter budget (force refresh) pass a context deadline.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ClearCache sends one invalidation to the worker fronting domain,
// authenticated with the worker's API key.
func (c *Client) ClearCache(ctx context.Context, domain, apiKey string, clear ClearRequest) error {
	if err := clear.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(clear)
	if err != nil {
		return fmt.Errorf("marshal cache clear: %w", err)
	}

	url := c.BaseURL
	if url == "" {
		url = "https://" + domain
	}
	url += clearPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build cache clear request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("worker %s unreachable: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker %s returned status %d: %s", domain, resp.StatusCode, snippet)
	}

	log.Ctx(ctx).Debug().
		Str("domain", domain).
		Str("scope", string(clear.Scope)).
		Msg("worker cache cleared")
	return nil
}
