package store

import (
	"testing"
	"time"
)

func TestAPIKeyHasScope(t *testing.T) {
	tests := []struct {
		name     string
		scopes   string
		required string
		want     bool
	}{
		{"all grants everything", "all", "sessions:create", true},
		{"exact match", "sessions:create,config:read", "sessions:create", true},
		{"exact mismatch", "sessions:create", "sessions:revoke", false},
		{"resource wildcard star", "sessions:*", "sessions:revoke", true},
		{"resource wildcard all", "sessions:all", "sessions:create", true},
		{"wildcard wrong resource", "sessions:*", "config:read", false},
		{"whitespace tolerated", " sessions:create , config:read ", "config:read", true},
		{"empty scopes", "", "sessions:create", false},
		{"all among others", "config:read,all", "workers:register", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := APIKey{Scopes: tt.scopes}
			if got := k.HasScope(tt.required); got != tt.want {
				t.Errorf("HasScope(%q) with scopes %q = %v, want %v",
					tt.required, tt.scopes, got, tt.want)
			}
		})
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (APIKey{}).Expired(now) {
		t.Error("key without expiry should never expire")
	}
	if !(APIKey{ExpiresAt: &past}).Expired(now) {
		t.Error("key expired an hour ago should be expired")
	}
	if (APIKey{ExpiresAt: &future}).Expired(now) {
		t.Error("key expiring in an hour should not be expired")
	}
}

func TestWebhookTokenUsable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name  string
		token WebhookToken
		want  bool
	}{
		{"active no expiry", WebhookToken{IsActive: true}, true},
		{"inactive", WebhookToken{IsActive: false}, false},
		{"active future expiry", WebhookToken{IsActive: true, ExpiresAt: &future}, true},
		{"active past expiry", WebhookToken{IsActive: true, ExpiresAt: &past}, false},
		{"inactive future expiry", WebhookToken{IsActive: false, ExpiresAt: &future}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Usable(now); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}
