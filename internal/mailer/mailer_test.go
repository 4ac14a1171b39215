package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDisabledSender(t *testing.T) {
	err := Disabled{}.Send(context.Background(), Message{To: "a@ex.com"})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Send = %v, want ErrDisabled", err)
	}
}

func TestRenderSetupToken(t *testing.T) {
	html, err := RenderSetupToken(DefaultSetupTokenTemplate, SetupTokenEmail{
		Username:   "alice",
		HostDomain: "app.ex.com",
		DeviceName: "Work Laptop",
		Token:      "ABCDE-FGHJK-MNPQR-STUVW-XYZ23-45678-9ABCD-EFGHJ-KMNPQ",
		ExpiresAt:  time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		MaxUses:    1,
	})
	if err != nil {
		t.Fatalf("RenderSetupToken returned error: %v", err)
	}

	for _, want := range []string{
		"alice",
		"app.ex.com",
		"Work Laptop",
		"ABCDE-FGHJK-MNPQR-STUVW-XYZ23-45678-9ABCD-EFGHJ-KMNPQ",
		"1 time.",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered email missing %q", want)
		}
	}
	if strings.Contains(html, "times.") {
		t.Error("single-use token should not pluralize")
	}
}

func TestRenderSetupTokenPlural(t *testing.T) {
	html, err := RenderSetupToken(DefaultSetupTokenTemplate, SetupTokenEmail{
		Username:   "bob",
		HostDomain: "h.ex.com",
		DeviceName: "Phone",
		Token:      "T",
		ExpiresAt:  time.Now(),
		MaxUses:    3,
	})
	if err != nil {
		t.Fatalf("RenderSetupToken returned error: %v", err)
	}
	if !strings.Contains(html, "3 times") {
		t.Error("multi-use token should pluralize")
	}
}

func TestRenderSetupTokenUnknownTemplate(t *testing.T) {
	_, err := RenderSetupToken("missing.html", SetupTokenEmail{})
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
	if !strings.Contains(err.Error(), "missing.html") {
		t.Errorf("error should name the template: %v", err)
	}
}
