package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// DefaultSetupTokenTemplate is used when the operator has not selected a
// template through the sunray.setup_token_mail_template parameter.
const DefaultSetupTokenTemplate = "setup_token.html"

// SetupTokenEmail is the data rendered into a setup-token template.
type SetupTokenEmail struct {
	Username   string
	HostDomain string
	DeviceName string
	Token      string
	ExpiresAt  time.Time
	MaxUses    int
}

// RenderSetupToken renders the named template. A missing template is an
// error the caller audits as token.email.no_template.
func RenderSetupToken(name string, data SetupTokenEmail) (string, error) {
	t := templates.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("mail template %q not found", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render mail template %q: %w", name, err)
	}
	return buf.String(), nil
}
