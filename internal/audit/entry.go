package audit

// Entry is one audit record before persistence. Optional attribution fields
// are left empty when unknown; the store maps them to NULL columns.
type Entry struct {
	EventType   EventType
	Severity    Severity
	UserID      string
	Username    string
	AdminUserID string
	APIKeyID    string
	Worker      string
	IPAddress   string
	UserAgent   string
	RequestID   string
	EventSource string
	Details     map[string]any
}

// Normalize fills defaults: info severity and "api" event source.
func (e Entry) Normalize() Entry {
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.EventSource == "" {
		e.EventSource = "api"
	}
	return e
}
