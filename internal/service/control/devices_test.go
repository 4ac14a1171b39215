package control

import (
	"testing"
	"time"
)

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{
			"chrome on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Chrome 120 on Windows",
		},
		{
			"firefox on linux",
			"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			"Firefox 121 on Linux",
		},
		{
			"safari on macos",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
			"Safari 17 on macOS",
		},
		{
			"edge on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.91",
			"Edge 120 on Windows",
		},
		{
			"opera on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 OPR/105.0.0.0",
			"Opera 105 on Windows",
		},
		{
			"chrome on android",
			"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.43 Mobile Safari/537.36",
			"Chrome 120 on Android",
		},
		{
			"safari on ios",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			"Safari 17 on iOS",
		},
		{"empty", "", "Unknown device"},
		{"gibberish", "curl/8.4.0", "Unknown browser on Unknown OS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseUserAgent(tt.ua); got != tt.want {
				t.Errorf("ParseUserAgent(%q) = %q, want %q", tt.ua, got, tt.want)
			}
		})
	}
}

func TestFormatTimeDelta(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"seconds", 42 * time.Second, "less than a minute"},
		{"one minute", 1 * time.Minute, "1 minute"},
		{"minutes", 5 * time.Minute, "5 minutes"},
		{"one hour even", 1 * time.Hour, "1 hour"},
		{"hours and minutes", 2*time.Hour + 30*time.Minute, "2 hours, 30 minutes"},
		{"hours ignore seconds", 2*time.Hour + 45*time.Second, "2 hours"},
		{"one day and hours", 29 * time.Hour, "1 day, 5 hours"},
		{"days even", 48 * time.Hour, "2 days"},
		{"days ignore minutes", 24*time.Hour + 10*time.Minute, "1 day"},
		{"negative clamps", -5 * time.Minute, "less than a minute"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimeDelta(tt.d); got != tt.want {
				t.Errorf("FormatTimeDelta(%s) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}
