package control

import (
	"fmt"
	"strings"
	"time"
)

// ParseUserAgent reduces a raw User-Agent header to a short device label
// such as "Chrome 120 on Windows". Only the browser family, its major
// version, and the operating system are kept.
func ParseUserAgent(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return "Unknown device"
	}

	browser := "Unknown browser"
	switch {
	case strings.Contains(ua, "Edg/"):
		browser = "Edge " + majorVersion(ua, "Edg/")
	case strings.Contains(ua, "OPR/"):
		browser = "Opera " + majorVersion(ua, "OPR/")
	case strings.Contains(ua, "Chrome/"):
		browser = "Chrome " + majorVersion(ua, "Chrome/")
	case strings.Contains(ua, "Firefox/"):
		browser = "Firefox " + majorVersion(ua, "Firefox/")
	case strings.Contains(ua, "Safari/") && strings.Contains(ua, "Version/"):
		browser = "Safari " + majorVersion(ua, "Version/")
	}

	os := "Unknown OS"
	switch {
	case strings.Contains(ua, "Windows"):
		os = "Windows"
	case strings.Contains(ua, "Android"):
		os = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		os = "iOS"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		os = "macOS"
	case strings.Contains(ua, "Linux"):
		os = "Linux"
	}

	return browser + " on " + os
}

func majorVersion(ua, marker string) string {
	rest := ua[strings.Index(ua, marker)+len(marker):]
	end := strings.IndexAny(rest, ". )/;")
	if end == -1 {
		end = len(rest)
	}
	return rest[:end]
}

// FormatTimeDelta renders an elapsed duration the way migration status
// reports it: the two most significant units, e.g. "5 minutes",
// "2 hours, 30 minutes", "1 day, 5 hours".
func FormatTimeDelta(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		if hours > 0 {
			return fmt.Sprintf("%s, %s", plural(days, "day"), plural(hours, "hour"))
		}
		return plural(days, "day")
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%s, %s", plural(hours, "hour"), plural(minutes, "minute"))
		}
		return plural(hours, "hour")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
