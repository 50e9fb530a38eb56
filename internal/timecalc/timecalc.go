package timecalc

import (
	"fmt"
	"time"
)

// ClockTime formats t as the "HH:MM" wall clock the backend records.
func ClockTime(t time.Time) string {
	return t.Format("15:04")
}

// Backoff returns the wait before retry number retryCount (1-based):
// base * 2^(retryCount-1), capped at maxDelay. Values below 1 are treated as 1.
func Backoff(base, maxDelay time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 1 {
		retryCount = 1
	}
	d := base
	for i := 1; i < retryCount; i++ {
		if d >= maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// FormatDuration formats seconds as a human-readable string like "1h 40m" or "45m" or "30s".
func FormatDuration(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%ds", s)
}

// Until returns a short relative label for when t is due, or "now" if it already is.
func Until(t, now time.Time) string {
	if !t.After(now) {
		return "now"
	}
	return "in " + FormatDuration(int64(t.Sub(now).Seconds()))
}
