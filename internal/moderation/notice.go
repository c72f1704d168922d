package moderation

import (
	"fmt"
	"time"

	"cidrbans/internal/domain"
)

// DisconnectMessage is what a banned client is told. Bans without a usable
// expiry read as permanent. Remaining time is shown in its two largest units,
// where a month is 30 days.
func DisconnectMessage(ban domain.BanRecord, now time.Time) string {
	exp, ok := ban.Expiration()
	if !ok {
		return "You are banned forever: " + ban.Reason
	}
	return fmt.Sprintf("You are banned for %s: %s", FormatRemaining(exp.Sub(now)), ban.Reason)
}

// FormatRemaining renders d as "2 days and 3 hours" style text.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	totalDays := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60

	switch {
	case totalDays >= 30:
		return pair(totalDays/30, "month", totalDays%30, "day")
	case totalDays > 0:
		return pair(totalDays, "day", hours, "hour")
	case hours > 0:
		return pair(hours, "hour", minutes, "minute")
	case minutes > 0:
		return pair(minutes, "minute", seconds, "second")
	default:
		return plural(seconds, "second")
	}
}

func pair(major int, majorUnit string, minor int, minorUnit string) string {
	return plural(major, majorUnit) + " and " + plural(minor, minorUnit)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
