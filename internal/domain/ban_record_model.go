package domain

import (
	"errors"
	"strings"
	"time"
)

// TimestampLayout is the sortable layout used for IssuedAt and ExpiresAt.
const TimestampLayout = "2006-01-02T15:04:05"

var (
	// ErrDuplicateKey is returned by stores when a range is already banned.
	ErrDuplicateKey = errors.New("ban already exists for range")
	// ErrStoreUnavailable wraps any failure reaching or operating a backing store.
	ErrStoreUnavailable = errors.New("ban store unavailable")
)

var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// BanRecord is a single banned CIDR range. Range is the primary key.
type BanRecord struct {
	// Range holds the CIDR string as entered (e.g. 192.168.1.0/24).
	Range     string `gorm:"column:range;primaryKey;size:32" json:"range"`
	Reason    string `gorm:"column:reason;type:text" json:"reason"`
	IssuedBy  string `gorm:"column:issued_by;type:text" json:"issued_by"`
	IssuedAt  string `gorm:"column:issued_at;type:text" json:"issued_at"`
	ExpiresAt string `gorm:"column:expires_at;type:text" json:"expires_at"`
}

func (BanRecord) TableName() string {
	return "cidr_bans"
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the stored layout plus a few common variants.
// Values without a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Expiration returns the parsed expiry. ok is false for permanent bans,
// including ones whose ExpiresAt cannot be parsed.
func (b *BanRecord) Expiration() (time.Time, bool) {
	return ParseTimestamp(b.ExpiresAt)
}

// IsPermanent reports whether the ban never expires.
func (b *BanRecord) IsPermanent() bool {
	_, ok := b.Expiration()
	return !ok
}

// IsExpired reports whether the ban has a parseable expiry at or before now.
func (b *BanRecord) IsExpired(now time.Time) bool {
	exp, ok := b.Expiration()
	if !ok {
		return false
	}
	return !now.Before(exp)
}

// Remaining returns the time left until expiry, or zero for permanent and
// expired bans.
func (b *BanRecord) Remaining(now time.Time) time.Duration {
	exp, ok := b.Expiration()
	if !ok || !now.Before(exp) {
		return 0
	}
	return exp.Sub(now)
}
