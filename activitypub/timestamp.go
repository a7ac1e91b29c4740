package activitypub

import (
	"fmt"
	"strings"
	"time"
)

// protocolEpoch is the earliest publish instant we accept from a peer.
// Anything older is treated as a broken clock.
var protocolEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// maxFutureSkew is how far into the future a remote publish timestamp
// may lie before we fall back to receipt time.
const maxFutureSkew = 5 * time.Minute

// publishedLayouts covers the formats peers actually emit. RFC3339 is
// the canonical form; the rest show up in the wild.
var publishedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
}

// ParsePublished parses a remote publish timestamp, trying the known
// layouts in order. It returns an explicit error on unparseable input
// rather than substituting the current time.
func ParsePublished(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", value)
}

// ClampPublished reports whether t falls inside the accepted window
// [protocol epoch, now + maxFutureSkew].
func ClampPublished(t, now time.Time) bool {
	if t.Before(protocolEpoch) {
		return false
	}
	if t.After(now.Add(maxFutureSkew)) {
		return false
	}
	return true
}

// NormalizePublished parses a remote publish timestamp and applies the
// skew window, falling back to the receipt instant when the value is
// missing, malformed or out of bounds.
func NormalizePublished(value string, receivedAt time.Time) time.Time {
	t, err := ParsePublished(value)
	if err != nil {
		return receivedAt
	}
	if !ClampPublished(t, receivedAt) {
		return receivedAt
	}
	return t
}
