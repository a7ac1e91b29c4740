package activitypub

import (
	"testing"
	"time"
)

func TestParsePublishedFormats(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{
			name:  "RFC3339",
			value: "2025-06-15T10:30:00Z",
			want:  time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "RFC3339 with offset",
			value: "2025-06-15T12:30:00+02:00",
			want:  time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "RFC3339 nanoseconds",
			value: "2025-06-15T10:30:00.123456789Z",
			want:  time.Date(2025, time.June, 15, 10, 30, 0, 123456789, time.UTC),
		},
		{
			name:  "no timezone",
			value: "2025-06-15T10:30:00",
			want:  time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "space separated",
			value: "2025-06-15 10:30:00",
			want:  time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "surrounding whitespace",
			value: "  2025-06-15T10:30:00Z  ",
			want:  time.Date(2025, time.June, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePublished(tt.value)
			if err != nil {
				t.Fatalf("ParsePublished(%q) failed: %v", tt.value, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParsePublished(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParsePublishedErrors(t *testing.T) {
	for _, value := range []string{"", "   ", "not a date", "15/06/2025"} {
		if _, err := ParsePublished(value); err == nil {
			t.Errorf("ParsePublished(%q) should fail", value)
		}
	}
}

func TestClampPublished(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"recent past", now.Add(-time.Hour), true},
		{"exactly now", now, true},
		{"within skew", now.Add(4 * time.Minute), true},
		{"beyond skew", now.Add(6 * time.Minute), false},
		{"before epoch", time.Date(1999, time.December, 31, 23, 59, 59, 0, time.UTC), false},
		{"at epoch", protocolEpoch, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampPublished(tt.t, now); got != tt.want {
				t.Errorf("ClampPublished(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestNormalizePublished(t *testing.T) {
	receivedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	// Valid in-window timestamp is kept.
	got := NormalizePublished("2026-02-28T09:00:00Z", receivedAt)
	want := time.Date(2026, time.February, 28, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected parsed timestamp %v, got %v", want, got)
	}

	// Missing, malformed and out-of-window values all fall back.
	for _, value := range []string{"", "garbage", "2099-01-01T00:00:00Z", "1970-01-01T00:00:00Z"} {
		if got := NormalizePublished(value, receivedAt); !got.Equal(receivedAt) {
			t.Errorf("NormalizePublished(%q) = %v, want receipt time %v", value, got, receivedAt)
		}
	}
}
