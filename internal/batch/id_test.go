package batch

import (
	"strconv"
	"testing"
	"time"
)

func TestID_SameBucket(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC)

	tests := []struct {
		name  string
		a, b  time.Time
		equal bool
	}{
		{
			name:  "SameInstant",
			a:     base,
			b:     base,
			equal: true,
		},
		{
			name: "WithinFiveMinuteBucket",
			// 10:00:00 and 10:04:59 share the bucket starting at 10:00.
			a:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			b:     time.Date(2024, 3, 1, 10, 4, 59, 0, time.UTC),
			equal: true,
		},
		{
			name:  "AcrossBucketBoundary",
			a:     time.Date(2024, 3, 1, 10, 4, 59, 0, time.UTC),
			b:     time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
			equal: false,
		},
		{
			name:  "DifferentDay",
			a:     base,
			b:     base.Add(24 * time.Hour),
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, want := ID("dispatch", tt.a), ID("dispatch", tt.b)
			if (got == want) != tt.equal {
				t.Errorf("ID(%v)=%q, ID(%v)=%q, want equal=%v", tt.a, got, tt.b, want, tt.equal)
			}
		})
	}
}

func TestID_Format(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC)
	bucket := now.UnixMilli() / (5 * 60 * 1000)

	got := ID("dispatch", now)
	want := "dispatch-2024-03-01-" + strconv.FormatInt(bucket, 10)
	if got != want {
		t.Errorf("ID = %q, want %q", got, want)
	}
}

func TestCronID(t *testing.T) {
	a := time.Date(2024, 3, 1, 10, 2, 1, 0, time.UTC)
	b := time.Date(2024, 3, 1, 10, 2, 59, 0, time.UTC)
	c := time.Date(2024, 3, 1, 10, 3, 0, 0, time.UTC)

	if got := CronID("dispatch", a); got != "dispatch-2024-03-01-1002" {
		t.Errorf("CronID = %q, want dispatch-2024-03-01-1002", got)
	}
	if CronID("dispatch", a) != CronID("dispatch", b) {
		t.Error("timestamps in the same minute should share a cron batch ID")
	}
	if CronID("dispatch", b) == CronID("dispatch", c) {
		t.Error("timestamps in different minutes should not share a cron batch ID")
	}
}

func TestID_PrefixSeparatesSources(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC)
	if ID("dispatch", now) == ID("conversion", now) {
		t.Error("different prefixes must never collide within a bucket")
	}
}
