// Package batch builds the deterministic, time-bucketed identifiers that
// group concurrently-submitted work. Two producer instances that submit in
// the same bucket compute the same ID without any coordination, which is
// what lets the CI side deduplicate by batch_id.
package batch

import (
	"fmt"
	"time"
)

const bucketWidth = 5 * time.Minute

// ID returns the identifier for non-cron sources: a 5-minute bucket index
// over unix milliseconds, formatted prefix-YYYY-MM-DD-<bucket>.
func ID(prefix string, now time.Time) string {
	bucket := now.UnixMilli() / bucketWidth.Milliseconds()
	return fmt.Sprintf("%s-%s-%d", prefix, now.UTC().Format("2006-01-02"), bucket)
}

// CronID returns the identifier for cron-sourced batches, bucketed to the
// minute: prefix-YYYY-MM-DD-HHMM.
func CronID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, now.UTC().Format("2006-01-02-1504"))
}
