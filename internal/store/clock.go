package store

import "time"

// utcNowISO renders the current instant the way every row timestamp in this
// store is stored: second precision, trailing Z, no offset.
func utcNowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

func isoAfterDelay(d time.Duration) string {
	return time.Now().UTC().Add(d).Truncate(time.Second).Format(time.RFC3339)
}
