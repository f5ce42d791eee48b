package cache

import "time"

// Entry is a stored CRM GET response body with the validators needed to
// revalidate it. Only 200 responses are stored.
type Entry struct {
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
	StoredAt     time.Time `json:"stored_at"`
	Expires      time.Time `json:"expires"`
}

// Expired reports whether the entry is stale at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// Remaining is how long the entry stays fresh after now; never negative.
func (e *Entry) Remaining(now time.Time) time.Duration {
	return max(e.Expires.Sub(now), 0)
}

// Age is the time since the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
