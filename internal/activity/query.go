// Package activity persists the notifications emitted by the billing engine
// and the sweep, and serves them back as an organization's notification feed.
package activity

import "time"

// QueryOptions controls filtering and pagination for notification queries.
type QueryOptions struct {
	OrganizationID string
	Types          []string   // filter to specific notification types
	EntityType     string     // with EntityID, keep notifications referencing the entity
	EntityID       string
	Since          *time.Time
	Until          *time.Time
	Limit          int    // max results (default: 50, max: 500)
	Cursor         string // cursor for pagination
}

// DefaultQueryOptions returns QueryOptions covering the last 30 days.
func DefaultQueryOptions() QueryOptions {
	since := time.Now().AddDate(0, 0, -30)
	return QueryOptions{
		Since: &since,
		Limit: 50,
	}
}

func (o QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 50
	}
	return o.Limit
}

// cursorLayout is fixed width so cursors compare correctly as text.
const cursorLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatCursor(t time.Time) string { return t.UTC().Format(cursorLayout) }

func parseCursor(s string) (time.Time, bool) {
	t, err := time.Parse(cursorLayout, s)
	return t, err == nil
}
