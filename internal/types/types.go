// Package types provides value types shared by the billing engine, the
// notification pipeline and the HTTP layer.
package types

import (
	"encoding/json"
	"time"
)

// DateLayout is the storage and wire layout of calendar dates.
const DateLayout = "2006-01-02"

// DateRange represents an inclusive calendar period.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the two inclusive ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

// Contains reports whether t falls within the range (inclusive).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a UTC date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// SourceRef points at an entity touched by a notification.
type SourceRef struct {
	EntityType string `json:"entity_type"` // "lease", "invoice", "payment", "unit"
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "context", "related"
}

// Notification is an in-app notification emitted by the billing engine and
// the sweep. It is the unit carried by the event bus and persisted by the
// activity store.
type Notification struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	OrganizationID string          `json:"organization_id"`
	Subject        string          `json:"subject"`
	Message        string          `json:"message"`
	Refs           []SourceRef     `json:"refs,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Ref returns the ID of the first ref of the given entity type, or "".
func (n Notification) Ref(entityType string) string {
	for _, r := range n.Refs {
		if r.EntityType == entityType {
			return r.EntityID
		}
	}
	return ""
}
