package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentroll/internal/types"
)

// Store is the interface for reading and writing notifications.
// Notifications are not billing entities; they live in their own table and
// are written after the billing transaction commits.
type Store interface {
	// Write persists a notification. Writing the same ID twice is a no-op.
	Write(ctx context.Context, n types.Notification) error

	// Query returns notifications newest first with cursor pagination.
	Query(ctx context.Context, opts QueryOptions) (notes []types.Notification, nextCursor string, totalCount int, err error)

	// Search matches subject and message text.
	Search(ctx context.Context, query string, opts QueryOptions) (notes []types.Notification, totalCount int, err error)
}

const table = "notifications"

var columns = []string{"id", "type", "organization_id", "subject", "message", "refs", "metadata", "occurred_at"}

// SQLStore implements Store on the billing database through ent's SQL
// driver. The notifications table is created by the store migration.
type SQLStore struct {
	drv dialect.Driver
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(drv dialect.Driver) *SQLStore {
	return &SQLStore{drv: drv}
}

func builder() *entsql.DialectBuilder { return entsql.Dialect(dialect.SQLite) }

func (s *SQLStore) Write(ctx context.Context, n types.Notification) error {
	refs, err := json.Marshal(n.Refs)
	if err != nil {
		return fmt.Errorf("encoding refs: %w", err)
	}
	if n.Refs == nil {
		refs = []byte("[]")
	}
	var metadata any
	if len(n.Metadata) > 0 {
		metadata = string(n.Metadata)
	}
	q, args := builder().Insert(table).
		Columns(columns...).
		Values(n.ID, n.Type, n.OrganizationID, n.Subject, n.Message, string(refs), metadata, formatCursor(n.OccurredAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.DoNothing()).
		Query()
	if err := s.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("writing notification: %w", err)
	}
	return nil
}

func (s *SQLStore) Query(ctx context.Context, opts QueryOptions) ([]types.Notification, string, int, error) {
	preds := predicates(opts)
	total, err := s.count(ctx, preds)
	if err != nil {
		return nil, "", 0, err
	}

	limit := opts.limit()
	sel := builder().Select(columns...).From(entsql.Table(table))
	for _, p := range preds {
		sel.Where(p)
	}
	if opts.Cursor != "" {
		if c, ok := parseCursor(opts.Cursor); ok {
			sel.Where(entsql.LT("occurred_at", formatCursor(c)))
		}
	}
	// Fetch one extra for the cursor.
	sel.OrderBy(entsql.Desc("occurred_at"), entsql.Desc("id")).Limit(limit + 1)

	notes, err := s.scan(ctx, sel)
	if err != nil {
		return nil, "", 0, err
	}
	var next string
	if len(notes) > limit {
		notes = notes[:limit]
		next = formatCursor(notes[len(notes)-1].OccurredAt)
	}
	return notes, next, total, nil
}

func (s *SQLStore) Search(ctx context.Context, query string, opts QueryOptions) ([]types.Notification, int, error) {
	preds := append(predicates(opts), entsql.Or(
		entsql.Contains("subject", query),
		entsql.Contains("message", query),
	))
	total, err := s.count(ctx, preds)
	if err != nil {
		return nil, 0, err
	}
	sel := builder().Select(columns...).From(entsql.Table(table))
	for _, p := range preds {
		sel.Where(p)
	}
	sel.OrderBy(entsql.Desc("occurred_at"), entsql.Desc("id")).Limit(opts.limit())
	notes, err := s.scan(ctx, sel)
	if err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

func predicates(opts QueryOptions) []*entsql.Predicate {
	var preds []*entsql.Predicate
	if opts.OrganizationID != "" {
		preds = append(preds, entsql.EQ("organization_id", opts.OrganizationID))
	}
	if len(opts.Types) > 0 {
		vals := make([]any, len(opts.Types))
		for i, t := range opts.Types {
			vals[i] = t
		}
		preds = append(preds, entsql.In("type", vals...))
	}
	if opts.Since != nil {
		preds = append(preds, entsql.GTE("occurred_at", formatCursor(*opts.Since)))
	}
	if opts.Until != nil {
		preds = append(preds, entsql.LTE("occurred_at", formatCursor(*opts.Until)))
	}
	if opts.EntityID != "" {
		preds = append(preds, referencing(opts.EntityType, opts.EntityID))
	}
	return preds
}

// referencing matches rows whose refs JSON array holds the entity.
func referencing(entityType, entityID string) *entsql.Predicate {
	return entsql.P(func(b *entsql.Builder) {
		b.WriteString("EXISTS (SELECT 1 FROM json_each(refs) WHERE json_extract(value, '$.entity_id') = ").
			Arg(entityID)
		if entityType != "" {
			b.WriteString(" AND json_extract(value, '$.entity_type') = ").Arg(entityType)
		}
		b.WriteString(")")
	})
}

func (s *SQLStore) count(ctx context.Context, preds []*entsql.Predicate) (int, error) {
	sel := builder().Select(entsql.Count("*")).From(entsql.Table(table))
	for _, p := range preds {
		sel.Where(p)
	}
	q, args := sel.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("counting notifications: %w", err)
		}
	}
	return n, rows.Err()
}

func (s *SQLStore) scan(ctx context.Context, sel *entsql.Selector) ([]types.Notification, error) {
	q, args := sel.Query()
	var rows entsql.Rows
	if err := s.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notes []types.Notification
	for rows.Next() {
		var (
			n        types.Notification
			refs     string
			metadata sql.NullString
			at       string
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.OrganizationID, &n.Subject, &n.Message, &refs, &metadata, &at); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if refs != "" {
			_ = json.Unmarshal([]byte(refs), &n.Refs)
		}
		if metadata.Valid {
			n.Metadata = json.RawMessage(metadata.String)
		}
		t, ok := parseCursor(at)
		if !ok {
			return nil, fmt.Errorf("parsing occurred_at %q", at)
		}
		n.OccurredAt = t.UTC()
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
