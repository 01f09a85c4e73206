package store

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/billing"
)

const unitsTable = "units"

var unitColumns = []string{
	"id", "organization_id", "property_id", "label", "status",
	"management_fee_percentage", "management_fee_fixed",
}

func scanUnit(r entsql.ColumnScanner) (*billing.Unit, error) {
	var (
		u        billing.Unit
		status   string
		pct, fix decimal.NullDecimal
	)
	if err := r.Scan(&u.ID, &u.OrganizationID, &u.PropertyID, &u.Label, &status, &pct, &fix); err != nil {
		return nil, err
	}
	u.Status = billing.UnitStatus(status)
	if pct.Valid {
		u.ManagementFeePercentage = &pct.Decimal
	}
	if fix.Valid {
		u.ManagementFeeFixed = &fix.Decimal
	}
	return &u, nil
}

// CreateUnit registers a unit in the directory. A blank status means vacant.
func (s *Store) CreateUnit(ctx context.Context, u *billing.Unit) error {
	if u.Status == "" {
		u.Status = billing.UnitVacant
	}
	now := tsArg(time.Now())
	q, args := builder().Insert(unitsTable).
		Columns(append(unitColumns, "created_at", "updated_at")...).
		Values(
			u.ID, u.OrganizationID, u.PropertyID, u.Label, string(u.Status),
			optDecimal(u.ManagementFeePercentage), optDecimal(u.ManagementFeeFixed),
			now, now,
		).
		Query()
	_, err := s.exec(ctx, "inserting unit", q, args)
	return err
}

func (s *Store) GetUnit(ctx context.Context, id string) (*billing.Unit, error) {
	sel := builder().Select(unitColumns...).From(entsql.Table(unitsTable)).
		Where(entsql.EQ("id", id))
	var out *billing.Unit
	err := s.query(ctx, "getting unit", sel, func(r entsql.ColumnScanner) error {
		u, err := scanUnit(r)
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, billing.NotFoundError("unit", id)
	}
	return out, nil
}

// ListUnits returns the units of an organization ordered by label.
func (s *Store) ListUnits(ctx context.Context, organizationID string) ([]*billing.Unit, error) {
	sel := builder().Select(unitColumns...).From(entsql.Table(unitsTable)).
		OrderBy("label", "id")
	if organizationID != "" {
		sel.Where(entsql.EQ("organization_id", organizationID))
	}
	var out []*billing.Unit
	err := s.query(ctx, "listing units", sel, func(r entsql.ColumnScanner) error {
		u, err := scanUnit(r)
		if err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

func (s *Store) SetUnitStatus(ctx context.Context, id string, status billing.UnitStatus) error {
	q, args := builder().Update(unitsTable).
		Set("status", string(status)).
		Set("updated_at", tsArg(time.Now())).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := s.exec(ctx, "updating unit status", q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.NotFoundError("unit", id)
	}
	return nil
}

var (
	_ billing.Repository    = (*Store)(nil)
	_ billing.UnitDirectory = (*Store)(nil)
)
