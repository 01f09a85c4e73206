package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/matthewbaird/rentroll/internal/billing"
)

const leasesTable = "leases"

var leaseColumns = []string{
	"id", "organization_id", "unit_id", "property_id", "tenant_id",
	"start_date", "end_date", "termination_date", "rent_amount", "billing_cycle",
	"caution_deposit", "agency_fee", "legal_fee", "status", "notes",
	"created_by", "created_at", "updated_at",
}

func scanLease(r entsql.ColumnScanner) (*billing.Lease, error) {
	var (
		l                            billing.Lease
		start, end, created, updated string
		cycle, status                string
		term                         sql.NullString
	)
	err := r.Scan(
		&l.ID, &l.OrganizationID, &l.UnitID, &l.PropertyID, &l.TenantID,
		&start, &end, &term, &l.RentAmount, &cycle,
		&l.CautionDeposit, &l.AgencyFee, &l.LegalFee, &status, &l.Notes,
		&l.CreatedBy, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	var d decoder
	l.StartDate = d.date(start)
	l.EndDate = d.date(end)
	l.TerminationDate = d.optDate(term)
	l.CreatedAt = d.ts(created)
	l.UpdatedAt = d.ts(updated)
	l.BillingCycle = billing.BillingCycle(cycle)
	l.Status = billing.LeaseStatus(status)
	return &l, d.err
}

func (s *Store) InsertLease(ctx context.Context, l *billing.Lease) error {
	q, args := builder().Insert(leasesTable).
		Columns(leaseColumns...).
		Values(
			l.ID, l.OrganizationID, l.UnitID, l.PropertyID, l.TenantID,
			dateArg(l.StartDate), dateArg(l.EndDate), optDateArg(l.TerminationDate),
			l.RentAmount.String(), string(l.BillingCycle),
			l.CautionDeposit.String(), l.AgencyFee.String(), l.LegalFee.String(),
			string(l.Status), l.Notes, l.CreatedBy, tsArg(l.CreatedAt), tsArg(l.UpdatedAt),
		).
		Query()
	_, err := s.exec(ctx, "inserting lease", q, args)
	return err
}

func (s *Store) GetLease(ctx context.Context, id string) (*billing.Lease, error) {
	sel := builder().Select(leaseColumns...).From(entsql.Table(leasesTable)).
		Where(entsql.EQ("id", id))
	var out *billing.Lease
	err := s.query(ctx, "getting lease", sel, func(r entsql.ColumnScanner) error {
		l, err := scanLease(r)
		out = l
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, billing.NotFoundError("lease", id)
	}
	return out, nil
}

// UpdateLease writes every mutable column of l.
func (s *Store) UpdateLease(ctx context.Context, l *billing.Lease) error {
	q, args := builder().Update(leasesTable).
		Set("start_date", dateArg(l.StartDate)).
		Set("end_date", dateArg(l.EndDate)).
		Set("termination_date", optDateArg(l.TerminationDate)).
		Set("rent_amount", l.RentAmount.String()).
		Set("billing_cycle", string(l.BillingCycle)).
		Set("caution_deposit", l.CautionDeposit.String()).
		Set("agency_fee", l.AgencyFee.String()).
		Set("legal_fee", l.LegalFee.String()).
		Set("status", string(l.Status)).
		Set("notes", l.Notes).
		Set("updated_at", tsArg(l.UpdatedAt)).
		Where(entsql.EQ("id", l.ID)).
		Query()
	n, err := s.exec(ctx, "updating lease", q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.NotFoundError("lease", l.ID)
	}
	return nil
}

func leasePredicates(f billing.LeaseQuery) []*entsql.Predicate {
	var ps []*entsql.Predicate
	eq := func(col, v string) {
		if v != "" {
			ps = append(ps, entsql.EQ(col, v))
		}
	}
	eq("organization_id", f.OrganizationID)
	eq("status", string(f.Status))
	eq("tenant_id", f.TenantID)
	eq("unit_id", f.UnitID)
	eq("property_id", f.PropertyID)
	if f.Overlapping != nil {
		ps = append(ps,
			entsql.LTE("start_date", dateArg(f.Overlapping.End)),
			entsql.GTE("end_date", dateArg(f.Overlapping.Start)),
		)
	}
	if f.EndFrom != nil {
		ps = append(ps, entsql.GTE("end_date", dateArg(*f.EndFrom)))
	}
	if f.EndTo != nil {
		ps = append(ps, entsql.LTE("end_date", dateArg(*f.EndTo)))
	}
	if f.ExcludeID != "" {
		ps = append(ps, entsql.NEQ("id", f.ExcludeID))
	}
	return ps
}

// ListLeases returns leases matching f, newest first, and the unpaginated
// total. A non-positive limit returns every match.
func (s *Store) ListLeases(ctx context.Context, f billing.LeaseQuery) ([]*billing.Lease, int, error) {
	total, err := s.count(ctx, "counting leases", leasesTable, leasePredicates(f))
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	sel := builder().Select(leaseColumns...).From(entsql.Table(leasesTable)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id"))
	for _, p := range leasePredicates(f) {
		sel.Where(p)
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
		if f.Offset > 0 {
			sel.Offset(f.Offset)
		}
	}
	var out []*billing.Lease
	err = s.query(ctx, "listing leases", sel, func(r entsql.ColumnScanner) error {
		l, err := scanLease(r)
		if err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CountLeasesByStatus counts leases per status. An empty organizationID
// counts every organization.
func (s *Store) CountLeasesByStatus(ctx context.Context, organizationID string) (map[billing.LeaseStatus]int, error) {
	sel := builder().Select("status", entsql.Count("*")).From(entsql.Table(leasesTable)).
		GroupBy("status")
	if organizationID != "" {
		sel.Where(entsql.EQ("organization_id", organizationID))
	}
	out := map[billing.LeaseStatus]int{}
	err := s.query(ctx, "counting leases by status", sel, func(r entsql.ColumnScanner) error {
		var (
			status string
			n      int
		)
		if err := r.Scan(&status, &n); err != nil {
			return err
		}
		out[billing.LeaseStatus(status)] = n
		return nil
	})
	return out, err
}

// UpdateLeaseStatuses moves the given leases from one status to another.
// Leases no longer in the from status are left alone.
func (s *Store) UpdateLeaseStatuses(ctx context.Context, ids []string, from, to billing.LeaseStatus, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args := builder().Update(leasesTable).
		Set("status", string(to)).
		Set("updated_at", tsArg(at)).
		Where(entsql.And(
			entsql.In("id", placeholders(ids)...),
			entsql.EQ("status", string(from)),
		)).
		Query()
	return s.exec(ctx, "updating lease statuses", q, args)
}
