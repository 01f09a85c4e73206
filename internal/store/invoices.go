package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/billing"
)

const invoicesTable = "invoices"

var invoiceColumns = []string{
	"id", "organization_id", "lease_id", "tenant_id", "type", "description",
	"amount", "amount_paid", "owner_amount", "management_fee", "due_date",
	"status", "created_at", "updated_at",
}

func scanInvoice(r entsql.ColumnScanner) (*billing.Invoice, error) {
	var (
		inv                   billing.Invoice
		leaseID               sql.NullString
		typ, status           string
		owner, fee            decimal.NullDecimal
		due, created, updated string
	)
	err := r.Scan(
		&inv.ID, &inv.OrganizationID, &leaseID, &inv.TenantID, &typ, &inv.Description,
		&inv.Amount, &inv.AmountPaid, &owner, &fee, &due,
		&status, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	var d decoder
	inv.LeaseID = optString(leaseID)
	inv.Type = billing.InvoiceType(typ)
	inv.Status = billing.InvoiceStatus(status)
	if owner.Valid {
		inv.OwnerAmount = &owner.Decimal
	}
	if fee.Valid {
		inv.ManagementFee = &fee.Decimal
	}
	inv.DueDate = d.date(due)
	inv.CreatedAt = d.ts(created)
	inv.UpdatedAt = d.ts(updated)
	return &inv, d.err
}

func optDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func (s *Store) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	q, args := builder().Insert(invoicesTable).
		Columns(invoiceColumns...).
		Values(
			inv.ID, inv.OrganizationID, optStr(inv.LeaseID), inv.TenantID, string(inv.Type), inv.Description,
			inv.Amount.String(), inv.AmountPaid.String(), optDecimal(inv.OwnerAmount), optDecimal(inv.ManagementFee),
			dateArg(inv.DueDate), string(inv.Status), tsArg(inv.CreatedAt), tsArg(inv.UpdatedAt),
		).
		Query()
	_, err := s.exec(ctx, "inserting invoice", q, args)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	sel := builder().Select(invoiceColumns...).From(entsql.Table(invoicesTable)).
		Where(entsql.EQ("id", id))
	var out *billing.Invoice
	err := s.query(ctx, "getting invoice", sel, func(r entsql.ColumnScanner) error {
		inv, err := scanInvoice(r)
		out = inv
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, billing.NotFoundError("invoice", id)
	}
	return out, nil
}

// UpdateInvoice writes every mutable column of inv.
func (s *Store) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	q, args := builder().Update(invoicesTable).
		Set("type", string(inv.Type)).
		Set("description", inv.Description).
		Set("amount", inv.Amount.String()).
		Set("amount_paid", inv.AmountPaid.String()).
		Set("owner_amount", optDecimal(inv.OwnerAmount)).
		Set("management_fee", optDecimal(inv.ManagementFee)).
		Set("due_date", dateArg(inv.DueDate)).
		Set("status", string(inv.Status)).
		Set("updated_at", tsArg(inv.UpdatedAt)).
		Where(entsql.EQ("id", inv.ID)).
		Query()
	n, err := s.exec(ctx, "updating invoice", q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.NotFoundError("invoice", inv.ID)
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	q, args := builder().Delete(invoicesTable).Where(entsql.EQ("id", id)).Query()
	n, err := s.exec(ctx, "deleting invoice", q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.NotFoundError("invoice", id)
	}
	return nil
}

func invoicePredicates(f billing.InvoiceFilter) []*entsql.Predicate {
	var ps []*entsql.Predicate
	eq := func(col, v string) {
		if v != "" {
			ps = append(ps, entsql.EQ(col, v))
		}
	}
	eq("organization_id", f.OrganizationID)
	eq("lease_id", f.LeaseID)
	eq("tenant_id", f.TenantID)
	eq("type", string(f.Type))
	eq("status", string(f.Status))
	if f.DueFrom != nil {
		ps = append(ps, entsql.GTE("due_date", dateArg(*f.DueFrom)))
	}
	if f.DueTo != nil {
		ps = append(ps, entsql.LTE("due_date", dateArg(*f.DueTo)))
	}
	return ps
}

// ListInvoices returns invoices matching f, latest due date first, and the
// unpaginated total. A non-positive limit returns every match.
func (s *Store) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]*billing.Invoice, int, error) {
	total, err := s.count(ctx, "counting invoices", invoicesTable, invoicePredicates(f))
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	sel := builder().Select(invoiceColumns...).From(entsql.Table(invoicesTable)).
		OrderBy(entsql.Desc("due_date"), entsql.Desc("created_at"), entsql.Desc("id"))
	for _, p := range invoicePredicates(f) {
		sel.Where(p)
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
		if f.Offset > 0 {
			sel.Offset(f.Offset)
		}
	}
	var out []*billing.Invoice
	err = s.query(ctx, "listing invoices", sel, func(r entsql.ColumnScanner) error {
		inv, err := scanInvoice(r)
		if err != nil {
			return err
		}
		out = append(out, inv)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// InvoiceExistsForDueDate reports whether a non-void invoice of the lease is
// due on the given date.
func (s *Store) InvoiceExistsForDueDate(ctx context.Context, leaseID string, due time.Time) (bool, error) {
	n, err := s.count(ctx, "checking invoice due date", invoicesTable, []*entsql.Predicate{
		entsql.EQ("lease_id", leaseID),
		entsql.EQ("due_date", dateArg(due)),
		entsql.NEQ("status", string(billing.InvoiceVoid)),
	})
	return n > 0, err
}

// UpdateInvoiceStatuses moves the given invoices from one status to another.
// Invoices no longer in the from status are left alone.
func (s *Store) UpdateInvoiceStatuses(ctx context.Context, ids []string, from, to billing.InvoiceStatus, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args := builder().Update(invoicesTable).
		Set("status", string(to)).
		Set("updated_at", tsArg(at)).
		Where(entsql.And(
			entsql.In("id", placeholders(ids)...),
			entsql.EQ("status", string(from)),
		)).
		Query()
	return s.exec(ctx, "updating invoice statuses", q, args)
}
