package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/types"
)

// CreateInvoice issues a manual invoice. When the invoice belongs to a lease
// and the fee split is not given, it is derived from the unit's fee policy.
func (e *Engine) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, ValidationError("amount must be positive")
	}
	owner, fee, err := completeSplit(in.Amount, in.OwnerAmount, in.ManagementFee)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = InvoicePending
	}
	now := e.timestamp()
	var out *Invoice

	err = e.repo.WithTx(ctx, func(ctx context.Context) error {
		if in.LeaseID != nil {
			l, err := e.repo.GetLease(ctx, *in.LeaseID)
			if err != nil {
				return err
			}
			if l.OrganizationID != in.OrganizationID {
				return ValidationError("lease %s belongs to another organization", l.ID)
			}
			if owner == nil {
				unit, err := e.units.GetUnit(ctx, l.UnitID)
				if err != nil {
					return err
				}
				o, f := SplitFee(in.Amount, unit)
				owner, fee = &o, &f
			}
		}
		inv := &Invoice{
			ID:             uuid.New().String(),
			OrganizationID: in.OrganizationID,
			LeaseID:        in.LeaseID,
			TenantID:       in.TenantID,
			Type:           in.Type,
			Description:    in.Description,
			Amount:         in.Amount,
			AmountPaid:     decimal.Zero,
			OwnerAmount:    owner,
			ManagementFee:  fee,
			DueDate:        types.Date(in.DueDate),
			Status:         status,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.repo.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// completeSplit fills in the missing half of an owner/fee split. Both nil
// stays nil; both set must add up to amount.
func completeSplit(amount decimal.Decimal, owner, fee *decimal.Decimal) (*decimal.Decimal, *decimal.Decimal, error) {
	for _, v := range []*decimal.Decimal{owner, fee} {
		if v != nil && (v.IsNegative() || v.GreaterThan(amount)) {
			return nil, nil, ValidationError("owner_amount and management_fee must be between 0 and amount")
		}
	}
	switch {
	case owner == nil && fee == nil:
		return nil, nil, nil
	case owner == nil:
		o := amount.Sub(*fee)
		return &o, fee, nil
	case fee == nil:
		f := amount.Sub(*owner)
		return owner, &f, nil
	}
	if !owner.Add(*fee).Equal(amount) {
		return nil, nil, ValidationError("owner_amount plus management_fee must equal amount")
	}
	return owner, fee, nil
}

func (e *Engine) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return e.repo.GetInvoice(ctx, id)
}

// ListInvoices returns one page of invoices matching f, latest due first.
func (e *Engine) ListInvoices(ctx context.Context, f InvoiceFilter) (*InvoicePage, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	invs, total, err := e.repo.ListInvoices(ctx, f)
	if err != nil {
		return nil, err
	}
	if invs == nil {
		invs = []*Invoice{}
	}
	return &InvoicePage{Invoices: invs, Total: total}, nil
}

// UpdateInvoice edits an unpaid invoice. Paid and partial are derived from
// payments and cannot be set; once money has been received only voiding is a
// valid status change.
func (e *Engine) UpdateInvoice(ctx context.Context, id string, in UpdateInvoiceInput) (*Invoice, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *Invoice

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		inv, err := e.repo.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status == InvoicePaid {
			return ConflictError("invoice %s is already paid", inv.ID)
		}
		if in.Type != nil {
			inv.Type = *in.Type
		}
		if in.Description != nil {
			inv.Description = *in.Description
		}
		if in.DueDate != nil {
			inv.DueDate = types.Date(*in.DueDate)
		}

		amountChanged := false
		if in.Amount != nil && !in.Amount.Equal(inv.Amount) {
			if !in.Amount.IsPositive() {
				return ValidationError("amount must be positive")
			}
			if in.Amount.LessThan(inv.AmountPaid) {
				return ValidationError("amount %s is below the %s already paid",
					in.Amount.StringFixed(2), inv.AmountPaid.StringFixed(2))
			}
			inv.Amount = *in.Amount
			amountChanged = true
		}

		switch {
		case in.OwnerAmount != nil || in.ManagementFee != nil:
			owner, fee, err := completeSplit(inv.Amount, in.OwnerAmount, in.ManagementFee)
			if err != nil {
				return err
			}
			inv.OwnerAmount, inv.ManagementFee = owner, fee
		case amountChanged && inv.ManagementFee != nil:
			owner, fee, err := e.resplit(ctx, inv)
			if err != nil {
				return err
			}
			inv.OwnerAmount, inv.ManagementFee = owner, fee
		}

		if in.Status != nil && *in.Status != inv.Status {
			if inv.AmountPaid.IsPositive() && *in.Status != InvoiceVoid {
				return ConflictError("invoice %s has payments; its status follows the amount paid", inv.ID)
			}
			inv.Status = *in.Status
		}
		if amountChanged && inv.AmountPaid.IsPositive() && inv.Status != InvoiceVoid {
			inv.Status = InvoiceStatusFor(inv.Amount, inv.AmountPaid, inv.Status)
		}

		inv.UpdatedAt = e.timestamp()
		if err := e.repo.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resplit recomputes the fee split of a re-priced invoice: from the unit
// policy when it belongs to a lease, otherwise keeping the fee.
func (e *Engine) resplit(ctx context.Context, inv *Invoice) (*decimal.Decimal, *decimal.Decimal, error) {
	if inv.LeaseID != nil {
		l, err := e.repo.GetLease(ctx, *inv.LeaseID)
		if err != nil {
			return nil, nil, err
		}
		unit, err := e.units.GetUnit(ctx, l.UnitID)
		if err != nil {
			return nil, nil, err
		}
		o, f := SplitFee(inv.Amount, unit)
		return &o, &f, nil
	}
	f := *inv.ManagementFee
	if f.GreaterThan(inv.Amount) {
		f = inv.Amount
	}
	o := inv.Amount.Sub(f)
	return &o, &f, nil
}

// DeleteInvoice removes an invoice that has not received any payment.
func (e *Engine) DeleteInvoice(ctx context.Context, id string) error {
	return e.repo.WithTx(ctx, func(ctx context.Context) error {
		inv, err := e.repo.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.AmountPaid.IsPositive() {
			return ConflictError("invoice %s has payments and cannot be deleted; void it instead", inv.ID)
		}
		return e.repo.DeleteInvoice(ctx, id)
	})
}

// ListPayments returns the payments recorded against an invoice, oldest first.
func (e *Engine) ListPayments(ctx context.Context, invoiceID string) ([]*Payment, error) {
	if _, err := e.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	payments, err := e.repo.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return payments, nil
}

// GetOverdueInvoices returns pending invoices due today or earlier, enriched
// for notification. An empty organizationID spans every organization.
func (e *Engine) GetOverdueInvoices(ctx context.Context, organizationID string) ([]*InvoiceContext, error) {
	today := e.today()
	invs, _, err := e.repo.ListInvoices(ctx, InvoiceFilter{
		OrganizationID: organizationID,
		Status:         InvoicePending,
		DueTo:          &today,
	})
	if err != nil {
		return nil, err
	}
	return e.enrich(ctx, invs)
}

// GetDelinquentInvoices returns invoices already marked overdue, enriched
// for the overdue reminder cohort.
func (e *Engine) GetDelinquentInvoices(ctx context.Context, organizationID string) ([]*InvoiceContext, error) {
	invs, _, err := e.repo.ListInvoices(ctx, InvoiceFilter{
		OrganizationID: organizationID,
		Status:         InvoiceOverdue,
	})
	if err != nil {
		return nil, err
	}
	return e.enrich(ctx, invs)
}

// UpdateOverdueInvoices moves every pending invoice due today or earlier to
// overdue and emits one notification per transitioned invoice.
func (e *Engine) UpdateOverdueInvoices(ctx context.Context) ([]*Invoice, error) {
	today := e.today()
	var moved []*Invoice

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		invs, _, err := e.repo.ListInvoices(ctx, InvoiceFilter{Status: InvoicePending, DueTo: &today})
		if err != nil {
			return err
		}
		if len(invs) == 0 {
			return nil
		}
		ids := make([]string, len(invs))
		for i, inv := range invs {
			ids[i] = inv.ID
		}
		now := e.timestamp()
		if _, err := e.repo.UpdateInvoiceStatuses(ctx, ids, InvoicePending, InvoiceOverdue, now); err != nil {
			return err
		}
		for _, inv := range invs {
			inv.Status = InvoiceOverdue
			inv.UpdatedAt = now
		}
		moved = invs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(moved) > 0 {
		enriched, err := e.enrich(ctx, moved)
		if err != nil {
			e.log.Warn().Err(err).Msg("overdue notifications skipped: enrichment failed")
			return moved, nil
		}
		for _, c := range enriched {
			e.emit(ctx, event.NewInvoiceOverdue(InvoiceNotificationPayload(c, c.DaysOverdue)))
		}
	}
	return moved, nil
}

// GetUpcomingInvoices returns pending invoices due after today and within
// daysAhead days.
func (e *Engine) GetUpcomingInvoices(ctx context.Context, organizationID string, daysAhead int) ([]*InvoiceContext, error) {
	if daysAhead < 1 {
		return nil, ValidationError("days must be at least 1")
	}
	today := e.today()
	from := today.AddDate(0, 0, 1)
	to := today.AddDate(0, 0, daysAhead)
	invs, _, err := e.repo.ListInvoices(ctx, InvoiceFilter{
		OrganizationID: organizationID,
		Status:         InvoicePending,
		DueFrom:        &from,
		DueTo:          &to,
	})
	if err != nil {
		return nil, err
	}
	return e.enrich(ctx, invs)
}

// GetInvoiceStats groups the invoices matching f by status. Pagination in f
// is ignored.
func (e *Engine) GetInvoiceStats(ctx context.Context, f InvoiceFilter) (*InvoiceStats, error) {
	f.Limit, f.Offset = 0, 0
	invs, _, err := e.repo.ListInvoices(ctx, f)
	if err != nil {
		return nil, err
	}
	stats := &InvoiceStats{ByStatus: make(map[InvoiceStatus]*InvoiceStatusStats, len(InvoiceStatuses))}
	for _, s := range InvoiceStatuses {
		stats.ByStatus[s] = &InvoiceStatusStats{}
	}
	for _, inv := range invs {
		s, ok := stats.ByStatus[inv.Status]
		if !ok {
			s = &InvoiceStatusStats{}
			stats.ByStatus[inv.Status] = s
		}
		for _, acc := range []*InvoiceStatusStats{s, &stats.Totals} {
			acc.Count++
			acc.Amount = acc.Amount.Add(inv.Amount)
			acc.AmountPaid = acc.AmountPaid.Add(inv.AmountPaid)
			if inv.Status != InvoiceVoid {
				acc.Outstanding = acc.Outstanding.Add(inv.Balance())
			}
		}
	}
	return stats, nil
}

// enrich attaches lease, unit and property context plus day counts.
func (e *Engine) enrich(ctx context.Context, invs []*Invoice) ([]*InvoiceContext, error) {
	today := e.today()
	leases := map[string]*Lease{}
	units := map[string]*Unit{}
	out := make([]*InvoiceContext, 0, len(invs))

	for _, inv := range invs {
		c := &InvoiceContext{Invoice: inv}
		if d := DaysBetween(inv.DueDate, today); d > 0 {
			c.DaysOverdue = d
		} else {
			c.DaysUntilDue = -d
		}
		if inv.LeaseID != nil {
			l, ok := leases[*inv.LeaseID]
			if !ok {
				var err error
				if l, err = e.repo.GetLease(ctx, *inv.LeaseID); err != nil {
					return nil, err
				}
				leases[l.ID] = l
			}
			c.UnitID, c.PropertyID = l.UnitID, l.PropertyID
			u, ok := units[l.UnitID]
			if !ok {
				var err error
				if u, err = e.units.GetUnit(ctx, l.UnitID); err != nil && !IsNotFound(err) {
					return nil, err
				}
				units[l.UnitID] = u
			}
			if u != nil {
				c.UnitLabel = u.Label
			}
		}
		out = append(out, c)
	}
	return out, nil
}
