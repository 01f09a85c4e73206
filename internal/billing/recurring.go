package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/types"
)

// Skip reasons reported by GenerateRecurringInvoice.
const (
	SkipTenantCurrent    = "tenant is current"
	SkipLeaseEnding      = "next cycle starts after the lease ends"
	SkipAlreadyGenerated = "invoice already generated for the next cycle"
)

// GenerateRecurringInvoice bills the next rent cycle of an active lease when
// the tenant's rent payments lag the cycles elapsed since the start date.
//
// The next due date is one cycle after the latest non-void rent invoice (or
// the start date when there is none), whatever its payment status, so a
// tenant in arrears keeps receiving one invoice per elapsed cycle. A lease
// whose non-void rent invoices, seed included, already number at least the
// elapsed cycles is skipped as already generated. Steps after loading the
// lease run in one transaction; a duplicate slipping past the existence check
// is rejected by the store and reported as skipped.
func (e *Engine) GenerateRecurringInvoice(ctx context.Context, leaseID string) (*GenerationResult, error) {
	today := e.today()
	res := &GenerationResult{LeaseID: leaseID}

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		l, err := e.repo.GetLease(ctx, leaseID)
		if err != nil {
			return err
		}
		if l.Status != LeaseActive {
			return ConflictError("lease %s is %s; recurring invoices need an active lease", l.ID, l.Status)
		}
		if !l.BillingCycle.Valid() {
			return ValidationError("lease %s has unknown billing cycle %q", l.ID, l.BillingCycle)
		}

		res.CyclesPassed = CyclesPassed(l.StartDate, l.BillingCycle, today)
		res.ExpectedPaid = l.RentAmount.Mul(decimal.NewFromInt(int64(max(1, res.CyclesPassed))))

		rent, _, err := e.repo.ListInvoices(ctx, InvoiceFilter{LeaseID: l.ID, Type: InvoiceRent})
		if err != nil {
			return err
		}
		res.TotalPaid = decimal.Zero
		var (
			base   *Invoice
			billed int
		)
		for _, inv := range rent {
			res.TotalPaid = res.TotalPaid.Add(inv.AmountPaid)
			if inv.Status == InvoiceVoid {
				continue
			}
			billed++
			if base == nil || inv.DueDate.After(base.DueDate) {
				base = inv
			}
		}
		if res.TotalPaid.GreaterThanOrEqual(res.ExpectedPaid) {
			res.Outcome, res.Reason = OutcomeSkipped, SkipTenantCurrent
			return nil
		}
		if billed >= max(1, res.CyclesPassed) {
			res.Outcome, res.Reason = OutcomeSkipped, SkipAlreadyGenerated
			return nil
		}

		from := l.StartDate
		if base != nil {
			from = base.DueDate
		}
		next := NextDueDate(from, l.BillingCycle)
		res.NextDueDate = &next
		if next.After(l.EndDate) {
			res.Outcome, res.Reason = OutcomeSkipped, SkipLeaseEnding
			return nil
		}

		exists, err := e.repo.InvoiceExistsForDueDate(ctx, l.ID, next)
		if err != nil {
			return err
		}
		if exists {
			res.Outcome, res.Reason = OutcomeSkipped, SkipAlreadyGenerated
			return nil
		}

		unit, err := e.units.GetUnit(ctx, l.UnitID)
		if err != nil {
			return err
		}
		owner, fee := SplitFee(l.RentAmount, unit)
		now := e.timestamp()
		inv := &Invoice{
			ID:             uuid.New().String(),
			OrganizationID: l.OrganizationID,
			LeaseID:        &l.ID,
			TenantID:       l.TenantID,
			Type:           InvoiceRent,
			Description:    "Rent for the period starting " + types.FormatDate(next),
			Amount:         l.RentAmount,
			AmountPaid:     decimal.Zero,
			OwnerAmount:    &owner,
			ManagementFee:  &fee,
			DueDate:        next,
			Status:         InvoicePending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.repo.InsertInvoice(ctx, inv); err != nil {
			if IsConflict(err) {
				res.Outcome, res.Reason = OutcomeSkipped, SkipAlreadyGenerated
				return nil
			}
			return err
		}
		res.Outcome, res.Invoice = OutcomeCreated, inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Invoice != nil {
		e.emit(ctx, event.NewInvoiceGenerated(invoicePayload(res.Invoice)))
	}
	return res, nil
}
