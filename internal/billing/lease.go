package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/types"
)

// CreateLease creates a draft lease and its seed invoice in one transaction.
// The seed invoice bills rent plus the caution deposit, agency fee and legal
// fee, and is due on the start date.
func (e *Engine) CreateLease(ctx context.Context, in CreateLeaseInput) (*LeaseWithInvoice, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if !in.RentAmount.IsPositive() {
		return nil, ValidationError("rent_amount must be positive")
	}
	fees := []struct {
		name string
		v    decimal.Decimal
	}{
		{"caution_deposit", in.CautionDeposit},
		{"agency_fee", in.AgencyFee},
		{"legal_fee", in.LegalFee},
	}
	for _, f := range fees {
		if f.v.IsNegative() {
			return nil, ValidationError("%s must not be negative", f.name)
		}
	}

	start, end := types.Date(in.StartDate), types.Date(in.EndDate)
	now := e.timestamp()
	var out *LeaseWithInvoice

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		unit, err := e.units.GetUnit(ctx, in.UnitID)
		if err != nil {
			return err
		}
		if unit.Status == UnitOccupied {
			return ConflictError("unit %s is occupied", unit.ID)
		}
		if err := e.checkOverlap(ctx, unit.ID, "", types.DateRange{Start: start, End: end}); err != nil {
			return err
		}

		lease := &Lease{
			ID:             uuid.New().String(),
			OrganizationID: in.OrganizationID,
			UnitID:         unit.ID,
			PropertyID:     unit.PropertyID,
			TenantID:       in.TenantID,
			StartDate:      start,
			EndDate:        end,
			RentAmount:     in.RentAmount,
			BillingCycle:   in.BillingCycle,
			CautionDeposit: in.CautionDeposit,
			AgencyFee:      in.AgencyFee,
			LegalFee:       in.LegalFee,
			Status:         LeaseDraft,
			Notes:          in.Notes,
			CreatedBy:      in.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.repo.InsertLease(ctx, lease); err != nil {
			return err
		}

		seed := &Invoice{
			ID:             uuid.New().String(),
			OrganizationID: lease.OrganizationID,
			LeaseID:        &lease.ID,
			TenantID:       lease.TenantID,
			Type:           InvoiceRent,
			Description:    "Initial rent and move-in fees",
			AmountPaid:     decimal.Zero,
			Status:         InvoicePending,
			CreatedAt:      now,
		}
		priceSeed(seed, lease, now)
		if err := e.repo.InsertInvoice(ctx, seed); err != nil {
			return err
		}
		out = &LeaseWithInvoice{Lease: lease, Invoice: seed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := leasePayload(out.Lease)
	p.SeedInvoiceID = out.Invoice.ID
	p.SeedAmount = &out.Invoice.Amount
	e.emit(ctx, event.NewLeaseCreated(p))
	return out, nil
}

// checkOverlap fails with a conflict when an active lease on the unit other
// than excludeID intersects r.
func (e *Engine) checkOverlap(ctx context.Context, unitID, excludeID string, r types.DateRange) error {
	_, n, err := e.repo.ListLeases(ctx, LeaseQuery{
		LeaseFilter: LeaseFilter{UnitID: unitID, Status: LeaseActive, Limit: 1},
		Overlapping: &r,
		ExcludeID:   excludeID,
	})
	if err != nil {
		return err
	}
	if n > 0 {
		return ConflictError("unit %s has an active lease overlapping %s to %s",
			unitID, types.FormatDate(r.Start), types.FormatDate(r.End))
	}
	return nil
}

// activateLease moves a draft lease to active and marks its unit occupied.
// It must run inside the caller's transaction; the payment ledger is its only
// caller.
func (e *Engine) activateLease(ctx context.Context, id string) (*Lease, error) {
	l, err := e.repo.GetLease(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := leaseTransition(l, LeaseActive); err != nil {
		return nil, err
	}
	if err := e.checkOverlap(ctx, l.UnitID, l.ID, types.DateRange{Start: l.StartDate, End: l.EndDate}); err != nil {
		return nil, err
	}
	l.Status = LeaseActive
	l.UpdatedAt = e.timestamp()
	if err := e.repo.UpdateLease(ctx, l); err != nil {
		return nil, err
	}
	if err := e.units.SetUnitStatus(ctx, l.UnitID, UnitOccupied); err != nil {
		return nil, err
	}
	return l, nil
}

// TerminateLease ends a lease early. It appends an audit line to the notes and
// vacates the unit when the lease was occupying it.
func (e *Engine) TerminateLease(ctx context.Context, id string, in TerminateLeaseInput, actor string) (*Lease, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	if actor == "" {
		actor = "system"
	}
	date := types.Date(in.TerminationDate)
	var out *Lease

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		l, err := e.repo.GetLease(ctx, id)
		if err != nil {
			return err
		}
		if err := leaseTransition(l, LeaseTerminated); err != nil {
			return err
		}
		wasActive := l.Status == LeaseActive
		now := e.timestamp()

		line := fmt.Sprintf("[%s] Terminated on %s by %s: %s",
			now.Format(time.RFC3339), types.FormatDate(date), actor, strings.TrimSpace(in.Reason))
		if l.Notes != "" {
			l.Notes += "\n"
		}
		l.Notes += line
		l.Status = LeaseTerminated
		l.TerminationDate = &date
		l.UpdatedAt = now
		if err := e.repo.UpdateLease(ctx, l); err != nil {
			return err
		}
		if wasActive {
			if err := e.units.SetUnitStatus(ctx, l.UnitID, UnitVacant); err != nil {
				return err
			}
		} else {
			seed, err := e.seedInvoice(ctx, l.ID)
			if err != nil {
				return err
			}
			if seed != nil && seed.AmountPaid.IsZero() {
				seed.Status = InvoiceVoid
				seed.UpdatedAt = now
				if err := e.repo.UpdateInvoice(ctx, seed); err != nil {
					return err
				}
			}
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := leasePayload(out)
	p.Reason = in.Reason
	p.EffectiveDate = types.FormatDate(date)
	e.emit(ctx, event.NewLeaseTerminated(p))
	return out, nil
}

// UpdateExpiredLeases expires every active lease whose end date is today or
// earlier and vacates the units, all in one transaction.
func (e *Engine) UpdateExpiredLeases(ctx context.Context) ([]*Lease, error) {
	today := e.today()
	var expired []*Lease

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		leases, _, err := e.repo.ListLeases(ctx, LeaseQuery{
			LeaseFilter: LeaseFilter{Status: LeaseActive},
			EndTo:       &today,
		})
		if err != nil {
			return err
		}
		if len(leases) == 0 {
			return nil
		}
		ids := make([]string, len(leases))
		for i, l := range leases {
			ids[i] = l.ID
		}
		now := e.timestamp()
		if _, err := e.repo.UpdateLeaseStatuses(ctx, ids, LeaseActive, LeaseExpired, now); err != nil {
			return err
		}
		for _, l := range leases {
			if err := e.units.SetUnitStatus(ctx, l.UnitID, UnitVacant); err != nil {
				return err
			}
			l.Status = LeaseExpired
			l.UpdatedAt = now
		}
		expired = leases
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, l := range expired {
		e.emit(ctx, event.NewLeaseExpired(leasePayload(l)))
	}
	return expired, nil
}

func (e *Engine) GetLease(ctx context.Context, id string) (*Lease, error) {
	return e.repo.GetLease(ctx, id)
}

// ListLeases returns one page of leases matching f, newest first.
func (e *Engine) ListLeases(ctx context.Context, f LeaseFilter) (*LeasePage, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	leases, total, err := e.repo.ListLeases(ctx, LeaseQuery{LeaseFilter: f})
	if err != nil {
		return nil, err
	}
	if leases == nil {
		leases = []*Lease{}
	}
	return &LeasePage{Leases: leases, Total: total}, nil
}

// ListActiveLeases returns every active lease, unpaginated.
func (e *Engine) ListActiveLeases(ctx context.Context) ([]*Lease, error) {
	leases, _, err := e.repo.ListLeases(ctx, LeaseQuery{LeaseFilter: LeaseFilter{Status: LeaseActive}})
	return leases, err
}

// UpdateLease edits a lease. Terminated and expired leases are frozen; once a
// lease is active only its notes and end date may change. Date changes re-run
// the overlap check.
func (e *Engine) UpdateLease(ctx context.Context, id string, in UpdateLeaseInput) (*Lease, error) {
	if err := e.check(in); err != nil {
		return nil, err
	}
	var out *Lease

	err := e.repo.WithTx(ctx, func(ctx context.Context) error {
		l, err := e.repo.GetLease(ctx, id)
		if err != nil {
			return err
		}
		switch l.Status {
		case LeaseTerminated, LeaseExpired:
			return ConflictError("lease %s is %s and can no longer be edited", l.ID, l.Status)
		case LeaseDraft, LeasePending:
		default:
			if in.StartDate != nil || in.RentAmount != nil || in.BillingCycle != nil ||
				in.CautionDeposit != nil || in.AgencyFee != nil || in.LegalFee != nil {
				return ConflictError("lease %s is %s: only notes and end_date can change", l.ID, l.Status)
			}
		}

		datesChanged := false
		if in.StartDate != nil {
			l.StartDate = types.Date(*in.StartDate)
			datesChanged = true
		}
		if in.EndDate != nil {
			l.EndDate = types.Date(*in.EndDate)
			datesChanged = true
		}
		if !l.EndDate.After(l.StartDate) {
			return ValidationError("end_date must be after start_date")
		}
		if in.RentAmount != nil {
			if !in.RentAmount.IsPositive() {
				return ValidationError("rent_amount must be positive")
			}
			l.RentAmount = *in.RentAmount
		}
		if in.BillingCycle != nil {
			l.BillingCycle = *in.BillingCycle
		}
		fees := []struct {
			name string
			src  *decimal.Decimal
			dst  *decimal.Decimal
		}{
			{"caution_deposit", in.CautionDeposit, &l.CautionDeposit},
			{"agency_fee", in.AgencyFee, &l.AgencyFee},
			{"legal_fee", in.LegalFee, &l.LegalFee},
		}
		for _, f := range fees {
			if f.src == nil {
				continue
			}
			if f.src.IsNegative() {
				return ValidationError("%s must not be negative", f.name)
			}
			*f.dst = *f.src
		}
		if in.Notes != nil {
			l.Notes = *in.Notes
		}
		if datesChanged {
			r := types.DateRange{Start: l.StartDate, End: l.EndDate}
			if err := e.checkOverlap(ctx, l.UnitID, l.ID, r); err != nil {
				return err
			}
		}

		l.UpdatedAt = e.timestamp()
		if err := e.repo.UpdateLease(ctx, l); err != nil {
			return err
		}
		if in.StartDate != nil || in.RentAmount != nil ||
			in.CautionDeposit != nil || in.AgencyFee != nil || in.LegalFee != nil {
			if err := e.repriceSeed(ctx, l); err != nil {
				return err
			}
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetLeaseStats counts an organization's leases per status and the active
// leases ending within the expiring window.
func (e *Engine) GetLeaseStats(ctx context.Context, organizationID string) (*LeaseStats, error) {
	counts, err := e.repo.CountLeasesByStatus(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	stats := &LeaseStats{ByStatus: make(map[LeaseStatus]int, len(LeaseStatuses))}
	for _, s := range LeaseStatuses {
		stats.ByStatus[s] = counts[s]
		stats.Total += counts[s]
	}

	from := e.today()
	to := from.AddDate(0, 0, e.expiringWindow)
	_, n, err := e.repo.ListLeases(ctx, LeaseQuery{
		LeaseFilter: LeaseFilter{OrganizationID: organizationID, Status: LeaseActive, Limit: 1},
		EndFrom:     &from,
		EndTo:       &to,
	})
	if err != nil {
		return nil, err
	}
	stats.Expiring = n
	return stats, nil
}

// priceSeed sets the money fields and due date of a lease's seed invoice.
func priceSeed(inv *Invoice, l *Lease, now time.Time) {
	owner := l.RentAmount
	fee := l.AgencyFee.Add(l.LegalFee)
	inv.Amount = l.SeedTotal()
	inv.OwnerAmount = &owner
	inv.ManagementFee = &fee
	inv.DueDate = l.StartDate
	inv.UpdatedAt = now
}

// seedInvoice returns the earliest non-void rent invoice of a lease, or nil.
func (e *Engine) seedInvoice(ctx context.Context, leaseID string) (*Invoice, error) {
	rent, _, err := e.repo.ListInvoices(ctx, InvoiceFilter{LeaseID: leaseID, Type: InvoiceRent})
	if err != nil {
		return nil, err
	}
	var seed *Invoice
	for _, inv := range rent {
		if inv.Status == InvoiceVoid {
			continue
		}
		if seed == nil || inv.DueDate.Before(seed.DueDate) {
			seed = inv
		}
	}
	return seed, nil
}

// repriceSeed brings the seed invoice of a draft or pending lease in line with
// the lease's rent, fees and start date. A seed that already took a payment
// cannot be re-priced.
func (e *Engine) repriceSeed(ctx context.Context, l *Lease) error {
	seed, err := e.seedInvoice(ctx, l.ID)
	if err != nil || seed == nil {
		return err
	}
	if !seed.AmountPaid.IsZero() {
		return ConflictError("seed invoice %s of lease %s has payments and cannot be re-priced", seed.ID, l.ID)
	}
	priceSeed(seed, l, l.UpdatedAt)
	return e.repo.UpdateInvoice(ctx, seed)
}
