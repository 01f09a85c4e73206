package billing_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/rentroll/internal/billing"
	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/store"
	"github.com/matthewbaird/rentroll/internal/types"
)

// ── Fixture ─────────────────────────────────────────────────────────────────

type recordingNotifier struct {
	mu  sync.Mutex
	got []types.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) ofType(typ string) []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Notification
	for _, n := range r.got {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	ctx    context.Context
	store  *store.Store
	engine *billing.Engine
	notes  *recordingNotifier

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, now string) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	f := &fixture{ctx: ctx, store: s, notes: &recordingNotifier{}, now: date(now)}
	f.engine = billing.NewEngine(s, s,
		billing.WithClock(f.clock),
		billing.WithNotifier(f.notes),
	)
	pct := decimal.NewFromInt(10)
	for _, id := range []string{"unit-1", "unit-2", "unit-3"} {
		u := &billing.Unit{ID: id, OrganizationID: "org-1", PropertyID: "prop-1", Label: strings.ToUpper(id)}
		if id == "unit-1" {
			u.ManagementFeePercentage = &pct
		}
		require.NoError(t, s.CreateUnit(ctx, u))
	}
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Add(9 * time.Hour)
}

func (f *fixture) setNow(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = date(s)
}

func date(s string) time.Time {
	t, err := types.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func leaseInput(unitID, start, end string, rent string) billing.CreateLeaseInput {
	return billing.CreateLeaseInput{
		OrganizationID: "org-1",
		UnitID:         unitID,
		TenantID:       "tenant-1",
		StartDate:      date(start),
		EndDate:        date(end),
		RentAmount:     dec(rent),
		BillingCycle:   billing.CycleMonthly,
		CreatedBy:      "user-1",
	}
}

func (f *fixture) createLease(t *testing.T, in billing.CreateLeaseInput) *billing.LeaseWithInvoice {
	t.Helper()
	out, err := f.engine.CreateLease(f.ctx, in)
	require.NoError(t, err)
	return out
}

func (f *fixture) pay(t *testing.T, invoiceID, amount string) *billing.PaymentReceipt {
	t.Helper()
	r, err := f.engine.RecordPayment(f.ctx, invoiceID, billing.PaymentInput{
		Amount: dec(amount),
		Method: billing.MethodBankTransfer,
	}, "user-1")
	require.NoError(t, err)
	return r
}

// activeLease creates a lease with no move-in fees and pays its seed invoice.
func (f *fixture) activeLease(t *testing.T, unitID, start, end, rent string) *billing.Lease {
	t.Helper()
	out := f.createLease(t, leaseInput(unitID, start, end, rent))
	r := f.pay(t, out.Invoice.ID, out.Invoice.Amount.String())
	require.True(t, r.LeaseActivated)
	l, err := f.engine.GetLease(f.ctx, out.Lease.ID)
	require.NoError(t, err)
	return l
}

func (f *fixture) unitStatus(t *testing.T, id string) billing.UnitStatus {
	t.Helper()
	u, err := f.store.GetUnit(f.ctx, id)
	require.NoError(t, err)
	return u.Status
}

// ── Lease lifecycle ─────────────────────────────────────────────────────────

func TestCreateLease_SeedInvoice(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	in := leaseInput("unit-1", "2024-01-01", "2024-12-31", "120000")
	in.CautionDeposit = dec("50000")
	in.AgencyFee = dec("10000")
	in.LegalFee = dec("5000")

	out := f.createLease(t, in)

	assert.Equal(t, billing.LeaseDraft, out.Lease.Status)
	assert.Equal(t, "prop-1", out.Lease.PropertyID)
	inv := out.Invoice
	assert.Equal(t, billing.InvoiceRent, inv.Type)
	assert.Equal(t, billing.InvoicePending, inv.Status)
	assert.True(t, inv.Amount.Equal(dec("185000")), "amount = %s", inv.Amount)
	assert.True(t, inv.AmountPaid.IsZero())
	assert.True(t, inv.DueDate.Equal(date("2024-01-01")))
	require.NotNil(t, inv.OwnerAmount)
	require.NotNil(t, inv.ManagementFee)
	assert.True(t, inv.OwnerAmount.Equal(dec("120000")))
	assert.True(t, inv.ManagementFee.Equal(dec("15000")))
	require.NotNil(t, inv.LeaseID)
	assert.Equal(t, out.Lease.ID, *inv.LeaseID)

	invs, err := f.engine.ListInvoices(f.ctx, billing.InvoiceFilter{LeaseID: out.Lease.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, invs.Total)
	assert.Equal(t, billing.UnitVacant, f.unitStatus(t, "unit-1"))

	created := f.notes.ofType(event.TypeLeaseCreated)
	require.Len(t, created, 1)
	assert.Equal(t, out.Lease.ID, created[0].Ref("lease"))
}

func TestCreateLease_Validation(t *testing.T) {
	f := newFixture(t, "2023-12-20")

	bad := leaseInput("unit-1", "2024-12-31", "2024-01-01", "1000")
	_, err := f.engine.CreateLease(f.ctx, bad)
	assert.True(t, billing.IsValidation(err), "end before start: %v", err)

	bad = leaseInput("unit-1", "2024-01-01", "2024-12-31", "0")
	_, err = f.engine.CreateLease(f.ctx, bad)
	assert.True(t, billing.IsValidation(err), "zero rent: %v", err)

	bad = leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000")
	bad.BillingCycle = "weekly"
	_, err = f.engine.CreateLease(f.ctx, bad)
	assert.True(t, billing.IsValidation(err), "bad cycle: %v", err)

	bad = leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000")
	bad.LegalFee = dec("-1")
	_, err = f.engine.CreateLease(f.ctx, bad)
	assert.True(t, billing.IsValidation(err), "negative fee: %v", err)

	bad = leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000")
	bad.TenantID = ""
	_, err = f.engine.CreateLease(f.ctx, bad)
	assert.True(t, billing.IsValidation(err), "missing tenant: %v", err)

	_, err = f.engine.CreateLease(f.ctx, leaseInput("unit-404", "2024-01-01", "2024-12-31", "1000"))
	assert.True(t, billing.IsNotFound(err), "missing unit: %v", err)
}

func TestCreateLease_OccupiedUnitConflict(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	f.activeLease(t, "unit-1", "2024-01-01", "2024-12-31", "1000")

	_, err := f.engine.CreateLease(f.ctx, leaseInput("unit-1", "2025-01-01", "2025-12-31", "1000"))
	assert.True(t, billing.IsConflict(err), "got %v", err)
}

func TestCreateLease_OverlapConflict(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	f.activeLease(t, "unit-1", "2024-01-01", "2024-12-31", "1000")
	// The unit directory drifted to vacant; the overlap check still holds.
	require.NoError(t, f.store.SetUnitStatus(f.ctx, "unit-1", billing.UnitVacant))

	_, err := f.engine.CreateLease(f.ctx, leaseInput("unit-1", "2024-12-01", "2025-11-30", "1000"))
	assert.True(t, billing.IsConflict(err), "got %v", err)

	_, err = f.engine.CreateLease(f.ctx, leaseInput("unit-1", "2025-01-01", "2025-12-31", "1000"))
	assert.NoError(t, err)
}

func TestFullSeedPaymentActivatesLease(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "120000"))

	r := f.pay(t, out.Invoice.ID, "120000")

	assert.Equal(t, billing.InvoicePaid, r.Invoice.Status)
	assert.True(t, r.Invoice.AmountPaid.Equal(dec("120000")))
	assert.True(t, r.LeaseActivated)
	assert.Equal(t, "user-1", r.Payment.RecordedBy)

	l, err := f.engine.GetLease(f.ctx, out.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.LeaseActive, l.Status)
	assert.Equal(t, billing.UnitOccupied, f.unitStatus(t, "unit-1"))

	assert.Len(t, f.notes.ofType(event.TypePaymentReceived), 1)
	assert.Len(t, f.notes.ofType(event.TypeLeaseActivated), 1)
}

func TestRecordPayment_MonotoneAndBounded(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000"))
	id := out.Invoice.ID

	r := f.pay(t, id, "400")
	assert.Equal(t, billing.InvoicePartial, r.Invoice.Status)
	assert.False(t, r.LeaseActivated)
	l, err := f.engine.GetLease(f.ctx, out.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.LeaseDraft, l.Status, "partial payment does not activate")

	_, err = f.engine.RecordPayment(f.ctx, id, billing.PaymentInput{Amount: dec("600.01"), Method: billing.MethodCash}, "user-1")
	assert.True(t, billing.IsValidation(err), "overpayment: %v", err)
	_, err = f.engine.RecordPayment(f.ctx, id, billing.PaymentInput{Amount: dec("-10"), Method: billing.MethodCash}, "user-1")
	assert.True(t, billing.IsValidation(err), "negative: %v", err)
	_, err = f.engine.RecordPayment(f.ctx, id, billing.PaymentInput{Amount: dec("10"), Method: "barter"}, "user-1")
	assert.True(t, billing.IsValidation(err), "method: %v", err)

	inv, err := f.engine.GetInvoice(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, inv.AmountPaid.Equal(dec("400")), "rejected payments leave the balance alone")

	r = f.pay(t, id, "600")
	assert.Equal(t, billing.InvoicePaid, r.Invoice.Status)
	assert.True(t, r.Invoice.AmountPaid.Equal(r.Invoice.Amount))
	assert.True(t, r.LeaseActivated)

	_, err = f.engine.RecordPayment(f.ctx, id, billing.PaymentInput{Amount: dec("1"), Method: billing.MethodCash}, "user-1")
	assert.True(t, billing.IsConflict(err), "paid invoice: %v", err)

	payments, err := f.engine.ListPayments(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.True(t, payments[0].Amount.Equal(dec("400")))

	_, err = f.engine.RecordPayment(f.ctx, "missing", billing.PaymentInput{Amount: dec("1"), Method: billing.MethodCash}, "user-1")
	assert.True(t, billing.IsNotFound(err))
}

func TestRecordPayment_VoidInvoiceConflict(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	inv, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoicePenalty,
		Amount: dec("50"), DueDate: date("2024-01-10"),
	})
	require.NoError(t, err)
	void := billing.InvoiceVoid
	_, err = f.engine.UpdateInvoice(f.ctx, inv.ID, billing.UpdateInvoiceInput{Status: &void})
	require.NoError(t, err)

	_, err = f.engine.RecordPayment(f.ctx, inv.ID, billing.PaymentInput{Amount: dec("50"), Method: billing.MethodPOS}, "user-1")
	assert.True(t, billing.IsConflict(err), "got %v", err)
}

func TestActivation_OnlyFromDraft(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000"))
	f.pay(t, out.Invoice.ID, "400")
	_, err := f.engine.TerminateLease(f.ctx, out.Lease.ID, billing.TerminateLeaseInput{
		TerminationDate: date("2023-12-21"), Reason: "tenant withdrew",
	}, "user-1")
	require.NoError(t, err)

	r := f.pay(t, out.Invoice.ID, "600")
	assert.Equal(t, billing.InvoicePaid, r.Invoice.Status)
	assert.False(t, r.LeaseActivated)

	l, err := f.engine.GetLease(f.ctx, out.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.LeaseTerminated, l.Status)
	assert.Equal(t, billing.UnitVacant, f.unitStatus(t, "unit-1"))
}

func TestActivation_SecondOverlappingLeaseRollsBackPayment(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	first := f.createLease(t, leaseInput("unit-2", "2024-01-01", "2024-12-31", "1000"))
	second := f.createLease(t, leaseInput("unit-2", "2024-06-01", "2025-05-31", "1000"))

	f.pay(t, first.Invoice.ID, "1000")

	_, err := f.engine.RecordPayment(f.ctx, second.Invoice.ID, billing.PaymentInput{
		Amount: dec("1000"), Method: billing.MethodOnline,
	}, "user-1")
	assert.True(t, billing.IsConflict(err), "got %v", err)

	inv, err := f.engine.GetInvoice(f.ctx, second.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, inv.AmountPaid.IsZero(), "payment rolled back")
	assert.Equal(t, billing.InvoicePending, inv.Status)
	payments, err := f.engine.ListPayments(f.ctx, second.Invoice.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	active, err := f.engine.ListLeases(f.ctx, billing.LeaseFilter{UnitID: "unit-2", Status: billing.LeaseActive})
	require.NoError(t, err)
	assert.Equal(t, 1, active.Total)
}

func TestTerminateLease(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	l := f.activeLease(t, "unit-1", "2024-01-01", "2024-12-31", "1000")
	f.setNow("2024-06-15")

	got, err := f.engine.TerminateLease(f.ctx, l.ID, billing.TerminateLeaseInput{
		TerminationDate: date("2024-06-30"),
		Reason:          "Tenant relocated",
	}, "user-9")
	require.NoError(t, err)

	assert.Equal(t, billing.LeaseTerminated, got.Status)
	require.NotNil(t, got.TerminationDate)
	assert.True(t, got.TerminationDate.Equal(date("2024-06-30")))
	assert.Contains(t, got.Notes, "Terminated on 2024-06-30 by user-9: Tenant relocated")
	assert.Contains(t, got.Notes, "[2024-06-15T09:00:00Z]")
	assert.Equal(t, billing.UnitVacant, f.unitStatus(t, "unit-1"))

	stored, err := f.engine.GetLease(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Notes, stored.Notes)
	assert.Len(t, f.notes.ofType(event.TypeLeaseTerminated), 1)

	_, err = f.engine.TerminateLease(f.ctx, l.ID, billing.TerminateLeaseInput{TerminationDate: date("2024-07-01"), Reason: "again"}, "user-9")
	assert.True(t, billing.IsConflict(err), "terminated is absorbing: %v", err)

	_, err = f.engine.TerminateLease(f.ctx, "missing", billing.TerminateLeaseInput{TerminationDate: date("2024-07-01"), Reason: "x"}, "user-9")
	assert.True(t, billing.IsNotFound(err))

	_, err = f.engine.TerminateLease(f.ctx, l.ID, billing.TerminateLeaseInput{TerminationDate: date("2024-07-01")}, "user-9")
	assert.True(t, billing.IsValidation(err), "reason required: %v", err)
}

func TestTerminateLease_DraftVoidsUnpaidSeed(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000"))

	_, err := f.engine.TerminateLease(f.ctx, out.Lease.ID, billing.TerminateLeaseInput{
		TerminationDate: date("2023-12-22"), Reason: "tenant withdrew",
	}, "user-1")
	require.NoError(t, err)

	seed, err := f.engine.GetInvoice(f.ctx, out.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceVoid, seed.Status)

	f.setNow("2024-01-10")
	late, err := f.engine.GetOverdueInvoices(f.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, late, "a voided seed never turns overdue")
	moved, err := f.engine.UpdateOverdueInvoices(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, moved)
	assert.Equal(t, billing.UnitVacant, f.unitStatus(t, "unit-1"))
}

func TestTerminateLease_AppendsToExistingNotes(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	in := leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000")
	in.Notes = "Keys handed over"
	out := f.createLease(t, in)

	got, err := f.engine.TerminateLease(f.ctx, out.Lease.ID, billing.TerminateLeaseInput{
		TerminationDate: date("2023-12-31"), Reason: "cancelled",
	}, "")
	require.NoError(t, err)
	lines := strings.Split(got.Notes, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Keys handed over", lines[0])
	assert.Contains(t, lines[1], "by system: cancelled")
}

func TestUpdateExpiredLeases(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	ending := f.activeLease(t, "unit-1", "2024-01-01", "2024-06-30", "1000")
	running := f.activeLease(t, "unit-2", "2024-01-01", "2024-12-31", "1000")
	draft := f.createLease(t, leaseInput("unit-3", "2024-01-01", "2024-03-31", "1000")).Lease
	terminated := f.createLease(t, leaseInput("unit-3", "2024-04-01", "2024-05-31", "1000")).Lease
	_, err := f.engine.TerminateLease(f.ctx, terminated.ID, billing.TerminateLeaseInput{TerminationDate: date("2024-01-01"), Reason: "x"}, "u")
	require.NoError(t, err)

	f.setNow("2024-06-30")
	expired, err := f.engine.UpdateExpiredLeases(f.ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, ending.ID, expired[0].ID)
	assert.Equal(t, billing.LeaseExpired, expired[0].Status)

	for id, want := range map[string]billing.LeaseStatus{
		ending.ID:     billing.LeaseExpired,
		running.ID:    billing.LeaseActive,
		draft.ID:      billing.LeaseDraft,
		terminated.ID: billing.LeaseTerminated,
	} {
		l, err := f.engine.GetLease(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, l.Status, "lease %s", id)
	}
	assert.Equal(t, billing.UnitVacant, f.unitStatus(t, "unit-1"))
	assert.Equal(t, billing.UnitOccupied, f.unitStatus(t, "unit-2"))
	assert.Len(t, f.notes.ofType(event.TypeLeaseExpired), 1)

	again, err := f.engine.UpdateExpiredLeases(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestUpdateLease(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	draft := f.createLease(t, leaseInput("unit-2", "2024-01-01", "2024-12-31", "1000")).Lease

	rent := dec("1100")
	cycle := billing.CycleQuarterly
	got, err := f.engine.UpdateLease(f.ctx, draft.ID, billing.UpdateLeaseInput{RentAmount: &rent, BillingCycle: &cycle})
	require.NoError(t, err)
	assert.True(t, got.RentAmount.Equal(rent))
	assert.Equal(t, billing.CycleQuarterly, got.BillingCycle)

	priced := f.createLease(t, leaseInput("unit-3", "2024-01-01", "2024-12-31", "1000"))
	bigger := dec("5000")
	agency := dec("250")
	moved := date("2024-02-01")
	_, err = f.engine.UpdateLease(f.ctx, priced.Lease.ID, billing.UpdateLeaseInput{
		RentAmount: &bigger, AgencyFee: &agency, StartDate: &moved,
	})
	require.NoError(t, err)
	seed, err := f.engine.GetInvoice(f.ctx, priced.Invoice.ID)
	require.NoError(t, err)
	assert.True(t, seed.Amount.Equal(dec("5250")), "amount %s", seed.Amount)
	assert.True(t, seed.OwnerAmount.Equal(dec("5000")))
	assert.True(t, seed.ManagementFee.Equal(dec("250")))
	assert.True(t, seed.DueDate.Equal(moved), "due %s", seed.DueDate)

	stale := f.pay(t, priced.Invoice.ID, "1000")
	assert.Equal(t, billing.InvoicePartial, stale.Invoice.Status)
	assert.False(t, stale.LeaseActivated, "the old price no longer settles the seed")

	_, err = f.engine.UpdateLease(f.ctx, priced.Lease.ID, billing.UpdateLeaseInput{RentAmount: &rent})
	assert.True(t, billing.IsConflict(err), "seed with payments is frozen: %v", err)
	l, err := f.engine.GetLease(f.ctx, priced.Lease.ID)
	require.NoError(t, err)
	assert.True(t, l.RentAmount.Equal(bigger), "rejected edit rolls back")

	bad := date("2023-06-01")
	_, err = f.engine.UpdateLease(f.ctx, draft.ID, billing.UpdateLeaseInput{EndDate: &bad})
	assert.True(t, billing.IsValidation(err), "end before start: %v", err)

	active := f.activeLease(t, "unit-1", "2024-01-01", "2024-12-31", "1000")
	_, err = f.engine.UpdateLease(f.ctx, active.ID, billing.UpdateLeaseInput{RentAmount: &rent})
	assert.True(t, billing.IsConflict(err), "rent frozen once active: %v", err)

	end := date("2025-06-30")
	notes := "extended"
	got, err = f.engine.UpdateLease(f.ctx, active.ID, billing.UpdateLeaseInput{EndDate: &end, Notes: &notes})
	require.NoError(t, err)
	assert.True(t, got.EndDate.Equal(end))
	assert.Equal(t, "extended", got.Notes)

	_, err = f.engine.UpdateLease(f.ctx, "missing", billing.UpdateLeaseInput{Notes: &notes})
	assert.True(t, billing.IsNotFound(err))
}

func TestLeaseQueriesAndStats(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	f.activeLease(t, "unit-1", "2024-01-01", "2024-01-25", "1000")
	f.activeLease(t, "unit-2", "2024-01-01", "2024-12-31", "1000")
	f.createLease(t, leaseInput("unit-3", "2024-01-01", "2024-12-31", "1000"))

	page, err := f.engine.ListLeases(f.ctx, billing.LeaseFilter{OrganizationID: "org-1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Leases, 2)

	byUnit, err := f.engine.ListLeases(f.ctx, billing.LeaseFilter{UnitID: "unit-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, byUnit.Total)

	byProp, err := f.engine.ListLeases(f.ctx, billing.LeaseFilter{PropertyID: "prop-1", TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, byProp.Total)

	f.setNow("2024-01-05")
	stats, err := f.engine.GetLeaseStats(f.ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[billing.LeaseActive])
	assert.Equal(t, 1, stats.ByStatus[billing.LeaseDraft])
	assert.Equal(t, 0, stats.ByStatus[billing.LeaseExpired])
	assert.Equal(t, 1, stats.Expiring)
}

// ── Recurring generation ────────────────────────────────────────────────────

func TestGenerateRecurringInvoice_CatchUpAndIdempotence(t *testing.T) {
	f := newFixture(t, "2023-12-28")
	l := f.activeLease(t, "unit-1", "2024-01-01", "2024-12-31", "120000")

	f.setNow("2024-03-15")
	res, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeCreated, res.Outcome)
	assert.Equal(t, 2, res.CyclesPassed)
	assert.True(t, res.ExpectedPaid.Equal(dec("240000")))
	assert.True(t, res.TotalPaid.Equal(dec("120000")))
	require.NotNil(t, res.Invoice)
	inv := res.Invoice
	assert.True(t, inv.DueDate.Equal(date("2024-02-01")), "due %s", inv.DueDate)
	assert.Equal(t, billing.InvoicePending, inv.Status)
	assert.True(t, inv.Amount.Equal(dec("120000")))
	require.NotNil(t, inv.ManagementFee)
	assert.True(t, inv.ManagementFee.Equal(dec("12000")), "10%% unit fee")
	assert.True(t, inv.OwnerAmount.Add(*inv.ManagementFee).Equal(inv.Amount))

	again, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, again.Outcome)
	assert.Equal(t, billing.SkipAlreadyGenerated, again.Reason)

	rent, err := f.engine.ListInvoices(f.ctx, billing.InvoiceFilter{LeaseID: l.ID, Type: billing.InvoiceRent})
	require.NoError(t, err)
	assert.Equal(t, 2, rent.Total)
	assert.Len(t, f.notes.ofType(event.TypeInvoiceGenerated), 1)

	// Paying February brings the tenant level with the two elapsed cycles.
	f.pay(t, inv.ID, "120000")
	current, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, current.Outcome)
	assert.Equal(t, billing.SkipTenantCurrent, current.Reason)

	f.setNow("2024-04-02")
	next, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, billing.OutcomeCreated, next.Outcome)
	assert.True(t, next.Invoice.DueDate.Equal(date("2024-03-01")))
}

func TestGenerateRecurringInvoice_ArrearsKeepBilling(t *testing.T) {
	f := newFixture(t, "2023-12-28")
	l := f.activeLease(t, "unit-2", "2024-01-01", "2024-12-31", "1000")

	var dues []string
	for _, day := range []string{"2024-02-02", "2024-03-02", "2024-04-02", "2024-05-02", "2024-06-02"} {
		f.setNow(day)
		res, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
		require.NoError(t, err, day)
		if res.Outcome == billing.OutcomeCreated {
			dues = append(dues, types.FormatDate(res.Invoice.DueDate))
		}
		again, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
		require.NoError(t, err, day)
		assert.Equal(t, billing.OutcomeSkipped, again.Outcome, "second call on %s", day)
	}
	assert.Equal(t, []string{"2024-02-01", "2024-03-01", "2024-04-01", "2024-05-01"}, dues)

	rent, err := f.engine.ListInvoices(f.ctx, billing.InvoiceFilter{LeaseID: l.ID, Type: billing.InvoiceRent})
	require.NoError(t, err)
	assert.Equal(t, 5, rent.Total, "seed plus one invoice per elapsed cycle")
}

func TestGenerateRecurringInvoice_FirstCycleWhenCurrent(t *testing.T) {
	f := newFixture(t, "2023-12-28")
	l := f.activeLease(t, "unit-2", "2024-01-01", "2024-12-31", "500")

	f.setNow("2024-01-20")
	res, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, res.Outcome)
	assert.Equal(t, billing.SkipTenantCurrent, res.Reason)
	assert.Equal(t, 0, res.CyclesPassed)
	assert.True(t, res.ExpectedPaid.Equal(dec("500")), "at least one cycle is expected")
}

func TestGenerateRecurringInvoice_LeaseEnding(t *testing.T) {
	f := newFixture(t, "2023-12-28")
	l := f.activeLease(t, "unit-2", "2024-01-01", "2024-01-31", "500")

	f.setNow("2024-03-01")
	res, err := f.engine.GenerateRecurringInvoice(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, res.Outcome)
	assert.Equal(t, billing.SkipLeaseEnding, res.Reason)
	require.NotNil(t, res.NextDueDate)
	assert.True(t, res.NextDueDate.Equal(date("2024-02-01")))
}

func TestGenerateRecurringInvoice_RequiresActiveLease(t *testing.T) {
	f := newFixture(t, "2023-12-28")
	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "500"))

	_, err := f.engine.GenerateRecurringInvoice(f.ctx, out.Lease.ID)
	assert.True(t, billing.IsConflict(err), "draft: %v", err)

	_, err = f.engine.GenerateRecurringInvoice(f.ctx, "missing")
	assert.True(t, billing.IsNotFound(err))
}

// ── Invoices ────────────────────────────────────────────────────────────────

func TestCreateInvoice_FeeSplit(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	lease := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000")).Lease

	inv, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", LeaseID: &lease.ID, TenantID: "tenant-1",
		Type: billing.InvoiceServiceCharge, Amount: dec("300"), DueDate: date("2024-02-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePending, inv.Status)
	require.NotNil(t, inv.ManagementFee)
	assert.True(t, inv.ManagementFee.Equal(dec("30")))
	assert.True(t, inv.OwnerAmount.Equal(dec("270")))

	owner := dec("250")
	inv, err = f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", LeaseID: &lease.ID, TenantID: "tenant-1",
		Type: billing.InvoiceMaintenance, Amount: dec("300"), OwnerAmount: &owner, DueDate: date("2024-02-01"),
	})
	require.NoError(t, err)
	assert.True(t, inv.ManagementFee.Equal(dec("50")))

	loose, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoicePenalty,
		Amount: dec("75"), DueDate: date("2024-02-01"), Status: billing.InvoiceDraft,
	})
	require.NoError(t, err)
	assert.Nil(t, loose.ManagementFee)
	assert.Equal(t, billing.InvoiceDraft, loose.Status)

	fee := dec("100")
	_, err = f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoicePenalty,
		Amount: dec("300"), OwnerAmount: &owner, ManagementFee: &fee, DueDate: date("2024-02-01"),
	})
	assert.True(t, billing.IsValidation(err), "split must add up: %v", err)

	_, err = f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: "rent_bonus",
		Amount: dec("300"), DueDate: date("2024-02-01"),
	})
	assert.True(t, billing.IsValidation(err), "type: %v", err)

	missing := "missing"
	_, err = f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", LeaseID: &missing, TenantID: "tenant-1", Type: billing.InvoiceRent,
		Amount: dec("300"), DueDate: date("2024-02-01"),
	})
	assert.True(t, billing.IsNotFound(err))
}

func TestUpdateAndDeleteInvoice(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	inv, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoiceMaintenance,
		Amount: dec("1000"), DueDate: date("2024-01-10"),
	})
	require.NoError(t, err)

	desc := "Boiler repair"
	due := date("2024-01-20")
	got, err := f.engine.UpdateInvoice(f.ctx, inv.ID, billing.UpdateInvoiceInput{Description: &desc, DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, desc, got.Description)
	assert.True(t, got.DueDate.Equal(due))

	f.pay(t, inv.ID, "400")

	low := dec("300")
	_, err = f.engine.UpdateInvoice(f.ctx, inv.ID, billing.UpdateInvoiceInput{Amount: &low})
	assert.True(t, billing.IsValidation(err), "below paid: %v", err)

	pending := billing.InvoicePending
	_, err = f.engine.UpdateInvoice(f.ctx, inv.ID, billing.UpdateInvoiceInput{Status: &pending})
	assert.True(t, billing.IsConflict(err), "status follows payments: %v", err)

	exact := dec("400")
	got, err = f.engine.UpdateInvoice(f.ctx, inv.ID, billing.UpdateInvoiceInput{Amount: &exact})
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, got.Status, "re-pricing to the paid amount settles it")

	_, err = f.engine.UpdateInvoice(f.ctx, inv.ID, billing.UpdateInvoiceInput{Description: &desc})
	assert.True(t, billing.IsConflict(err), "paid invoices are frozen: %v", err)

	assert.True(t, billing.IsConflict(f.engine.DeleteInvoice(f.ctx, inv.ID)))

	other, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoicePenalty,
		Amount: dec("20"), DueDate: date("2024-01-10"),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteInvoice(f.ctx, other.ID))
	_, err = f.engine.GetInvoice(f.ctx, other.ID)
	assert.True(t, billing.IsNotFound(err))
	assert.True(t, billing.IsNotFound(f.engine.DeleteInvoice(f.ctx, other.ID)))
}

func TestUpdateOverdueInvoices(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	seed := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000")).Invoice
	future, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoiceServiceCharge,
		Amount: dec("100"), DueDate: date("2024-02-01"),
	})
	require.NoError(t, err)

	f.setNow("2024-01-05")
	pendingPast, err := f.engine.GetOverdueInvoices(f.ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, pendingPast, 1)
	assert.Equal(t, 4, pendingPast[0].DaysOverdue)
	assert.Equal(t, "UNIT-1", pendingPast[0].UnitLabel)

	moved, err := f.engine.UpdateOverdueInvoices(f.ctx)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, seed.ID, moved[0].ID)

	got, err := f.engine.GetInvoice(f.ctx, seed.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceOverdue, got.Status)
	untouched, err := f.engine.GetInvoice(f.ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePending, untouched.Status)

	overdue := f.notes.ofType(event.TypeInvoiceOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, seed.ID, overdue[0].Ref("invoice"))

	moved, err = f.engine.UpdateOverdueInvoices(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, moved)
	assert.Len(t, f.notes.ofType(event.TypeInvoiceOverdue), 1)

	delinquent, err := f.engine.GetDelinquentInvoices(f.ctx, "")
	require.NoError(t, err)
	require.Len(t, delinquent, 1)
	assert.Equal(t, seed.ID, delinquent[0].Invoice.ID)
}

func TestNotifierFailureNeverFailsOperations(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	f.notes.err = errors.New("sink down")

	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000"))
	r := f.pay(t, out.Invoice.ID, "1000")
	assert.True(t, r.LeaseActivated)

	_, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoicePenalty,
		Amount: dec("10"), DueDate: date("2024-01-02"),
	})
	require.NoError(t, err)
	f.setNow("2024-01-10")
	moved, err := f.engine.UpdateOverdueInvoices(f.ctx)
	require.NoError(t, err)
	require.Len(t, moved, 1)

	got, err := f.engine.GetInvoice(f.ctx, moved[0].ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceOverdue, got.Status)
	assert.NotEmpty(t, f.notes.ofType(event.TypeInvoiceOverdue), "delivery was attempted")
}

func TestGetUpcomingInvoices(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	lease := f.createLease(t, leaseInput("unit-1", "2024-03-02", "2025-03-01", "1000")).Lease
	for _, due := range []string{"2024-03-08", "2024-03-12"} {
		_, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
			OrganizationID: "org-1", LeaseID: &lease.ID, TenantID: "tenant-1",
			Type: billing.InvoiceServiceCharge, Amount: dec("50"), DueDate: date(due),
		})
		require.NoError(t, err)
	}

	upcoming, err := f.engine.GetUpcomingInvoices(f.ctx, "", 7)
	require.NoError(t, err)
	require.Len(t, upcoming, 2, "seed due tomorrow and the one due in a week")
	days := map[int]bool{}
	for _, c := range upcoming {
		days[c.DaysUntilDue] = true
		assert.Equal(t, "unit-1", c.UnitID)
		assert.Equal(t, "prop-1", c.PropertyID)
	}
	assert.True(t, days[1])
	assert.True(t, days[7])

	_, err = f.engine.GetUpcomingInvoices(f.ctx, "", 0)
	assert.True(t, billing.IsValidation(err))
}

func TestGetInvoiceStats(t *testing.T) {
	f := newFixture(t, "2023-12-20")
	out := f.createLease(t, leaseInput("unit-1", "2024-01-01", "2024-12-31", "1000"))
	f.pay(t, out.Invoice.ID, "250")
	_, err := f.engine.CreateInvoice(f.ctx, billing.CreateInvoiceInput{
		OrganizationID: "org-1", TenantID: "tenant-1", Type: billing.InvoicePenalty,
		Amount: dec("100"), DueDate: date("2024-01-02"),
	})
	require.NoError(t, err)

	stats, err := f.engine.GetInvoiceStats(f.ctx, billing.InvoiceFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Totals.Count)
	assert.True(t, stats.Totals.Amount.Equal(dec("1100")))
	assert.True(t, stats.Totals.AmountPaid.Equal(dec("250")))
	assert.True(t, stats.Totals.Outstanding.Equal(dec("850")))
	assert.Equal(t, 1, stats.ByStatus[billing.InvoicePartial].Count)
	assert.Equal(t, 1, stats.ByStatus[billing.InvoicePending].Count)
	assert.Equal(t, 0, stats.ByStatus[billing.InvoicePaid].Count)
}
