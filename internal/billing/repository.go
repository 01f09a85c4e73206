package billing

import (
	"context"
	"time"

	"github.com/matthewbaird/rentroll/internal/types"
)

// Repository is the persistence the engine needs. Implementations must make
// every call made with the context passed to fn join the transaction opened
// by WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertLease(ctx context.Context, l *Lease) error
	GetLease(ctx context.Context, id string) (*Lease, error)
	UpdateLease(ctx context.Context, l *Lease) error
	ListLeases(ctx context.Context, f LeaseQuery) ([]*Lease, int, error)
	CountLeasesByStatus(ctx context.Context, organizationID string) (map[LeaseStatus]int, error)
	UpdateLeaseStatuses(ctx context.Context, ids []string, from, to LeaseStatus, at time.Time) (int64, error)

	InsertInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	DeleteInvoice(ctx context.Context, id string) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error)
	InvoiceExistsForDueDate(ctx context.Context, leaseID string, due time.Time) (bool, error)
	UpdateInvoiceStatuses(ctx context.Context, ids []string, from, to InvoiceStatus, at time.Time) (int64, error)

	InsertPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, invoiceID string) ([]*Payment, error)
}

// LeaseQuery is LeaseFilter plus the date bounds the engine uses internally.
type LeaseQuery struct {
	LeaseFilter
	// Overlapping keeps leases whose [start, end] intersects the range.
	Overlapping *types.DateRange
	EndFrom     *time.Time
	EndTo       *time.Time
	ExcludeID   string
}

// UnitDirectory is the external unit directory. Calls made inside a
// Repository transaction must participate in it.
type UnitDirectory interface {
	GetUnit(ctx context.Context, id string) (*Unit, error)
	SetUnitStatus(ctx context.Context, id string, status UnitStatus) error
}

// Notifier is the best-effort notification sink. The engine calls it after
// commit and never fails an operation because of it.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n types.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n types.Notification) error {
	return f(ctx, n)
}
