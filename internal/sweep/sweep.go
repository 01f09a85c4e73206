// Package sweep runs the scheduled billing batch: recurring invoice
// generation, overdue marking, lease expiry and the due and overdue
// reminders, in that order.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/billing"
	"github.com/matthewbaird/rentroll/internal/event"
	"github.com/matthewbaird/rentroll/internal/types"
)

// Stage names, in run order.
const (
	StageGenerateRecurring = "generate_recurring_invoices"
	StageMarkOverdue       = "mark_overdue_invoices"
	StageMarkExpired       = "mark_expired_leases"
	StageDueReminders      = "due_reminders"
	StageOverdueReminders  = "overdue_reminders"
)

const lockKey = "billing-sweep"

// Engine is the part of billing.Engine the sweep drives.
type Engine interface {
	ListActiveLeases(ctx context.Context) ([]*billing.Lease, error)
	GenerateRecurringInvoice(ctx context.Context, leaseID string) (*billing.GenerationResult, error)
	UpdateOverdueInvoices(ctx context.Context) ([]*billing.Invoice, error)
	UpdateExpiredLeases(ctx context.Context) ([]*billing.Lease, error)
	GetUpcomingInvoices(ctx context.Context, organizationID string, daysAhead int) ([]*billing.InvoiceContext, error)
	GetDelinquentInvoices(ctx context.Context, organizationID string) ([]*billing.InvoiceContext, error)
}

// ItemError is a failure isolated to one lease or invoice.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// StageResult reports one stage of a run.
type StageResult struct {
	Name       string      `json:"name"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Created    int         `json:"created"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	Errored    int         `json:"errored"`
	Touched    []string    `json:"touched"`
	Errors     []ItemError `json:"errors,omitempty"`
	// Err is set when the stage as a whole failed.
	Err string `json:"error,omitempty"`
}

func (r *StageResult) fail(id string, err error) {
	r.Errored++
	r.Errors = append(r.Errors, ItemError{ID: id, Error: err.Error()})
}

// Summary is the result of one run.
type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stages     []*StageResult `json:"stages"`
}

// Stage returns the result of the named stage, or nil.
func (s *Summary) Stage(name string) *StageResult {
	for _, st := range s.Stages {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// Failed reports whether any stage failed or isolated an item error.
func (s *Summary) Failed() bool {
	for _, st := range s.Stages {
		if st.Err != "" || st.Errored > 0 {
			return true
		}
	}
	return false
}

// Orchestrator runs the sweep stages. Runs are serialized by its Locker.
type Orchestrator struct {
	engine       Engine
	notifier     billing.Notifier
	locker       Locker
	lockTTL      time.Duration
	reminderDays []int
	now          func() time.Time
	log          zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.locker = l
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithReminderDays sets the due reminder cohorts, in days before the due date.
func WithReminderDays(days ...int) Option {
	return func(o *Orchestrator) { o.reminderDays = days }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New constructs an Orchestrator. Reminders go to notifier; a nil notifier
// counts every reminder as skipped.
func New(engine Engine, notifier billing.Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:       engine,
		notifier:     notifier,
		locker:       NewMutexLocker(),
		lockTTL:      15 * time.Minute,
		reminderDays: []int{7, 1},
		now:          time.Now,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one sweep. It fails only when the lock cannot be taken;
// stage and item failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	release, err := o.locker.Acquire(ctx, lockKey, o.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			o.log.Warn().Err(err).Msg("sweep lock release failed")
		}
	}()

	sum := &Summary{RunID: uuid.New().String(), StartedAt: o.now().UTC()}
	log := o.log.With().Str("run_id", sum.RunID).Logger()
	log.Info().Msg("sweep started")

	stages := []struct {
		name string
		fn   func(context.Context, *StageResult) error
	}{
		{StageGenerateRecurring, o.generateRecurring},
		{StageMarkOverdue, o.markOverdue},
		{StageMarkExpired, o.markExpired},
		{StageDueReminders, o.dueReminders},
		{StageOverdueReminders, func(ctx context.Context, res *StageResult) error {
			return o.overdueReminders(ctx, res, sum.Stage(StageMarkOverdue))
		}},
	}
	for _, st := range stages {
		res := &StageResult{Name: st.name, StartedAt: o.now().UTC(), Touched: []string{}}
		if err := o.runStage(ctx, st.fn, res); err != nil {
			res.Err = err.Error()
		}
		res.FinishedAt = o.now().UTC()
		sum.Stages = append(sum.Stages, res)

		for _, ie := range res.Errors {
			log.Warn().Str("stage", res.Name).Str("id", ie.ID).Str("error", ie.Error).Msg("item failed")
		}
		ev := log.Info()
		if res.Err != "" {
			ev = log.Error().Str("error", res.Err)
		}
		ev.Str("stage", res.Name).
			Int("created", res.Created).
			Int("updated", res.Updated).
			Int("skipped", res.Skipped).
			Int("errored", res.Errored).
			Msg("stage finished")
	}

	sum.FinishedAt = o.now().UTC()
	log.Info().Dur("took", sum.FinishedAt.Sub(sum.StartedAt)).Msg("sweep finished")
	return sum, nil
}

// runStage isolates a panicking stage so later stages still run.
func (o *Orchestrator) runStage(ctx context.Context, fn func(context.Context, *StageResult) error, res *StageResult) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("stage panicked: %v", v)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, res)
}

func (o *Orchestrator) generateRecurring(ctx context.Context, res *StageResult) error {
	leases, err := o.engine.ListActiveLeases(ctx)
	if err != nil {
		return fmt.Errorf("listing active leases: %w", err)
	}
	for _, l := range leases {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen, err := o.engine.GenerateRecurringInvoice(ctx, l.ID)
		if err != nil {
			res.fail(l.ID, err)
			continue
		}
		switch gen.Outcome {
		case billing.OutcomeCreated:
			res.Created++
			res.Touched = append(res.Touched, gen.Invoice.ID)
		default:
			res.Skipped++
		}
	}
	return nil
}

func (o *Orchestrator) markOverdue(ctx context.Context, res *StageResult) error {
	moved, err := o.engine.UpdateOverdueInvoices(ctx)
	if err != nil {
		return err
	}
	for _, inv := range moved {
		res.Touched = append(res.Touched, inv.ID)
	}
	res.Updated = len(moved)
	return nil
}

func (o *Orchestrator) markExpired(ctx context.Context, res *StageResult) error {
	expired, err := o.engine.UpdateExpiredLeases(ctx)
	if err != nil {
		return err
	}
	for _, l := range expired {
		res.Touched = append(res.Touched, l.ID)
	}
	res.Updated = len(expired)
	return nil
}

// dueReminders notifies each pending invoice due in exactly one of the
// reminder cohorts' day counts.
func (o *Orchestrator) dueReminders(ctx context.Context, res *StageResult) error {
	days := slices.Clone(o.reminderDays)
	slices.Sort(days)
	days = slices.Compact(days)
	if len(days) == 0 || days[0] < 1 {
		return errors.New("reminder days must be positive")
	}
	upcoming, err := o.engine.GetUpcomingInvoices(ctx, "", days[len(days)-1])
	if err != nil {
		return err
	}
	for _, c := range upcoming {
		if !slices.Contains(days, c.DaysUntilDue) {
			continue
		}
		o.remind(ctx, res, c.Invoice.ID, event.NewInvoiceDueReminder(billing.InvoiceNotificationPayload(c, c.DaysUntilDue)))
	}
	return nil
}

// overdueReminders notifies every overdue invoice except the ones marked
// overdue earlier in the same run, which already got an overdue notice.
func (o *Orchestrator) overdueReminders(ctx context.Context, res, marked *StageResult) error {
	overdue, err := o.engine.GetDelinquentInvoices(ctx, "")
	if err != nil {
		return err
	}
	var fresh []string
	if marked != nil {
		fresh = marked.Touched
	}
	for _, c := range overdue {
		if slices.Contains(fresh, c.Invoice.ID) {
			res.Skipped++
			continue
		}
		o.remind(ctx, res, c.Invoice.ID, event.NewInvoiceOverdueReminder(billing.InvoiceNotificationPayload(c, c.DaysOverdue)))
	}
	return nil
}

func (o *Orchestrator) remind(ctx context.Context, res *StageResult, invoiceID string, n types.Notification) {
	if o.notifier == nil {
		res.Skipped++
		return
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		res.fail(invoiceID, err)
		return
	}
	res.Created++
	res.Touched = append(res.Touched, invoiceID)
}
