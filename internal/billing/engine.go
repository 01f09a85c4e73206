// Package billing is the lease and invoice billing engine: the lease
// lifecycle, invoice generation (manual and recurring), the payment ledger,
// and the batch transitions the sweep runs.
package billing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/types"
)

// DefaultPageSize applies to list reads that do not set a limit.
const DefaultPageSize = 50

// Engine implements every billing operation on top of a Repository and the
// external unit directory. It is safe for concurrent use.
type Engine struct {
	repo           Repository
	units          UnitDirectory
	notifier       Notifier
	now            func() time.Time
	log            zerolog.Logger
	validate       *validator.Validate
	expiringWindow int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's notion of now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithExpiringWindow sets how many days ahead GetLeaseStats counts a lease
// as expiring.
func WithExpiringWindow(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.expiringWindow = days
		}
	}
}

// NewEngine constructs an Engine.
func NewEngine(repo Repository, units UnitDirectory, opts ...Option) *Engine {
	e := &Engine{
		repo:           repo,
		units:          units,
		now:            time.Now,
		log:            zerolog.Nop(),
		validate:       newValidator(),
		expiringWindow: 30,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func (e *Engine) timestamp() time.Time { return e.now().UTC() }

func (e *Engine) today() time.Time { return types.Date(e.now()) }

// check runs struct-tag validation and converts failures to a ValidationError.
func (e *Engine) check(v any) error {
	err := e.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "gtfield":
			msgs = append(msgs, fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return ValidationError("%s", strings.Join(msgs, "; "))
}

// emit delivers notifications after commit. Failures are logged and dropped.
func (e *Engine) emit(ctx context.Context, notes ...types.Notification) {
	if e.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := e.notifier.Notify(ctx, n); err != nil {
			e.log.Warn().Err(err).
				Str("type", n.Type).
				Str("notification_id", n.ID).
				Msg("notification failed")
		}
	}
}
