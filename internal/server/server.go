// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/matthewbaird/rentroll/internal/activity"
	"github.com/matthewbaird/rentroll/internal/billing"
	"github.com/matthewbaird/rentroll/internal/eventbus"
	"github.com/matthewbaird/rentroll/internal/handler"
)

// Pinger reports datastore health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	Addr          string
	Engine        *billing.Engine
	Units         handler.UnitStore
	Sweeps        handler.SweepRunner
	Notifications activity.Store
	Bus           *eventbus.Bus
	DB            Pinger
	Log           zerolog.Logger
}

// Router builds the route tree.
func Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(handler.Recovery(cfg.Log))
	r.Use(handler.Logging(cfg.Log))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.DB.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		lh := handler.NewLeaseHandler(cfg.Engine, cfg.Log)
		r.Post("/leases", lh.CreateLease)
		r.Get("/leases", lh.ListLeases)
		r.Get("/leases/stats", lh.GetLeaseStats)
		r.Get("/leases/{id}", lh.GetLease)
		r.Patch("/leases/{id}", lh.UpdateLease)
		r.Post("/leases/{id}/terminate", lh.TerminateLease)
		r.Post("/leases/{id}/generate-invoice", lh.GenerateInvoice)

		ih := handler.NewInvoiceHandler(cfg.Engine, cfg.Log)
		r.Post("/invoices", ih.CreateInvoice)
		r.Get("/invoices", ih.ListInvoices)
		r.Get("/invoices/stats", ih.GetInvoiceStats)
		r.Get("/invoices/overdue", ih.GetOverdueInvoices)
		r.Get("/invoices/upcoming", ih.GetUpcomingInvoices)
		r.Get("/invoices/{id}", ih.GetInvoice)
		r.Patch("/invoices/{id}", ih.UpdateInvoice)
		r.Delete("/invoices/{id}", ih.DeleteInvoice)
		r.Post("/invoices/{id}/payments", ih.RecordPayment)
		r.Get("/invoices/{id}/payments", ih.ListPayments)

		if cfg.Units != nil {
			uh := handler.NewUnitHandler(cfg.Units, cfg.Log)
			r.Post("/units", uh.CreateUnit)
			r.Get("/units", uh.ListUnits)
			r.Get("/units/{id}", uh.GetUnit)
		}
		if cfg.Sweeps != nil {
			r.Post("/sweeps", handler.NewSweepHandler(cfg.Sweeps, cfg.Log).RunSweep)
		}
		if cfg.Notifications != nil {
			nh := handler.NewNotificationHandler(cfg.Notifications, cfg.Bus, cfg.Log)
			r.Get("/notifications", nh.ListNotifications)
			r.Get("/notifications/stream", nh.Stream)
		}
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config) error {
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Router(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		cfg.Log.Info().Str("addr", cfg.Addr).Msg("starting server")
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
