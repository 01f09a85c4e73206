package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/rentroll/internal/logger"
	"github.com/matthewbaird/rentroll/internal/server"
	"github.com/matthewbaird/rentroll/internal/sweep"
)

var noScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled billing sweep",
	Long: `Migrate the database, then serve the HTTP API, publish notifications on
the event bus and run the billing sweep on SWEEP_SCHEDULE until SIGINT or
SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without running scheduled sweeps")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logger.WithComponent("serve")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.bus.Start(ctx)
	defer a.bus.Stop()

	if !noScheduler {
		sched, err := sweep.NewScheduler(a.sweeper, cfg.SweepSchedule, cfg.SweepTimeout, logger.WithComponent("scheduler"))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	log.Info().Str("version", version).Msg("rentroll starting")
	return server.Run(ctx, server.Config{
		Addr:          cfg.Addr(),
		Engine:        a.engine,
		Units:         a.store,
		Sweeps:        a.sweeper,
		Notifications: a.feed,
		Bus:           a.bus,
		DB:            a.store,
		Log:           logger.WithComponent("http"),
	})
}
