package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/rentroll/internal/config"
	"github.com/matthewbaird/rentroll/internal/logger"
)

var version = "0.1.0"

var (
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rentroll",
	Short: "Lease and invoice billing engine",
	Long: `rentroll manages leases, issues rent invoices, records payments and runs
the daily billing sweep that generates recurring invoices, marks overdue
invoices and expired leases, and sends due and overdue reminders.

Configuration is read from the environment, optionally seeded from a .env
file: DATABASE_URL, PORT, SWEEP_SCHEDULE, SWEEP_TIMEOUT, REMINDER_DAYS,
EXPIRING_WINDOW_DAYS, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, LOCK_TTL,
EVENT_BUFFER, LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT, ATLAS_BIN, ATLAS_DEV_URL.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		c, err := config.Load(files...)
		if err != nil {
			return err
		}
		if _, err := logger.Setup(c.GetLoggerConfig()); err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
