package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ariga.io/atlas-go-sdk/atlasexec"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/rentroll/internal/logger"
	"github.com/matthewbaird/rentroll/internal/store"
)

var (
	useAtlas bool
	dryRun   bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply the embedded schema to DATABASE_URL. By default the idempotent DDL
is executed directly. With --atlas the schema is applied declaratively
through the atlas CLI (ATLAS_BIN), which diffs the live database against the
schema on ATLAS_DEV_URL and runs only the changes.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&useAtlas, "atlas", false, "apply the schema through atlas")
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "with --atlas, print the planned changes without applying them")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	log := logger.WithComponent("migrate")
	if !useAtlas {
		st, err := store.Open(cmd.Context(), cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Migrate(cmd.Context())
	}

	dir, err := os.MkdirTemp("", "rentroll-schema")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	if err := os.WriteFile(filepath.Join(dir, "schema.sql"), []byte(store.Schema), 0o600); err != nil {
		return err
	}

	client, err := atlasexec.NewClient(dir, cfg.AtlasBin)
	if err != nil {
		return fmt.Errorf("initializing atlas client: %w", err)
	}
	res, err := client.SchemaApply(cmd.Context(), &atlasexec.SchemaApplyParams{
		URL:         atlasURL(cfg.DatabaseURL),
		To:          "file://schema.sql",
		DevURL:      cfg.AtlasDevURL,
		DryRun:      dryRun,
		AutoApprove: true,
	})
	if err != nil {
		return fmt.Errorf("atlas schema apply: %w", err)
	}
	for _, stmt := range res.Changes.Pending {
		fmt.Println(stmt)
	}
	log.Info().
		Int("applied", len(res.Changes.Applied)).
		Int("pending", len(res.Changes.Pending)).
		Bool("dry_run", dryRun).
		Msg("atlas schema apply finished")
	return nil
}

// atlasURL converts a modernc sqlite DSN such as
// "file:rentroll.db?_pragma=..." into atlas's "sqlite://rentroll.db".
func atlasURL(dsn string) string {
	if strings.Contains(dsn, "://") {
		return dsn
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return "sqlite://" + path
}
