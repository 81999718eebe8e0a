package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/indigoroots/authcore/store/postgres"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Apply all pending migrations to the PostgreSQL database at DATABASE_URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, envconfig.OsLookuper())
		},
	}
}

func runMigrate(cmd *cobra.Command, l envconfig.Lookuper) error {
	databaseURL, _ := l.Lookup("DATABASE_URL")
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.Println("Running migrations...")
	if err := postgres.Migrate(ctx, databaseURL); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
