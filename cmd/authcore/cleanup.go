package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/email"
	"github.com/indigoroots/authcore/internal/logger"
)

// NewCleanupTokensCmd creates the cleanup-tokens subcommand.
func NewCleanupTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-tokens",
		Short: "Delete expired password-reset and verification tokens",
		Long: `Delete every password-reset and email-verification token whose expiry
has passed, then exit. Safe to run from cron alongside a serving process.
Refuses to run when tokens live in the in-process memory backend, which
only the serving process can see.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanupTokens(cmd, envconfig.OsLookuper())
		},
	}
}

func runCleanupTokens(cmd *cobra.Command, l envconfig.Lookuper) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rc, err := loadRuntimeConfig(ctx, l)
	if err != nil {
		return err
	}
	if rc.TokenBackend == backendMemory {
		return oops.Code("CONFIG_INVALID").Errorf("cleanup-tokens needs a shared token backend; TOKEN_BACKEND is %q", backendMemory)
	}
	log := logger.Init(logger.Options{Level: rc.LogLevel, Pretty: rc.LogPretty})

	cfg, err := authcore.LoadConfigWithLookuper(ctx, l)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load engine config").Wrap(err)
	}

	b, err := openBackends(ctx, rc, log)
	if err != nil {
		return err
	}
	defer b.close()

	engine, err := newEngine(cfg, b, email.NewLogSender(log), log)
	if err != nil {
		return oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	defer engine.Close()

	report := engine.CleanupExpiredTokens(ctx)
	logCleanup(log, report)
	cmd.Printf("Removed %d password-reset and %d verification tokens\n", report.PasswordResets, report.VerificationTokens)
	if len(report.Errors) > 0 {
		return oops.Code("CLEANUP_FAILED").Errorf("cleanup finished with %d errors", len(report.Errors))
	}
	return nil
}
