package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/internal/httpapi"
	"github.com/indigoroots/authcore/internal/logger"
	"github.com/indigoroots/authcore/metrics/export/prometheus"
	"github.com/indigoroots/authcore/oauth"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth API and role-gated pages",
		Long: `Serve /api/auth, the role-gated pages, /healthz, and /metrics (when
METRICS_ENABLED is set). Expired tokens are purged every TOKEN_CLEANUP_INTERVAL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, envconfig.OsLookuper(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func runServe(ctx context.Context, l envconfig.Lookuper, addr string) error {
	rc, err := loadRuntimeConfig(ctx, l)
	if err != nil {
		return err
	}
	if addr != "" {
		rc.HTTPAddr = addr
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

	engine, err := newEngine(cfg, b, newSender(rc, log), log)
	if err != nil {
		return oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	defer engine.Close()

	server, err := newServer(rc, cfg, engine, log)
	if err != nil {
		return err
	}

	go runCleanupLoop(ctx, engine, rc.CleanupInterval, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", rc.HTTPAddr).Str("store", rc.StoreBackend).Str("tokens", rc.TokenBackend).Msg("authcore listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rc.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// newServer wires the cookie store, OAuth providers, and metrics endpoint
// into an http.Server.
func newServer(rc runtimeConfig, cfg authcore.Config, engine *authcore.Engine, log zerolog.Logger) (*http.Server, error) {
	cookies, err := newCookieStore(rc, cfg.Session, log)
	if err != nil {
		return nil, err
	}
	providers, err := oauth.NewRegistryFromConfig(rc.OAuth)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "configure oauth").Wrap(err)
	}
	if names := providers.Providers(); len(names) > 0 {
		log.Info().Strs("providers", names).Msg("oauth enabled")
	}

	handler, err := httpapi.New(httpapi.Options{
		Engine:  engine,
		Cookies: cookies,
		OAuth:   providers,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = prometheus.NewExporter(engine).Handler()
	}

	return &http.Server{
		Addr: rc.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.RouterOptions{
			Handler: handler,
			Metrics: metrics,
			Logger:  log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func runCleanupLoop(ctx context.Context, engine *authcore.Engine, every time.Duration, log zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logCleanup(log, engine.CleanupExpiredTokens(ctx))
		}
	}
}

func logCleanup(log zerolog.Logger, report authcore.CleanupReport) {
	ev := log.Info()
	if len(report.Errors) > 0 {
		ev = log.Warn().Strs("errors", report.Errors)
	}
	ev.Int64("password_resets", report.PasswordResets).
		Int64("verification_tokens", report.VerificationTokens).
		Msg("expired tokens cleaned")
}
