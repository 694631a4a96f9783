package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halocore099/phone-repair-dashboard/controllers"
	"github.com/halocore099/phone-repair-dashboard/database"
	apperrors "github.com/halocore099/phone-repair-dashboard/errors"
	"github.com/halocore099/phone-repair-dashboard/middleware"
	"github.com/halocore099/phone-repair-dashboard/models"
	"github.com/halocore099/phone-repair-dashboard/routes"
	servicepkg "github.com/halocore099/phone-repair-dashboard/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	serve := newServeCommand()
	cmd := &cobra.Command{
		Use:           "catalog-sync",
		Short:         "Keep the storefront catalog in line with the repair shop database",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.AddCommand(serve)
	cmd.AddCommand(newSyncCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the scheduled sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func runServer(ctx context.Context) error {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := newApp(ctx, cfg, appOptions{lazyDB: true})
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
	if err := database.Ping(probeCtx, a.db); err != nil {
		log.Error("Database connection failed at startup", zap.Error(err))
	} else {
		log.Info("Database connection successful")
	}
	cancelProbe()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.MetricsMiddleware(a.metrics, controllers.ServiceName))
	r.Use(apperrors.ErrorMiddleware())

	syncController := controllers.NewSyncController(a.sync, a.repo, a.limiter, log)
	routes.RegisterSyncRoutes(r, syncController)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		servicepkg.NewSyncScheduler(a.sync, cfg.SyncInterval, cfg.SyncOnStart, log).Run(schedCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	log.Info("Catalog sync server started", zap.String("port", cfg.Port))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
		}
	}
	log.Info("Shutting down catalog sync server...")

	cancelSched()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	<-schedDone
	log.Info("Server exited cleanly")
	return nil
}

type syncFlags struct {
	limit  int
	dryRun bool
	format string
}

func newSyncCommand() *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation and print the report",
		Long: `Run one reconciliation of the local catalog against the storefront.

Example:
  catalog-sync sync --dry-run
  catalog-sync sync --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.format != "text" && flags.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", flags.format)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cmd.OutOrStdout(), flags)
		},
	}
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "only consider the first N catalog rows (0 = all)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "classify and report without writing to the storefront")
	cmd.Flags().StringVar(&flags.format, "format", "text", "output format (text|json)")
	return cmd
}

func runSync(ctx context.Context, out io.Writer, flags *syncFlags) error {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Logs go to stderr so the report can be piped.
	a, err := newApp(ctx, cfg, appOptions{console: os.Stderr})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.sync.Sync(ctx, models.SyncOptions{Limit: flags.limit, DryRun: flags.dryRun})
	if err != nil {
		return err
	}
	return printReport(out, report, flags.format)
}

func printReport(w io.Writer, r *models.SyncReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	mode := "live"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(w, "Sync %s (%s) finished in %s\n", r.RunID, mode, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  considered: %d\n", r.TotalConsidered)
	fmt.Fprintf(w, "  created:    %d\n", r.Created)
	fmt.Fprintf(w, "  updated:    %d\n", r.Updated)
	fmt.Fprintf(w, "  unchanged:  %d\n", r.Unchanged)
	fmt.Fprintf(w, "  failed:     %d\n", r.Failed)
	fmt.Fprintf(w, "  no sku:     %d\n", r.SkippedNoSKU)
	for _, d := range r.Details {
		if d.Status == models.StatusFailed {
			fmt.Fprintf(w, "  FAILED %s (%s): %s\n", d.SKU, d.Name, d.Reason)
		}
	}
	return nil
}
