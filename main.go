// Usage Agent: per-machine usage sampling and a central collector with dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/neomars/usage-agent-windows/internal/agent"
	"github.com/neomars/usage-agent-windows/internal/config"
	"github.com/neomars/usage-agent-windows/internal/logging"
	"github.com/neomars/usage-agent-windows/internal/sdnotify"
	"github.com/neomars/usage-agent-windows/internal/server"
	"github.com/neomars/usage-agent-windows/internal/telemetry"
)

const banner = `
  _   _                         _                    _
 | | | |___  __ _  __ _  ___   / \   __ _  ___ _ __ | |_
 | | | / __|/ _' |/ _' |/ _ \ / _ \ / _' |/ _ \ '_ \| __|
 | |_| \__ \ (_| | (_| |  __// ___ \ (_| |  __/ | | | |_
  \___/|___/\__,_|\__, |\___/_/   \_\__, |\___|_| |_|\__|
                  |___/             |___/
`

const version = "v0.3.0"

func printBanner(mode string) {
	fmt.Print(banner)
	fmt.Printf("  ► Usage Agent %s  |  Mode: %s\n\n", version, mode)
}

func main() {
	root := &cobra.Command{
		Use:   "usage-agent",
		Short: "Usage Agent: endpoint usage sampling and central collector",
		Long: `Usage Agent runs on each Windows workstation, samples CPU, GPU, disk and the
foreground window, keeps a daily local log and reports to a central collector.
The collector stores reports and serves an authenticated alert dashboard.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (default ./config.yaml or ~/.usage-agent/config.yaml)")

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the collector (dual-port: 5000 data + 6677 control)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runServer(cfg)
		},
	}

	// ── agent subcommand ──────────────────────────────────────────────────────
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the usage agent on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("AGENT")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// CLI flags override config values.
			if addr, _ := cmd.Flags().GetString("server"); addr != "" {
				if !containsPort(addr) {
					addr = fmt.Sprintf("%s:%d", addr, cfg.DataPort)
				}
				cfg.ServerAddress = addr
			}
			if folder, _ := cmd.Flags().GetString("log-folder"); folder != "" {
				cfg.LogFolder = folder
			}
			if err := cfg.ValidateAgent(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			target := cfg.ServerAddress
			if target == "" {
				target = "(none, local log only)"
			}
			fmt.Printf("  ✓ Collector:       %s\n", target)
			fmt.Printf("  ✓ Log folder:      %s (keep %d days)\n", cfg.LogFolder, cfg.LogRetentionDays)
			fmt.Printf("  ✓ Sample interval: %ds\n\n", cfg.SampleIntervalSeconds)
			return runAgent(cfg)
		},
	}
	agentCmd.Flags().String("server", "", "Collector data-plane address, e.g. 192.168.1.10 or 192.168.1.10:5000")
	agentCmd.Flags().String("log-folder", "", "Folder for the daily local log files (overrides config)")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print Usage Agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Usage Agent %s\n", version)
		},
	}

	root.AddCommand(serverCmd, agentCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// setup builds the process-wide logger and metrics.
func setup(ctx context.Context, cfg *config.Config, service string) (zerolog.Logger, *telemetry.Metrics, error) {
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Debug: cfg.LogDebug})
	if err != nil {
		log.Warn().Err(err).Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
	}
	log = log.With().Str("service", service).Logger()

	metrics, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    service,
		ServiceVersion: version,
		Exporter:       cfg.MetricsExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return log, nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return log, metrics, nil
}

func newNotifier(log zerolog.Logger) *sdnotify.Notifier {
	log = logging.WithComponent(log, "systemd")
	if sdnotify.UnderSystemd() {
		log.Info().Msg("running under systemd; readiness will be reported")
	}
	return sdnotify.New(log)
}

func shutdownMetrics(metrics *telemetry.Metrics, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("flushing metrics")
	}
}

func runAgent(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, metrics, err := setup(ctx, cfg, "usage-agent")
	if err != nil {
		return err
	}
	defer shutdownMetrics(metrics, log)

	notify := newNotifier(log)
	ready := func() {
		notify.Ready()
		notify.StartWatchdog(ctx, func() bool { return true })
	}

	err = agent.Run(ctx, cfg, metrics, logging.WithComponent(log, "agent"), ready)
	notify.Stopping()
	return err
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, metrics, err := setup(ctx, cfg, "usage-collector")
	if err != nil {
		return err
	}
	defer shutdownMetrics(metrics, log)

	store, err := server.OpenStore(server.DBConfigFromConfig(cfg), logging.WithComponent(log, "db"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	auth, err := server.NewAuth(cfg.JWTSecret, cfg.AdminUser, cfg.AdminPass)
	if err != nil {
		return err
	}

	srv := server.New(store,
		server.NewIngestor(store.DB(), time.Local, metrics, logging.WithComponent(log, "ingest")),
		server.NewAlertEvaluator(store, server.AlertThresholdsFromConfig(cfg)),
		auth,
		logging.WithComponent(log, "http"))

	gin.SetMode(gin.ReleaseMode)
	ctrlAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ControlPort)
	dataAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.DataPort)

	fmt.Printf("  ✓ Control plane (Web UI + JWT API) → http://%s\n", ctrlAddr)
	fmt.Printf("  ✓ Data    plane (Agent reports)    → http://%s\n", dataAddr)
	fmt.Printf("  ✓ Database:                          %s\n\n", cfg.DBDriver)

	// Run both servers concurrently; shut down gracefully on SIGINT/SIGTERM.
	ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: srv.ControlEngine(), ReadHeaderTimeout: 10 * time.Second}
	dataSrv := &http.Server{Addr: dataAddr, Handler: srv.DataEngine(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() { errCh <- ctrlSrv.ListenAndServe() }()
	go func() { errCh <- dataSrv.ListenAndServe() }()

	notify := newNotifier(log)
	notify.Ready()
	notify.StartWatchdog(ctx, func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return store.Ping(pingCtx) == nil
	})
	log.Info().Str("control", ctrlAddr).Str("data", dataAddr).Msg("collector started")

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	case <-ctx.Done():
		fmt.Println("\n  → Shutting down gracefully…")
	}

	notify.Stopping()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ctrlSrv.Shutdown(shutdownCtx)
	_ = dataSrv.Shutdown(shutdownCtx)
	return runErr
}

// containsPort checks whether addr already has a port suffix.
func containsPort(addr string) bool {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return true
		}
		if addr[i] == '/' || addr[i] == ']' {
			break
		}
	}
	return false
}
