package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusgrid/campusgrid/pkg/config"
	"github.com/campusgrid/campusgrid/pkg/events"
	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/manager"
	"github.com/campusgrid/campusgrid/pkg/metrics"
	"github.com/campusgrid/campusgrid/pkg/store"
	"github.com/campusgrid/campusgrid/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "campusgrid",
	Short: "CampusGrid - P2P compute sharing for campus hardware",
	Long: `CampusGrid turns idle lab machines into a shared compute grid.

A single manager schedules Python jobs onto volunteer worker nodes over
a lightweight TCP protocol. Submitters pay credits per job; worker
owners earn them back when their machines finish work.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"CampusGrid version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(activityCmd)
}

// loadConfig reads the config file named by --config (defaults applied,
// env overrides on top) and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	return cfg, nil
}

// Manager commands
var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run and inspect the grid manager",
}

var managerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the grid manager",
	Long: `Start the grid manager: the TCP server workers connect to, the
job queue, the credit ledger and the Prometheus metrics endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyManagerFlags(cmd, &cfg.Manager)

		fmt.Println("Starting CampusGrid manager...")
		fmt.Printf("  Listen Address: %s:%d\n", cfg.Manager.Host, cfg.Manager.Port)
		fmt.Printf("  Metrics Address: %s\n", cfg.Manager.MetricsAddr)
		fmt.Printf("  Database: %s\n", cfg.Manager.DBPath)
		fmt.Printf("  Output Directory: %s\n", cfg.Manager.OutputDir)
		fmt.Println()

		metrics.SetVersion(Version)

		st, err := store.Open(cfg.Manager.DBPath, store.Options{
			StartingCredits: cfg.Manager.StartingCredits,
			MinJobCost:      cfg.Manager.MinJobCost,
			MaxJobAttempts:  cfg.Manager.MaxJobRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		metrics.RegisterComponent("store", true, "database open")
		fmt.Println("✓ Store opened")

		broker := events.NewBroker()
		broker.Start()

		mgr := manager.New(cfg.Manager, st, broker)
		mgr.Start()

		srv := manager.NewServer(mgr, cfg.Manager)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		fmt.Printf("✓ Accepting workers on %s\n", srv.Addr())

		collector := metrics.NewCollector(st)
		collector.Start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		httpSrv := &http.Server{Addr: cfg.Manager.MetricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server failed", err)
			}
		}()
		fmt.Printf("✓ Metrics on http://%s/metrics\n", cfg.Manager.MetricsAddr)

		fmt.Println()
		fmt.Println("Manager is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
		collector.Stop()
		srv.Stop()
		mgr.Stop()
		broker.Stop()
		if err := st.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func applyManagerFlags(cmd *cobra.Command, cfg *config.Manager) {
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath, _ = cmd.Flags().GetString("db")
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.OutputDir, _ = cmd.Flags().GetString("output-dir")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
}

// Worker commands
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run and manage worker nodes",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker node and donate this machine's compute",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyWorkerFlags(cmd, &cfg.Worker)

		fmt.Println("Starting CampusGrid worker...")
		fmt.Printf("  Manager: %s\n", cfg.Worker.ManagerAddr())
		fmt.Printf("  Worker Name: %s\n", cfg.Worker.Name)
		fmt.Printf("  Docker Sandbox: %v\n", cfg.Worker.UseDocker)
		fmt.Println()

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := worker.New(cfg.Worker)
		if err := w.Run(ctx); err != nil {
			return err
		}

		fmt.Println("✓ Worker stopped")
		return nil
	},
}

func applyWorkerFlags(cmd *cobra.Command, cfg *config.Worker) {
	if cmd.Flags().Changed("manager-host") {
		cfg.ManagerHost, _ = cmd.Flags().GetString("manager-host")
	}
	if cmd.Flags().Changed("manager-port") {
		cfg.ManagerPort, _ = cmd.Flags().GetInt("manager-port")
	}
	if cmd.Flags().Changed("name") {
		cfg.Name, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("owner-token") {
		cfg.OwnerToken, _ = cmd.Flags().GetString("owner-token")
	}
	if cmd.Flags().Changed("no-docker") {
		cfg.UseDocker = false
	}
	if cmd.Flags().Changed("image") {
		cfg.DockerImage, _ = cmd.Flags().GetString("image")
	}
}

func init() {
	managerCmd.AddCommand(managerStartCmd)
	workerCmd.AddCommand(workerStartCmd)

	managerStartCmd.Flags().String("host", "0.0.0.0", "Address to listen on")
	managerStartCmd.Flags().Int("port", 9999, "Port to listen on")
	managerStartCmd.Flags().String("db", "campus_compute.db", "SQLite database path")
	managerStartCmd.Flags().String("output-dir", "job_outputs", "Directory for job artifacts")
	managerStartCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP address")

	workerStartCmd.Flags().String("manager-host", "localhost", "Manager hostname")
	workerStartCmd.Flags().Int("manager-port", 9999, "Manager port")
	workerStartCmd.Flags().String("name", "", "Worker name (defaults to worker-<pid>)")
	workerStartCmd.Flags().String("owner-token", "", "Owner token so completed jobs credit your account")
	workerStartCmd.Flags().Bool("no-docker", false, "Run jobs in the restricted subprocess sandbox")
	workerStartCmd.Flags().String("image", "python:3.11-slim", "Container image for the Docker sandbox")
}
