package main

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // profiling endpoints alongside /metrics
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/taskforge/pkg/auth"
	"github.com/cuemby/taskforge/pkg/config"
	"github.com/cuemby/taskforge/pkg/log"
	"github.com/cuemby/taskforge/pkg/manager"
	"github.com/cuemby/taskforge/pkg/metrics"
)

var (
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
	Use:     "taskforge-manager",
	Short:   "taskforge-manager - distributed task-execution manager",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"taskforge-manager version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the manager, accepting worker connections and dispatching tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		configPath, _ := cmd.Flags().GetString("config")
		projectName, _ := cmd.Flags().GetString("project-name")
		password, _ := cmd.Flags().GetString("password")
		keyFile, _ := cmd.Flags().GetString("key-file")
		certFile, _ := cmd.Flags().GetString("cert-file")
		workDir, _ := cmd.Flags().GetString("work-dir")
		txnLogPath, _ := cmd.Flags().GetString("txn-log")
		queueLogPath, _ := cmd.Flags().GetString("queue-log")
		catalogHosts, _ := cmd.Flags().GetStringSlice("catalog-host")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if projectName != "" {
			cfg.ProjectName = projectName
		}
		if password != "" {
			cfg.Password = password
		}
		if keyFile != "" {
			cfg.KeyFile = keyFile
		}
		if certFile != "" {
			cfg.CertFile = certFile
		}
		if workDir != "" {
			cfg.WorkDir = workDir
		}
		if txnLogPath != "" {
			cfg.TxnLogPath = txnLogPath
		}
		if queueLogPath != "" {
			cfg.QueueLogPath = queueLogPath
		}
		if len(catalogHosts) > 0 {
			cfg.CatalogHosts = catalogHosts
		}

		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			return fmt.Errorf("failed to create work dir: %w", err)
		}

		tlsConf, err := auth.LoadTLSConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}

		ln, err := net.Listen("tcp", bindAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
		}

		mgr := manager.New(cfg)

		if err := mgr.OpenCategoryStore(cfg.WorkDir); err != nil {
			return fmt.Errorf("failed to open category store: %w", err)
		}
		defer mgr.CloseCategoryStore()

		fmt.Printf("taskforge-manager listening for workers on %s\n", bindAddr)
		if tlsConf != nil {
			fmt.Println("  TLS: enabled")
		}
		if cfg.Password != "" {
			fmt.Println("  Authentication: enabled")
		}
		if len(cfg.CatalogHosts) > 0 {
			fmt.Printf("  Catalog hosts: %v\n", cfg.CatalogHosts)
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			for _, kind := range []string{"queue_status", "task_status", "worker_status", "resources_status", "wable_status"} {
				mux.HandleFunc("/"+kind, statusHandler(mgr, kind))
			}
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				fmt.Printf("metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Status endpoints: http://%s/{queue,task,worker,resources,wable}_status\n", metricsAddr)

		done := make(chan struct{})
		errCh := make(chan error, 1)
		go func() {
			if err := mgr.Run(ln, tlsConf, done); err != nil {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nmanager error: %v\n", err)
		}
		close(done)
		_ = ln.Close()

		return nil
	},
}

// statusHandler serves one of spec §6's HTTP introspection endpoints
// (queue_status, task_status, worker_status, resources_status,
// wable_status) by round-tripping into the manager's event loop, the
// same JSON documents available via the worker-link query verbs.
func statusHandler(mgr *manager.Manager, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := mgr.Status(kind)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if body == nil {
			w.WriteHeader(http.StatusNotFound)
			body = []byte(`{"error":"unknown status request"}`)
		}
		_, _ = w.Write(body)
	}
}

func init() {
	runCmd.Flags().String("bind-addr", "0.0.0.0:9123", "Address workers connect to")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9124", "Address for the Prometheus /metrics endpoint")
	runCmd.Flags().String("config", "", "Path to a YAML tunables file (spec §6)")
	runCmd.Flags().String("project-name", "", "Project name advertised to catalog hosts")
	runCmd.Flags().String("password", "", "Shared password for worker challenge/response authentication")
	runCmd.Flags().String("key-file", "", "TLS private key (enables TLS when set with --cert-file)")
	runCmd.Flags().String("cert-file", "", "TLS certificate (enables TLS when set with --key-file)")
	runCmd.Flags().String("work-dir", "", "Local root for retrieved task outputs (overrides config)")
	runCmd.Flags().String("txn-log", "", "Path to the transaction log (overrides config)")
	runCmd.Flags().String("queue-log", "", "Path to the periodic stats log (overrides config)")
	runCmd.Flags().StringSlice("catalog-host", nil, "Catalog host URL to advertise to (repeatable)")
}
