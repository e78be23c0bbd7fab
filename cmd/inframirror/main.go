package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/api"
	"github.com/fuomag9/inframirror/internal/classify"
	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/database"
	"github.com/fuomag9/inframirror/internal/engine"
	"github.com/fuomag9/inframirror/internal/jobs"
	"github.com/fuomag9/inframirror/internal/logger"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/monitor"
	"github.com/fuomag9/inframirror/internal/notification"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
	"github.com/fuomag9/inframirror/internal/websocket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "inframirror",
		Short:        "Self-hosted uptime monitoring",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newCheckCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the heartbeat engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			log.Info("Migrations applied", zap.String("database", cfg.Database.Type))
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	m := models.NewMonitor()
	var port int
	var keyword string

	cmd := &cobra.Command{
		Use:   "check [target]",
		Short: "Probe a target once and print the heartbeat as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m.Name = args[0]
			m.URL = args[0]
			if port > 0 || keyword != "" {
				m.Config = map[string]any{}
				if port > 0 {
					m.Config["port"] = float64(port)
				}
				if keyword != "" {
					m.Config["keyword"] = keyword
				}
			}
			if err := monitor.Validate(&m); err != nil {
				return err
			}

			out := monitor.NewRunner(classify.Accept).Run(cmd.Context(), &m)
			if out.Cancelled {
				return errors.New("check cancelled")
			}
			verdict := classify.Classify(&m, out.Result)
			hb := classify.NewHeartbeat(&m, out, verdict, out.StartedAt)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(hb); err != nil {
				return err
			}
			if !hb.Success {
				return fmt.Errorf("check failed: %s", hb.Status)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&m.Type, "type", models.TypeHTTP, "monitor type (http, ping, tcp, dns, docker)")
	f.StringVar(&m.Method, "method", m.Method, "HTTP method")
	f.IntVar(&m.TimeoutSeconds, "timeout", m.TimeoutSeconds, "per-attempt timeout in seconds")
	f.IntVar(&m.RetryCount, "retries", 0, "retries after a failed attempt")
	f.IntVar(&m.RetryDelaySeconds, "retry-delay", 1, "seconds between attempts")
	f.StringVar(&m.ExpectedStatusCodes, "expect", m.ExpectedStatusCodes, "accepted HTTP status codes")
	f.IntVar(&m.ResponseTimeWarningMs, "warn-ms", 0, "response time that marks the check degraded")
	f.IntVar(&m.ResponseTimeCriticalMs, "critical-ms", 0, "response time that fails the check")
	f.BoolVar(&m.IgnoreTLSError, "insecure", false, "ignore TLS certificate errors")
	f.IntVar(&port, "port", 0, "port for tcp checks")
	f.StringVar(&keyword, "keyword", "", "keyword the response body must contain")
	return cmd
}

// setup loads the configuration and builds the logger
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.Log)
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	return cfg, log, nil
}

func openDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.RunMigrations(db, cfg.Database); err != nil {
		closeDatabase(db)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("Database ready", zap.String("type", cfg.Database.Type))
	return db, nil
}

func closeDatabase(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func runServe(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(db)
	s := store.New(db)

	created, err := api.BootstrapAdmin(ctx, s, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, cfg.Auth.AdminPasswordHash)
	if err != nil {
		return err
	}
	if created {
		log.Info("Admin user created", zap.String("username", cfg.Auth.AdminUsername))
	}

	if cfg.AllowPrivateIPs {
		monitor.RegisterProber(monitor.NewHTTPProber(true))
		log.Warn("Private and loopback targets are allowed for HTTP monitors")
	}

	hub := websocket.NewHub(api.WebSocketAuthenticator(cfg.JWTSecret, s), cfg.CORSOrigins, log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	dispatcher := notification.NewDispatcher(s, log)

	eng := engine.New(cfg.Engine, s, hub, dispatcher, log)
	if err := eng.Start(ctx); err != nil {
		return err
	}

	calc := uptime.NewCalculator(db, cfg.Uptime.CacheTTL)

	scheduler := jobs.NewScheduler(s, cfg.Retention, eng.Policy, log)
	if err := scheduler.Start(); err != nil {
		eng.Stop(context.Background())
		return fmt.Errorf("failed to start job scheduler: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		Store:      s,
		Engine:     eng,
		Uptime:     calc,
		Hub:        hub,
		Dispatcher: dispatcher,
		Logger:     log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		if runErr != nil {
			log.Error("Server failed", zap.Error(runErr))
		}
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop()
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error("Engine did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exited")
	return runErr
}
