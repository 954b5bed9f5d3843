package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/mgmtd/api"
	"github.com/jmcleod/mgmtd/auth"
	"github.com/jmcleod/mgmtd/internal/config"
	"github.com/jmcleod/mgmtd/storage"
	bboltstorage "github.com/jmcleod/mgmtd/storage/bbolt"
	"github.com/jmcleod/mgmtd/userdir"
)

var serverFlags struct {
	listen      string
	dataDir     string
	keyPath     string
	development bool
	tlsCert     string
	tlsKey      string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the management API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err := newLogger(cfg, os.Stderr)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.StringVarP(&serverFlags.listen, "listen", "l", "", "Address to listen on")
	f.StringVar(&serverFlags.dataDir, "data-dir", "", "Directory for persistent data")
	f.StringVar(&serverFlags.keyPath, "key-path", "", "Path to the system API key file")
	f.BoolVar(&serverFlags.development, "development", false, "Include tracebacks in internal error responses")
	f.StringVar(&serverFlags.tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&serverFlags.tlsKey, "tls-key", "", "Path to TLS key file")
}

// applyServerFlags lets explicitly set flags win over the config file.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = serverFlags.listen
	}
	if f.Changed("data-dir") {
		cfg.DataDir = serverFlags.dataDir
	}
	if f.Changed("key-path") {
		cfg.KeyPath = serverFlags.keyPath
	}
	if f.Changed("development") {
		cfg.Development = serverFlags.development
	}
	if f.Changed("tls-cert") {
		cfg.TLSCert = serverFlags.tlsCert
	}
	if f.Changed("tls-key") {
		cfg.TLSKey = serverFlags.tlsKey
	}
}

// stack is the wired application: the user directory, the auth service
// and the HTTP API on top of one repository.
type stack struct {
	api  *api.API
	auth *auth.Service
}

func (s *stack) Close() {
	s.api.Close()
	s.auth.Close()
}

// buildStack loads or creates the system key and wires every component
// onto repo.
func buildStack(cfg *config.Config, repo storage.Repository, logger *slog.Logger) (*stack, error) {
	key, err := auth.LoadOrCreateSystemKey(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading system key: %w", err)
	}
	sealKey, err := key.DeriveKey(userdir.SealKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving user directory key: %w", err)
	}
	users := userdir.New(repo, sealKey)

	svc, err := auth.New(users,
		auth.WithSystemKey(key),
		auth.WithVerifyTimeout(cfg.VerifyTimeout.Duration),
		auth.WithSweepInterval(cfg.SweepInterval.Duration),
	)
	if err != nil {
		return nil, err
	}

	proxies, err := api.WithTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		svc.Close()
		return nil, err
	}
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithAdminPath(cfg.AdminPath),
		api.WithDevelopment(cfg.Development),
		api.WithAlertFunc(func(alert api.AlertEvent) {
			logger.Warn(alert.Message,
				slog.String("alert", string(alert.Type)),
				slog.Int("count", alert.Count),
				slog.Int("threshold", alert.Threshold))
		}),
		proxies,
	}
	if cfg.Audit.Persist {
		opts = append(opts, api.WithAuditStore(repo))
	}
	if cfg.Audit.WebhookURL != "" {
		opts = append(opts, api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader))
	}
	return &stack{api: api.New(svc, users, opts...), auth: svc}, nil
}

func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.DBPath(), &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer repo.Close()

	st, err := buildStack(cfg, repo, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go st.api.SweepLoop(ctx, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/", st.api.Handler())

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()

	printBanner(os.Stdout)
	logger.Info("server started",
		slog.String("listen", cfg.Listen),
		slog.String("admin_path", st.api.AdminPath()),
		slog.Bool("tls", server.TLSConfig != nil),
		slog.String("data_dir", cfg.DataDir),
		slog.String("version", Version))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
