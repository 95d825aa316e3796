package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/driverelay/internal/google"
	"github.com/teemow/driverelay/internal/instrumentation"
	"github.com/teemow/driverelay/internal/logging"
	"github.com/teemow/driverelay/internal/server"
	"github.com/teemow/driverelay/internal/staging"
)

// Token store types.
const (
	TokenStoreFile   = "file"
	TokenStoreMemory = "memory"
)

// Defaults for serve flags.
const (
	defaultOAuthClientFile = "oauth-client.json"
)

// ServeConfig holds the relay settings gathered from flags and environment.
type ServeConfig struct {
	Port            string
	OAuthClientFile string
	TokenFile       string
	TokenStore      string
	UploadDir       string
	Debug           bool
	Metrics         MetricsConfig
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Validate checks settings that flags alone cannot enforce.
func (c ServeConfig) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.OAuthClientFile == "" {
		return fmt.Errorf("OAuth client file is required")
	}
	switch c.TokenStore {
	case TokenStoreFile:
		if c.TokenFile == "" {
			return fmt.Errorf("token file is required for the %s token store", TokenStoreFile)
		}
	case TokenStoreMemory:
	default:
		return fmt.Errorf("unsupported token store %q (supported: %s, %s)", c.TokenStore, TokenStoreFile, TokenStoreMemory)
	}
	return nil
}

// ListenAddr returns the address the relay binds to.
func (c ServeConfig) ListenAddr() string {
	return net.JoinHostPort("", c.Port)
}

func newServeCmd() *cobra.Command {
	config := ServeConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Drive relay",
		Long: `Start the HTTP relay.

OAuth client:
  The Google OAuth client descriptor (the JSON file downloaded from the Google
  Cloud console) is read once at startup. Its first redirect URI must point at
  this server's /oauth2callback.

Token storage:
  file    (default) keep the token in --token-file with 0600 permissions
  memory  keep the token in memory only; consent is lost on restart`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadServeEnvVars(cmd, &config)
			if err := config.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runServe(ctx, config)
		},
	}

	cmd.Flags().StringVar(&config.Port, "port", server.DefaultPort, "Port to listen on. Can also use PORT env var.")
	cmd.Flags().StringVar(&config.OAuthClientFile, "oauth-client", defaultOAuthClientFile, "Path to the Google OAuth client JSON file. Can also use OAUTH_CLIENT_FILE env var.")
	cmd.Flags().StringVar(&config.TokenFile, "token-file", google.DefaultTokenFile, "Path to the stored OAuth token (file token store). Can also use TOKEN_FILE env var.")
	cmd.Flags().StringVar(&config.TokenStore, "token-store", TokenStoreFile, "Token storage: file or memory. Can also use TOKEN_STORE env var.")
	cmd.Flags().StringVar(&config.UploadDir, "upload-dir", staging.DefaultDir, "Directory for staging uploads. Can also use UPLOAD_DIR env var.")
	cmd.Flags().BoolVar(&config.Debug, "debug", false, "Enable debug logging")

	// Metrics server flags
	cmd.Flags().BoolVar(&config.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&config.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadServeEnvVars fills settings from environment variables.
// Environment variables only override flag values when the flag was not explicitly set.
func loadServeEnvVars(cmd *cobra.Command, config *ServeConfig) {
	envString := func(flag, env string, dst *string) {
		if cmd.Flags().Changed(flag) {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	envBool := func(flag, env string, dst *bool) {
		if cmd.Flags().Changed(flag) {
			return
		}
		if v := os.Getenv(env); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	envString("port", "PORT", &config.Port)
	envString("oauth-client", "OAUTH_CLIENT_FILE", &config.OAuthClientFile)
	envString("token-file", "TOKEN_FILE", &config.TokenFile)
	envString("token-store", "TOKEN_STORE", &config.TokenStore)
	envString("upload-dir", "UPLOAD_DIR", &config.UploadDir)
	envBool("debug", "DEBUG", &config.Debug)
	envBool("metrics-enabled", "METRICS_ENABLED", &config.Metrics.Enabled)
	envString("metrics-addr", "METRICS_ADDR", &config.Metrics.Addr)
}

// newCredentialStore returns the configured store and a function releasing it.
func newCredentialStore(config ServeConfig) (google.CredentialStore, func()) {
	if config.TokenStore == TokenStoreMemory {
		store := google.NewMemoryStore()
		return store, store.Close
	}
	return google.NewFileStore(config.TokenFile), func() {}
}

func runServe(ctx context.Context, config ServeConfig) error {
	logger := logging.NewLogger(os.Stderr, config.Debug)
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	if config.Metrics.Enabled && provider.PrometheusHandler() != nil {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    config.Metrics.Addr,
			Path:                    instrConfig.PrometheusEndpoint,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", logging.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	oauthConfig, err := google.LoadClientConfig(config.OAuthClientFile)
	if err != nil {
		return err
	}
	auth := google.NewAuthenticator(oauthConfig,
		google.WithMetrics(metrics),
		google.WithLogger(logger))

	store, closeStore := newCredentialStore(config)
	defer closeStore()

	area, err := staging.NewArea(config.UploadDir, logger)
	if err != nil {
		return err
	}

	relay, err := server.NewRelay(server.RelayConfig{
		Authenticator: auth,
		Store:         store,
		NewUploader:   server.DriveUploaderFactory(auth, store, metrics),
		Staging:       area,
		Logger:        logger,
		Metrics:       metrics,
		Audit:         instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
	})
	if err != nil {
		return err
	}

	health := server.NewHealthChecker()
	health.AddCheck("staging", func() error {
		_, err := os.Stat(area.Dir())
		return err
	})

	httpServer := server.NewHTTPServer(config.ListenAddr(),
		server.NewHandler(relay, health, metrics, logger), health, logger)

	logger.Info("starting driverelay",
		slog.String("version", version),
		slog.String("addr", config.ListenAddr()),
		slog.String("token_store", config.TokenStore),
		slog.String("redirect_url", oauthConfig.RedirectURL))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
		return <-serverDone
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	}
}
