package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/driverelay/internal/instrumentation"
)

const (
	// DefaultPort is the port the relay listens on when none is configured.
	DefaultPort = "3001"

	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout closes idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second
)

// NewHandler builds the relay's HTTP handler: relay and health routes behind
// CORS and request instrumentation.
func NewHandler(relay *Relay, health *HealthChecker, metrics *instrumentation.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	relay.RegisterRoutes(mux)
	if health != nil {
		health.RegisterHealthEndpoints(mux)
	}
	return InstrumentMiddleware(metrics, logger, CORSMiddleware(mux))
}

// HTTPServer serves the relay. Uploads may be large, so no write timeout is set.
type HTTPServer struct {
	httpServer *http.Server
	health     *HealthChecker
	logger     *slog.Logger
}

// NewHTTPServer creates a server for handler on addr.
func NewHTTPServer(addr string, handler http.Handler, health *HealthChecker, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
		health: health,
		logger: logger,
	}
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.httpServer.Addr
}

// Start listens on the configured address and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info("relay listening", slog.String("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown marks the server as draining and waits for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.SetShuttingDown()
	}
	s.logger.Info("shutting down relay")
	return s.httpServer.Shutdown(ctx)
}
