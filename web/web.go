// Package web exposes the integration and analytics endpoints over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Vector/vector-leads-crm/web/auth"
	"github.com/Vector/vector-leads-crm/web/handlers"
	"github.com/Vector/vector-leads-crm/web/middleware"
)

const shutdownTimeout = 15 * time.Second

type Config struct {
	Addr string
	// UserHeader is the trusted header carrying the user id. Defaults to X-User-ID.
	UserHeader string
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
	Integration    *handlers.IntegrationHandler
	Logger         *zap.Logger
}

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Integration == nil {
		return nil, errors.New("integration handler is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
		logger: logger.Named("web"),
	}, nil
}

// NewRouter wires every route and the shared middleware.
func NewRouter(cfg Config, logger *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", handlers.HandleHealth).Methods(http.MethodGet)

	authMW := auth.NewAuthMiddleware(cfg.UserHeader, logger)
	cfg.Integration.RegisterRoutes(r, authMW.Authenticate)

	return middleware.Chain(r,
		middleware.RequestLogger(logger),
		middleware.CORS(cfg.AllowedOrigins...),
		middleware.SecurityHeaders,
	)
}

// Start serves until ctx is done, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))

		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}

		close(errc)
	}()

	select {
	case err := <-errc:
		if err == nil {
			return nil
		}

		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("http server stopped")

	return nil
}
