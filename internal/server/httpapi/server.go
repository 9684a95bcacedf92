// Package httpapi exposes the relay's services over a JSON HTTP API for
// the web front-end.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
	"github.com/dmitrijs2005/osfrelay/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	requestTimeout    = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
	maxBodyBytes      = 64 << 10
)

// UserService is what the API needs from services.UserService.
type UserService interface {
	EnsureUser(ctx context.Context, userID string) error
	Profile(ctx context.Context, userID string) (*models.User, error)
	ConnectOSF(ctx context.Context, userID, token string) (*osf.User, error)
	DisconnectOSF(ctx context.Context, userID string) error
}

// ExperimentService is what the API needs from services.ExperimentService.
type ExperimentService interface {
	CreateExperiment(ctx context.Context, userID string, in services.CreateExperimentInput) (*models.Experiment, error)
	ListExperiments(ctx context.Context, userID string) ([]*models.Experiment, error)
	GetExperiment(ctx context.Context, userID, id string) (*models.Experiment, error)
}

type HTTPServer struct {
	address     string
	users       UserService
	experiments ExperimentService
	logger      logging.Logger
	jwtSecret   []byte
}

func NewHTTPServer(a string, l logging.Logger, us UserService, es ExperimentService, secretKey string) *HTTPServer {
	return &HTTPServer{
		address:     a,
		logger:      l.With("module", "http_server"),
		users:       us,
		experiments: es,
		jwtSecret:   []byte(secretKey),
	}
}

// Routes builds the router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", makeHandler(s.logger, s.healthz))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/me", makeHandler(s.logger, s.getProfile))
		r.Put("/me/osf-token", makeHandler(s.logger, s.connectOSF))
		r.Delete("/me/osf-token", makeHandler(s.logger, s.disconnectOSF))

		r.Get("/experiments", makeHandler(s.logger, s.listExperiments))
		r.Post("/experiments", makeHandler(s.logger, s.createExperiment))
		r.Get("/experiments/{id}", makeHandler(s.logger, s.getExperiment))
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *HTTPServer) serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-done
}
