package frontend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skymosaic/skymosaic/internal/cmn/config"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/record"
	"github.com/skymosaic/skymosaic/internal/tiles"
)

// Uploader stores one uploaded file.
type Uploader interface {
	Accept(ctx context.Context, category, filename string, r io.Reader) (bool, error)
}

// RecordLoader returns the current record of completed windows.
type RecordLoader interface {
	Load(ctx context.Context) (*record.Record, error)
}

// Server serves uploads, tiles and the record of completed windows.
type Server struct {
	config     *config.Config
	uploader   Uploader
	tiles      *tiles.Store
	records    RecordLoader
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	listener   net.Listener
}

// ServerOption is a functional option for configuring the Server
type ServerOption func(*Server)

// WithListener sets a pre-bound listener for the server.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// WithGatherer exposes the collectors of g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer constructs a Server.
func NewServer(cfg *config.Config, uploader Uploader, tileStore *tiles.Store, records RecordLoader, opts ...ServerOption) *Server {
	srv := &Server{
		config:   cfg,
		uploader: uploader,
		tiles:    tileStore,
		records:  records,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Handler builds the router.
func (srv *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             srv.config.Global.LogFormat == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         300,
	}))

	r.Post("/upload", srv.handleUpload)
	r.Post("/upload.html", srv.handleUpload)
	r.Get("/tms/*", srv.handleTile)
	r.Get("/health", srv.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/windows", srv.handleWindows)
	})
	if srv.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Serve starts the HTTP server and blocks until ctx is done or a termination
// signal arrives, then shuts the server down gracefully.
func (srv *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(srv.config.Server.Host, strconv.Itoa(srv.config.Server.Port))
	srv.httpServer = &http.Server{
		Handler:           srv.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info(ctx, "Server is starting", tag.Addr(addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.startServer(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Context done, shutting down server")
	case sig := <-quit:
		logger.Info(ctx, "Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	return srv.Shutdown(context.WithoutCancel(ctx))
}

func (srv *Server) startServer(ctx context.Context) error {
	var err error
	if srv.listener != nil {
		logger.Info(ctx, "Starting server on pre-bound listener")
		err = srv.httpServer.Serve(srv.listener)
	} else {
		err = srv.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "Server failed to start or unexpected shutdown", tag.Error(err))
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	logger.Info(ctx, "Server is shutting down", tag.Addr(srv.httpServer.Addr))

	timeout := srv.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	return srv.httpServer.Shutdown(shutdownCtx)
}
