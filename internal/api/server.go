// Package api serves the HTTP interface: video upload, job status,
// reports, frames, transcripts and entity search.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/entityindex/internal/artifacts"
	"github.com/tphakala/entityindex/internal/buildinfo"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/datastore"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/jobs"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/observability"
	"github.com/tphakala/entityindex/internal/search"
)

// Queue accepts processing tasks and reports its state.
type Queue interface {
	Enqueue(task jobs.Task) error
	Stats() jobs.StatsSnapshot
}

// Searcher runs entity searches.
type Searcher interface {
	Search(ctx context.Context, q string, opts search.Options) (*search.Response, error)
}

// Server is the HTTP server. It owns the echo instance and the routes.
type Server struct {
	echo     *echo.Echo
	settings *conf.Settings

	store    datastore.Interface
	queue    Queue
	searcher Searcher
	layout   *artifacts.Layout
	metrics  *observability.Metrics
	build    *buildinfo.Info
	log      logger.Logger

	startTime time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDataStore sets the job store.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.store = ds }
}

// WithQueue sets the task queue uploads are dispatched to.
func WithQueue(q Queue) ServerOption {
	return func(s *Server) { s.queue = q }
}

// WithSearch sets the search service.
func WithSearch(sr Searcher) ServerOption {
	return func(s *Server) { s.searcher = sr }
}

// WithLayout sets the artifact layout.
func WithLayout(l *artifacts.Layout) ServerOption {
	return func(s *Server) { s.layout = l }
}

// WithMetrics enables request metrics and, when configured, /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBuildInfo sets the version reported by the health endpoint.
func WithBuildInfo(b *buildinfo.Info) ServerOption {
	return func(s *Server) { s.build = b }
}

// WithLogger overrides the module logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// New builds the server and registers its routes. It does not listen.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	s := &Server{
		echo:      echo.New(),
		settings:  settings,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module("api")
	}
	if s.layout == nil {
		s.layout = artifacts.New(settings.Main.DataDir)
	}
	if s.store == nil || s.queue == nil || s.searcher == nil {
		return nil, errors.Newf("api server requires a datastore, queue and search service").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) setupMiddleware() {
	// Recovery middleware should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(s.log))
	if s.metrics != nil {
		s.echo.Use(newMetricsMiddleware(s.metrics.HTTP))
	}
	if s.settings.WebServer.MaxUploadMB > 0 {
		s.echo.Use(echomw.BodyLimit(fmt.Sprintf("%dM", s.settings.WebServer.MaxUploadMB)))
	}
}

func (s *Server) setupRoutes() {
	g := s.echo.Group("/api")

	g.POST("/videos", s.UploadVideo)
	g.GET("/videos", s.ListVideos)
	g.GET("/videos/:id", s.GetVideo)
	g.DELETE("/videos/:id", s.DeleteVideo)
	g.GET("/videos/:id/status", s.GetStatus)
	g.GET("/videos/:id/report", s.GetReport)
	g.GET("/videos/:id/report/download", s.DownloadReport)
	g.GET("/videos/:id/download", s.DownloadVideo)
	g.GET("/videos/:id/frames", s.ListFrames)
	g.GET("/videos/:id/frames/:name", s.ServeFrame)
	g.GET("/videos/:id/transcript", s.GetTranscript)

	g.GET("/search", s.Search)
	g.GET("/health", s.HealthCheck)
	g.GET("/queue/stats", s.QueueStats)

	if s.metrics != nil && s.settings.WebServer.Metrics {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	addr := s.settings.WebServer.Listen
	s.log.Info("starting HTTP server", logger.String("address", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}
