// Package http exposes the draft, send and audit services over a small REST
// surface. Handlers only translate requests; all behaviour lives in the
// application services.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/garyjia/receipt-ledger/internal/application/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation id echoed on every response
const RequestIDHeader = "X-Request-ID"

const defaultShutdownTimeout = 10 * time.Second

// Logger is the subset of service.Logger the HTTP layer needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthChecker reports whether the process can serve requests, plus a detail payload
type HealthChecker func(ctx context.Context) (bool, interface{})

// ServerConfig holds listener and gin settings
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Mode is the gin mode: debug, release or test
	Mode string
}

// DefaultServerConfig returns the settings used when nothing is configured
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: defaultShutdownTimeout,
		Mode:            gin.ReleaseMode,
	}
}

// Services groups the application services the HTTP surface exposes
type Services struct {
	Drafts service.DraftService
	Send   service.SendService
	Audit  service.AuditService
	Health HealthChecker
}

// Server owns the gin engine and the http.Server serving it
type Server struct {
	config   ServerConfig
	engine   *gin.Engine
	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	logger   Logger
}

// NewServer builds the engine and registers every route
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	gin.SetMode(config.Mode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog(logger))
	registerRoutes(engine, NewHandlers(services, logger))

	return &Server{config: config, engine: engine, logger: logger}
}

func registerRoutes(r gin.IRouter, h *Handlers) {
	r.GET("/health", h.HealthCheck)

	drafts := r.Group("/api/drafts")
	drafts.POST("", h.SaveDraft)
	drafts.GET("", h.ListDrafts)
	drafts.POST("/send", h.SendDrafts)
	drafts.GET("/:id", h.GetDraft)
	drafts.PUT("/:id", h.UpdateDraft)
	drafts.DELETE("/:id", h.DeleteDraft)

	audit := r.Group("/api/audit")
	audit.GET("/recent", h.RecentEvents)
	audit.GET("/count", h.CountEvents)
	audit.GET("/drafts/:id", h.DraftEvents)
	audit.GET("/types/:type", h.EventsByType)
}

// requestID keeps a caller supplied correlation id or mints one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			"request_id", c.GetString(RequestIDHeader),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"actor", c.GetHeader(ActorHeader),
		)
	}
}

// Start listens on the configured address and serves until ctx is cancelled,
// then drains in-flight requests within ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.mu.Lock()
	s.listener, s.http = ln, srv
	s.mu.Unlock()
	s.logger.Info("HTTP server listening", "address", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server failed", "error", err)
		return err
	}
}

// Stop drains in-flight requests. Calling it before Start is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router exposes the engine for httptest
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Address is the bound address once listening, else the configured one
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}
