package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mugisham37/cms-gateway/internal/config"
	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/util"
)

// Headers the gateway reads and writes on the traffic surface.
const (
	// RequestIDHeader carries the correlation identifier; the gateway
	// echoes an inbound value or synthesizes one.
	RequestIDHeader = "X-Request-ID"

	// APIVersionHeader is attached to every response.
	APIVersionHeader = "X-Api-Version"

	// TenantIDHeader carries the caller's tenant identifier.
	TenantIDHeader = "X-Tenant-ID"
)

// DefaultAPIVersion is the version advertised when none is configured.
const DefaultAPIVersion = "1.0"

// defaultMaxRequestBody bounds inbound request bodies.
const defaultMaxRequestBody = 10 << 20 // 10MB

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions.
var ginModeOnce sync.Once

// PrincipalFunc extracts the authenticated principal from a request, or
// nil when the request carries no verifiable identity. The body is passed
// separately because signature schemes cover it.
type PrincipalFunc func(r *http.Request, body []byte) *util.Principal

// Server is the gateway HTTP server: every unmatched method/path is a
// candidate for the dispatcher; the administrative surface and metrics
// exposition mount alongside.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	dispatcher *Dispatcher

	cfg          config.ServerConfig
	logger       observability.Logger
	metrics      *observability.Metrics
	metricsPath  string
	apiVersion   string
	principalFn  PrincipalFunc
	maxBodyBytes int64

	mu      sync.Mutex
	running bool
}

// ServerOption is a functional option for the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics exposes Prometheus metrics at the given path and
// records per-request series.
func WithServerMetrics(metrics *observability.Metrics, path string) ServerOption {
	return func(s *Server) {
		s.metrics = metrics
		s.metricsPath = path
	}
}

// WithAPIVersion sets the advertised API version.
func WithAPIVersion(version string) ServerOption {
	return func(s *Server) {
		s.apiVersion = version
	}
}

// WithPrincipalFunc sets the principal extractor for the traffic surface.
func WithPrincipalFunc(fn PrincipalFunc) ServerOption {
	return func(s *Server) {
		s.principalFn = fn
	}
}

// WithMaxRequestBody bounds inbound request body size in bytes.
func WithMaxRequestBody(limit int64) ServerOption {
	return func(s *Server) {
		s.maxBodyBytes = limit
	}
}

// NewServer creates the gateway HTTP server. The admin surface is mounted
// when admin is non-nil.
func NewServer(cfg config.ServerConfig, dispatcher *Dispatcher, admin *Admin, opts ...ServerOption) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:       gin.New(),
		dispatcher:   dispatcher,
		cfg:          cfg,
		logger:       observability.NopLogger(),
		apiVersion:   DefaultAPIVersion,
		maxBodyBytes: defaultMaxRequestBody,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(
		s.requestIDMiddleware(),
		s.apiVersionMiddleware(),
		s.recoveryMiddleware(),
		s.accessLogMiddleware(),
	)

	if s.metrics != nil && s.metricsPath != "" {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}
	if admin != nil {
		admin.Register(s.engine.Group("/admin"))
	}

	s.engine.NoRoute(s.handleTraffic)

	return s
}

// Engine returns the underlying gin engine. Exposed for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.WriteTimeout.Duration(),
		IdleTimeout:  s.cfg.IdleTimeout.Duration(),
	}
	s.running = true

	s.logger.Info("starting HTTP server", observability.String("addr", s.cfg.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", observability.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down within the configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Duration())
	defer cancel()

	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(shutdownCtx)
}

// requestIDMiddleware echoes the inbound correlation identifier or
// synthesizes one, and threads it through the request context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		c.Next()
	}
}

// apiVersionMiddleware attaches the API version to every response.
func (s *Server) apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set(APIVersionHeader, s.apiVersion)
		c.Next()
	}
}

// recoveryMiddleware converts panics into the standard error envelope.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithContext(c.Request.Context()).Error("panic recovered",
					observability.Any("panic", r),
					observability.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Status:  "error",
					Message: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// accessLogMiddleware logs one line per completed request.
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithContext(c.Request.Context()).Info("request completed",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("duration", time.Since(start)))
	}
}

// handleTraffic dispatches any method/path not claimed by the metrics or
// admin surfaces.
func (s *Server) handleTraffic(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Status:  "error",
				Message: "request body too large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Status:  "error",
			Message: "failed to read request body",
		})
		return
	}

	req := &Request{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		TenantID: c.GetHeader(TenantIDHeader),
		Headers:  c.Request.Header,
		Query:    c.Request.URL.Query(),
		Body:     body,
	}
	if s.principalFn != nil {
		req.Principal = s.principalFn(c.Request, body)
	}

	start := time.Now()
	result, err := s.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		status := StatusFor(err)
		s.recordRequest("unmatched", req.Method, status, start)
		s.logger.WithContext(c.Request.Context()).Warn("request failed",
			observability.String("method", req.Method),
			observability.String("path", req.Path),
			observability.Int("status", status),
			observability.Error(err))
		c.JSON(status, NewErrorResponse(err))
		return
	}

	s.recordRequest(result.RouteID, req.Method, result.Status, start)

	header := c.Writer.Header()
	for key, values := range result.Headers {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	c.Writer.WriteHeader(result.Status)
	if len(result.Body) > 0 {
		_, _ = c.Writer.Write(result.Body)
	}
}

// recordRequest emits the per-request metric series.
func (s *Server) recordRequest(routeID, method string, status int, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRequest(routeID, method, strconv.Itoa(status), time.Since(start))
}
