// Package httpapi exposes the public HTTP surface: upload token issuance,
// the upload slot, finalize, report polling, and the analyzer callback.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verifai/verifai/internal/logging"
	sc "github.com/verifai/verifai/internal/server/config"
	"github.com/verifai/verifai/internal/server/services"
)

// JobAPI is the slice of the service layer the handlers need.
type JobAPI interface {
	IssueToken(ctx context.Context, clientIP, contentType string, fileSize int64) (*services.TokenGrant, error)
	AcceptUpload(ctx context.Context, jobID, contentType string, contentLength int64, body io.Reader) error
	Finalize(ctx context.Context, jobID string) (*services.FinalizeResult, error)
	HandleAnalysisResult(ctx context.Context, secret string, res *services.AnalysisResult) error
	GetReport(ctx context.Context, jobID string) (*services.ReportView, error)
}

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	jobs   JobAPI
	config *sc.Config
	logger logging.Logger
}

func NewServer(jobs JobAPI, config *sc.Config, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		jobs:   jobs,
		config: config,
		logger: logger,
	}
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              config.EndpointAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.POST("/upload/token", s.issueToken)
		api.PUT("/upload/:job_id", s.acceptUpload)
		api.POST("/upload/finalize", s.finalize)
		api.GET("/report/:job_id", s.getReport)
		api.POST("/internal/report", s.analysisCallback)
	}
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Run serves until the listener fails. http.ErrServerClosed is swallowed so a
// graceful shutdown does not read as a failure.
func (s *Server) Run() error {
	s.logger.Info(context.Background(), "http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
