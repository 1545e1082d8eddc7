// Package ops serves the operational HTTP surface shared by the collector
// and the worker: a liveness probe, a queue status snapshot and the
// Prometheus metrics endpoint. The server is optional and runs only when an
// address is configured.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/version"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	checkTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Extra supplies service-specific fields merged into the /status document.
type Extra func(ctx context.Context) map[string]any

// Server exposes the ops endpoints for one service process.
type Server struct {
	cfg             config.OpsConfig
	st              *store.Store
	service         string
	pipelineVersion string
	logger          *slog.Logger
	extra           Extra
	started         time.Time
}

// New builds the ops server for the named service ("collector", "worker").
func New(cfg config.OpsConfig, st *store.Store, service, pipelineVersion string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:             cfg,
		st:              st,
		service:         service,
		pipelineVersion: pipelineVersion,
		logger:          logger.With("component", "ops"),
		started:         time.Now().UTC(),
	}
}

// OnStatus registers a hook contributing service-specific fields to /status.
func (s *Server) OnStatus(fn Extra) { s.extra = fn }

// Run serves until ctx is cancelled. With no address configured it returns
// immediately so callers can always put it in their errgroup.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.healthz)
	r.GET("/status", s.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// healthz checks the process and its store reachability. A store running in
// fallback mode is reported but does not fail the probe: the collector keeps
// ingesting to JSONL without REST.
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	status := statusHealthy
	httpStatus := http.StatusOK
	checks := gin.H{}

	switch _, err := s.st.Queue.CountByStatus(ctx, s.pipelineVersion); {
	case err == nil:
		checks["store"] = statusHealthy
	case errors.Is(err, store.ErrDisabled):
		checks["store"] = "disabled"
	default:
		checks["store"] = err.Error()
		status = statusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"service": s.service,
		"version": version.GitCommit,
		"checks":  checks,
	})
}

// status reports the queue snapshot plus whatever the hosting service
// registered via OnStatus.
func (s *Server) status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	doc := gin.H{
		"service":          s.service,
		"version":          version.GitCommit,
		"pipeline_version": s.pipelineVersion,
		"uptime_s":         int(time.Since(s.started).Seconds()),
		"store_enabled":    s.st.Enabled(),
	}

	counts, err := s.st.Queue.CountByStatus(ctx, s.pipelineVersion)
	switch {
	case err == nil:
		doc["queue"] = counts
		doc["backlog"] = counts[string(models.JobPending)] + counts[string(models.JobProcessing)]
	case !errors.Is(err, store.ErrDisabled):
		doc["queue_error"] = err.Error()
	}
	if age, err := s.st.Queue.OldestPendingAge(ctx, s.pipelineVersion); err == nil && age > 0 {
		doc["oldest_pending_s"] = int(age.Seconds())
	}

	if s.extra != nil {
		for k, v := range s.extra(ctx) {
			doc[k] = v
		}
	}
	c.JSON(http.StatusOK, doc)
}
