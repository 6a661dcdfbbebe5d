// Package api exposes the admin HTTP surface: task CRUD, manual run and
// cancel, execution history, notification configs and summary stats.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cronix/internal/registry"
	"cronix/internal/scheduler"
	"cronix/internal/scripts"
	"cronix/internal/storage"
	"cronix/pkg/logx"
)

type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg     Config
	store   *storage.Store
	sched   *scheduler.Service
	reg     *registry.Registry
	feed    *Feed
	scripts *scripts.Service
	log     logx.Logger

	httpSrv *http.Server
}

func New(cfg Config, store *storage.Store, sched *scheduler.Service, reg *registry.Registry, feed *Feed, scr *scripts.Service, log logx.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8000"
	}
	if feed == nil {
		feed = NewFeed(0)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, store: store, sched: sched, reg: reg, feed: feed, scripts: scr, log: log}
	s.httpSrv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the gin engine. Exposed for httptest-driven tests.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestID(), requestLogger(s.log), recovery(s.log))

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", s.listTasks)
			tasks.POST("", s.createTask)
			tasks.GET("/running", s.listRunning)
			tasks.GET("/:id", s.getTask)
			tasks.PUT("/:id", s.updateTask)
			tasks.DELETE("/:id", s.deleteTask)
			tasks.POST("/:id/run", s.runTask)
			tasks.POST("/:id/cancel", s.cancelTask)
			tasks.GET("/:id/executions", s.listTaskExecutions)
		}
		scriptsGroup := v1.Group("/scripts")
		{
			scriptsGroup.GET("", s.listScripts)
			scriptsGroup.POST("", s.createScript)
			scriptsGroup.GET("/:name", s.getScript)
			scriptsGroup.PUT("/:name", s.updateScript)
			scriptsGroup.DELETE("/:name", s.deleteScript)
		}
		v1.GET("/executions", s.listExecutions)
		v1.GET("/executions/:id", s.getExecution)
		v1.GET("/notifications", s.listNotifications)
		v1.PUT("/notifications/:id", s.updateNotification)
		v1.GET("/stats/summary", s.statsSummary)
		v1.GET("/stats/activity", s.recentActivity)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Listen))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_tasks": s.reg.ActiveCount(),
	})
}
