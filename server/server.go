// Package server 图片处理 HTTP 服务：示例图片目录、远程抓取、临时文件和各类处理接口。
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/pixfix/config"
	"github.com/chaos-io/pixfix/logger"
	"github.com/chaos-io/pixfix/metrics"
	"github.com/chaos-io/pixfix/processor"
)

const (
	Title      = "Image Processing API"
	APIVersion = "1.0"

	requestIDHeader = "X-Request-ID"
)

type Deps struct {
	Processor *processor.Processor
	Fetcher   *Fetcher
	Stager    *Stager
	Catalog   *Catalog
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Server struct {
	cfg     config.ServerConfig
	engine  *gin.Engine
	proc    *processor.Processor
	fetcher *Fetcher
	stager  *Stager
	catalog *Catalog
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		proc:    deps.Processor,
		fetcher: deps.Fetcher,
		stager:  deps.Stager,
		catalog: deps.Catalog,
		metrics: deps.Metrics,
		logger:  logger.OrDefault(deps.Logger),
	}
	if s.catalog == nil {
		s.catalog = NewCatalog(nil)
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggerMiddleware())
	router.Use(s.metrics.GinMiddleware())

	router.GET("/", s.root)
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	router.GET("/photos", s.listPhotos)
	router.GET("/photos/:id/view", s.viewPhoto)

	process := router.Group("/process/:id")
	for _, kind := range processor.Kinds {
		process.GET("/"+kind.Slug(), s.processPhoto(kind))
	}

	router.POST("/upload/:operation", s.upload)
	return router
}

// loggerMiddleware 给每个请求分配 ksuid 作为 request id 并记录一行访问日志
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}
		attrs := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			attrs = append(attrs, "err", errs)
		}
		s.logger.Info("http request", attrs...)
	}
}

// Run 启动服务，ctx 结束后优雅退出并清空临时文件
func (s *Server) Run(ctx context.Context) error {
	if err := s.stager.StartJanitor(s.cfg.CleanupSchedule); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.cfg.Addr, "temp_dir", s.cfg.TempDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Debug("received shutdown signal, initiating graceful shutdown")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	if err := s.stager.Close(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	if serveErr != nil {
		return serveErr
	}
	s.logger.Info("server shutdown completed successfully")
	return nil
}
