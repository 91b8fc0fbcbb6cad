package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// request metrics register with the default prometheus registry, so there can only be one
var httpMetrics = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("chatmod")
})

type Server struct {
	pipeline   *Pipeline
	echo       *echo.Echo
	httpd      *http.Server
	logger     *slog.Logger
	adminToken string
}

type ServerConfig struct {
	Logger *slog.Logger
	Bind   string
	// admin endpoints are not registered if empty
	AdminToken string
}

func NewServer(pl *Pipeline, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		pipeline:   pl,
		echo:       e,
		logger:     logger,
		adminToken: config.AdminToken,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(httpMetrics())
	e.Use(otelecho.Middleware("chatmod"))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("256K"))
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", srv.HandleHealthCheck)
	e.POST("/moderate", srv.HandleModerate)
	e.GET("/senders/:id", srv.HandleSenderStats)
	if srv.adminToken != "" {
		admin := e.Group("/admin", srv.requireAdminToken)
		admin.POST("/rules/reload", srv.HandleReloadRules)
		admin.DELETE("/senders/:id/flags", srv.HandleClearSenderFlags)
	}

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// SIGHUP reloads pattern rules; SIGINT and SIGTERM exit.
	srv.logger.Info("registering OS signal handlers")
	quit := make(chan struct{})
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-reload:
				if _, err := srv.pipeline.ReloadRules(); err != nil {
					srv.logger.Error("rule reload failed, keeping current rules", "err", err)
				}
			case <-quit:
				return
			}
		}
	}()
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		// Shut down the HTTP server
		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("HTTP server shutdown error", "err", err)
		}

		// Trigger the return that causes an exit.
		close(quit)
	}()
	<-quit
	signal.Stop(reload)
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
