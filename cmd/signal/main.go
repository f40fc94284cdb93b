package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"peerlink/internal/infrastructure/middleware"
	"peerlink/internal/infrastructure/monitoring"
	sig "peerlink/internal/infrastructure/signal"
	"peerlink/pkg/config"
	"peerlink/pkg/logger"
	"peerlink/pkg/tracing"
	"peerlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const socketPath = "/peerjs"

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if cfg, err = config.Load(path); err == nil {
			break
		}
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("Could not load config, using defaults", "error", err)
	}

	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.ServiceName = "peerlink-signal"
	tc.JaegerURL = cfg.Tracing.JaegerURL
	tc.Environment = cfg.Tracing.Environment
	tc.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tc)
	if err != nil {
		log.Warnw("Tracing disabled", "error", err)
	}

	tokens, err := sig.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalw("Invalid token settings", "error", err)
	}

	registry := prometheus.NewRegistry()
	collector := monitoring.NewSignalCollector(registry)

	opts := sig.DefaultServerOptions()
	opts.PingInterval = cfg.Signal.PingInterval
	opts.PongTimeout = cfg.Signal.PongTimeout
	opts.WriteTimeout = cfg.Signal.WriteTimeout
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	if size := cfg.RateLimiting.WebSocket.MaxMessageSizeBytes; size > 0 {
		opts.MaxMessageSize = size
	}
	wsServer := sig.NewWebSocketServer(tokens, opts, collector, log.Named("signal"))

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.ErrorHandlerMiddleware(log))

	router.GET(socketPath, middleware.NewHTTPRateLimitMiddleware(cfg), wsServer.Handler())
	router.GET("/health", gin.WrapF(wsServer.HealthCheck))
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"uptime":      utils.FormatDuration(time.Since(startTime)),
			"connections": wsServer.ConnectionCount(),
		})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(monitoring.Handler(registry)))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting PeerLink signaling server on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if port, err := listenPort(cfg.Signal.Address); err != nil {
		log.Warnw("Not advertising on the LAN", "error", err)
	} else {
		hostname, _ := os.Hostname()
		stopAdvertising, err := sig.Advertise("peerlink-"+hostname, port, socketPath, log.Named("discovery"))
		if err != nil {
			log.Warnw("Not advertising on the LAN", "error", err)
		} else {
			defer stopAdvertising()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case s := <-sigChan:
		log.Infow("Received shutdown signal", "signal", s)
	}

	log.Info("Shutting down PeerLink signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	wsServer.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracer", "error", err)
		}
	}

	log.Info("PeerLink signaling server stopped")
}

func listenPort(address string) (int, error) {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
