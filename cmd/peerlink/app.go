package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	"peerlink/internal/handlers/cli"
	"peerlink/internal/infrastructure/geo"
	"peerlink/internal/infrastructure/media"
	"peerlink/internal/infrastructure/monitoring"
	"peerlink/internal/infrastructure/notify"
	"peerlink/internal/infrastructure/repositories"
	sig "peerlink/internal/infrastructure/signal"
	webrtcinfra "peerlink/internal/infrastructure/webrtc"
	"peerlink/pkg/config"
	"peerlink/pkg/logger"
	"peerlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"config.yaml",
}

// loadConfig reads path, or the first default location that exists.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		return cfg, nil
	}
	for _, p := range configPaths {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}
	return config.Load("")
}

func newLogger(cfg *config.Config) *zap.SugaredLogger {
	return logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format).Sugar()
}

type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	factory  *repositories.StoreFactory
	tracer   *tracing.TracerProvider
	registry *prometheus.Registry
	metrics  *http.Server
	stop     context.CancelFunc
}

func newApp(path string) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(cfg)}

	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.ServiceName = "peerlink-client"
	tc.JaegerURL = cfg.Tracing.JaegerURL
	tc.Environment = cfg.Tracing.Environment
	tc.SampleRate = cfg.Tracing.SampleRate
	if a.tracer, err = tracing.Init(tc); err != nil {
		a.log.Warnw("Tracing disabled", "error", err)
	}

	if a.factory, err = repositories.NewStoreFactory(cfg, a.log.Named("store")); err != nil {
		return nil, fmt.Errorf("opening stores: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	if cfg.Monitoring.PrometheusEnabled {
		a.serveMetrics()
	}
	return a, nil
}

// serveMetrics exposes /metrics and /health of the client process.
func (a *app) serveMetrics() {
	health := monitoring.NewHealthChecker()
	health.AddPingCheck("store", a.factory, 30*time.Second, 2*time.Second)
	if rc := a.factory.RedisClient(); rc != nil {
		health.AddRedisCheck(rc, 30*time.Second, 2*time.Second)
	}
	ctx, stop := context.WithCancel(context.Background())
	a.stop = stop
	health.StartBackgroundChecks(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(monitoring.Handler(a.registry)))
	router.GET("/health", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/ready", func(c *gin.Context) {
		if health.LastError("store") != nil || !health.IsReady(c.Request.Context()) {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})

	a.metrics = &http.Server{Addr: a.cfg.Monitoring.Address, Handler: router}
	go func() {
		a.log.Infow("Serving metrics", "address", a.cfg.Monitoring.Address)
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warnw("Metrics server failed", "error", err)
		}
	}()
}

// signalURL returns the configured signaling URL, browsing the LAN when
// none is set or discovery is requested.
func (a *app) signalURL(ctx context.Context) (string, error) {
	if a.cfg.Signal.URL != "" && !a.cfg.Signal.Discover {
		return a.cfg.Signal.URL, nil
	}
	url, err := sig.Discover(ctx, a.cfg.Signal.DiscoverTimeout, a.log.Named("discovery"))
	if err != nil {
		if a.cfg.Signal.URL != "" {
			a.log.Warnw("Discovery failed, using configured URL", "error", err)
			return a.cfg.Signal.URL, nil
		}
		return "", fmt.Errorf("finding signaling server: %w", err)
	}
	return url, nil
}

func (a *app) platform() ports.NotificationPlatform {
	local := notify.NewTerminalPlatform(os.Stdout, a.cfg.Notifications.Enabled)
	rc := a.factory.RedisClient()
	if !a.cfg.Notifications.Bus || rc == nil {
		return local
	}
	bus := notify.NewBus(rc, a.cfg.Notifications.BusChannel, uuid.NewString(), a.log.Named("bus"))
	return notify.NewBusPlatform(local, bus, a.log.Named("notify"))
}

// Chat runs the interactive client until stdin ends, /quit or ctx is done.
func (a *app) Chat(ctx context.Context, in io.Reader, peerID, name string) error {
	url, err := a.signalURL(ctx)
	if err != nil {
		return err
	}

	opts := webrtcinfra.DefaultOptions(url)
	opts.Signal.WriteTimeout = a.cfg.Signal.WriteTimeout
	if rec, err := media.NewRecorder(a.cfg.Media.RecordingDir, a.log.Named("recorder")); err != nil {
		a.log.Warnw("Remote media will not be recorded", "error", err)
	} else {
		opts.Sink = rec
	}
	transport, err := webrtcinfra.NewTransport(webrtcinfra.ConfigFromApp(a.cfg), opts, a.log.Named("transport"))
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	renderer := cli.NewTerminalRenderer(os.Stdout, a.cfg.Client.DownloadDir, a.log.Named("render"))
	onboarder := cli.NewPromptOnboarder(in, os.Stdout)
	onboarder.PeerID, onboarder.DisplayName = peerID, name

	clientOpts := services.DefaultClientOptions()
	clientOpts.ProbeInterval = a.cfg.Client.ProbeInterval
	clientOpts.ReconnectDelay = a.cfg.Client.ReconnectDelay
	clientOpts.ResumeDelay = a.cfg.Client.ResumeDelay
	clientOpts.AutoConnectDelay = a.cfg.Client.AutoConnectDelay
	clientOpts.NotificationCooldown = a.cfg.Client.NotificationCooldown
	clientOpts.PreviewLength = a.cfg.Client.PreviewLength
	clientOpts.LocationTimeout = a.cfg.Geolocation.Timeout
	clientOpts.NotificationIcon = a.cfg.Notifications.Icon
	clientOpts.AttachmentIcon = a.cfg.Notifications.AttachmentIcon

	client := services.NewClient(clientOpts, services.ClientDeps{
		Transport:  transport,
		Store:      a.factory.CreateKeyValueStore(),
		Devices:    media.NewFileDevices(a.cfg.Media.VideoFile, a.cfg.Media.AudioFile, a.log.Named("media")),
		Geolocator: geo.FromConfig(a.cfg, a.log.Named("geo")),
		Platform:   a.platform(),
		Focus:      notify.NewIdleFocus(a.cfg.Client.FocusIdleTimeout, services.SystemClock{}),
		Renderer:   renderer,
		Onboarder:  onboarder,
		Metrics:    monitoring.NewClientCollector(a.registry),
		Logger:     a.log.Named("client"),
	})

	if err := client.Start(ctx); err != nil {
		_ = transport.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- client.Run(ctx) }()

	renderer.AppendLine("Type /help for commands", ports.LineSystem)
	dispatcher := cli.NewDispatcher(client, renderer, a.log.Named("cli"))
	readErr := dispatcher.ReadLoop(ctx, onboarder)

	cancel()
	<-loopDone
	if readErr != nil && !errors.Is(readErr, context.Canceled) && !errors.Is(readErr, services.ErrClientStopped) {
		return readErr
	}
	return nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.stop != nil {
		a.stop()
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.log.Debugw("Metrics server shutdown failed", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Debugw("Tracer shutdown failed", "error", err)
		}
	}
	if err := a.factory.Close(); err != nil {
		a.log.Warnw("Closing stores failed", "error", err)
	}
	_ = a.log.Sync()
}
