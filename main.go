package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"joyptz/internal/config"
	"joyptz/internal/control"
	"joyptz/internal/input"
	"joyptz/internal/logging"
	"joyptz/internal/metrics"
	"joyptz/internal/mqtt"
	"joyptz/internal/onvif"
	"joyptz/internal/panasonic"
	"joyptz/internal/ptz"
	"joyptz/internal/remote"
	"joyptz/internal/session"
	"joyptz/internal/stream"
	"joyptz/internal/tracking"
	"joyptz/internal/visca"
)

//go:embed web/*
var staticFiles embed.FS

// Intent source modes.
const (
	modeJoystick = "joystick"
	modeTracker  = "tracker"
	modeNetwork  = "network"
	modeRemote   = "remote"
	modeManual   = "manual"
)

var modes = []string{modeJoystick, modeTracker, modeNetwork, modeRemote, modeManual}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <camera> <%s>\n\nFlags:\n", os.Args[0], strings.Join(modes, "|"))
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "~/.config/joyptz/config.yaml", "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Log level: error, warn, info, debug")
	tickRate := flag.Float64("tick-rate", 0, "Controller tick rate in Hz")
	joystick := flag.String("joystick", "", "Comma-separated evdev devices for joystick mode")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker host for network mode")
	mqttTopic := flag.String("mqtt-topic", "", "MQTT topic for network mode")
	listenAddr := flag.String("listen", "", "HTTP listen address for remote mode")
	iceIPs := flag.String("ice-ips", "", "Comma-separated list of static server IPs (enables ICE-lite mode)")
	metricsAddr := flag.String("metrics-listen", "", "Prometheus listen address, disabled when empty")
	window := flag.Bool("window", true, "Show the tracking window")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	camName, mode := flag.Arg(0), flag.Arg(1)
	if !slices.Contains(modes, mode) {
		fmt.Fprintf(os.Stderr, "error: unknown mode %q (must be one of %s)\n", mode, strings.Join(modes, ", "))
		os.Exit(2)
	}

	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override the file.
	var overrides config.FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			overrides.LogLevel = logLevel
		case "tick-rate":
			overrides.TickRate = tickRate
		case "joystick":
			overrides.JoystickDevices = joystick
		case "mqtt-broker":
			overrides.MQTTBroker = mqttBroker
		case "mqtt-topic":
			overrides.MQTTTopic = mqttTopic
		case "listen":
			overrides.RemoteListen = listenAddr
		case "ice-ips":
			overrides.StaticIPs = iceIPs
		case "metrics-listen":
			overrides.MetricsListen = metricsAddr
		case "window":
			overrides.Window = window
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.Setup(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &cfg, camName, mode, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("joyptz failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func run(ctx context.Context, cfg *config.Config, camName, mode string, logger *slog.Logger) error {
	cam, err := cfg.Camera(camName)
	if err != nil {
		return err
	}
	logger = logger.With("camera", camName)

	collector, err := startMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("connecting", "type", cam.Type, "mode", mode)
	act, err := openActuator(ctx, cam)
	if err != nil {
		return fmt.Errorf("connect to camera %s: %w", camName, err)
	}
	defer act.Close()

	ctrlOpts := []control.Option{control.WithLogger(logger)}
	if collector != nil {
		ctrlOpts = append(ctrlOpts, control.WithObserver(collector))
	}
	ctrl := control.New(act, cfg.ControlConfig(), ctrlOpts...)

	if mode == modeTracker {
		var obs tracking.Observer
		if collector != nil {
			obs = collector
		}
		return runTracker(ctx, cfg, cam, ctrl, obs, logger)
	}

	src, cleanup, err := openSource(ctx, cfg, camName, cam, mode, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return session.Run(ctx, src, ctrl,
		session.WithTickRate(cfg.Control.TickRate),
		session.WithLogger(logger),
	)
}

func openActuator(ctx context.Context, cam config.Camera) (ptz.Actuator, error) {
	switch cam.Type {
	case config.TypeONVIF:
		return onvif.Dial(ctx, cam.ONVIFConfig())
	case config.TypeVISCA:
		return visca.NewController(cam.VISCAConfig())
	case config.TypePanasonic:
		return panasonic.NewController(cam.PanasonicConfig())
	}
	return nil, fmt.Errorf("unsupported camera type %q", cam.Type)
}

func openSource(ctx context.Context, cfg *config.Config, camName string, cam config.Camera, mode string, logger *slog.Logger) (input.Source, func(), error) {
	switch mode {
	case modeJoystick:
		js, err := input.OpenJoystick(cfg.JoystickConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		return js, func() { js.Close() }, nil

	case modeNetwork:
		if cfg.MQTT.Broker == "" {
			return nil, nil, errors.New("network mode needs mqtt.broker")
		}
		src, err := mqtt.New(cfg.MQTTConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil

	case modeManual:
		m := input.NewManual(os.Stdin, logger)
		return m, func() { m.Close() }, nil

	case modeRemote:
		return openRemote(ctx, cfg, camName, cam, logger)
	}
	return nil, nil, fmt.Errorf("unknown mode %q (must be one of %s)", mode, strings.Join(modes, ", "))
}

func openRemote(ctx context.Context, cfg *config.Config, camName string, cam config.Camera, logger *slog.Logger) (input.Source, func(), error) {
	web, err := fs.Sub(staticFiles, "web")
	if err != nil {
		return nil, nil, err
	}

	var preview remote.Stream
	var rtsp *stream.Client
	if cam.Stream != "" {
		rtsp, err = stream.NewClient(cam.Stream, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := rtsp.Connect(); err != nil {
			logger.Warn("RTSP connection failed, preview disabled", "error", err)
			rtsp.Close()
			rtsp = nil
		} else {
			preview = rtsp
		}
	}

	rcfg := cfg.RemoteConfig(camName)
	if len(rcfg.WebRTC.StaticIPs) > 0 {
		logger.Info("WebRTC ICE-lite mode enabled", "ips", rcfg.WebRTC.StaticIPs)
	}
	srv := remote.New(rcfg, web, preview, logger)

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(serveCtx); err != nil {
			logger.Error("remote server error", "error", err)
		}
	}()

	cleanup := func() {
		cancel()
		srv.Close()
		<-done
		if rtsp != nil {
			rtsp.Close()
		}
	}
	return srv, cleanup, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metrics.Collector, error) {
	if cfg.Metrics.Listen == "" {
		return nil, nil
	}
	collector, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, collector.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics listening", "listen", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return collector, nil
}
