// Espremote is a voice and text remote control for the two switched outputs
// (D1, D2) of an ESP8266 reached through an HTTPS tunnel.
//
// Usage:
//
//	espremote [flags]
//	espremote --config /path/to/espremote.yaml --env .env
//
// @title       espremote API
// @version     1.0
// @description Voice and text remote control for the D1/D2 outputs of an ESP8266.
// @BasePath    /
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/rkmjld2/mahajan-remote2/internal/config"
	"github.com/rkmjld2/mahajan-remote2/internal/device"
	"github.com/rkmjld2/mahajan-remote2/internal/dispatch"
	"github.com/rkmjld2/mahajan-remote2/internal/health"
	"github.com/rkmjld2/mahajan-remote2/internal/interpreter"
	"github.com/rkmjld2/mahajan-remote2/internal/interpreter/groq"
	"github.com/rkmjld2/mahajan-remote2/internal/proxy"
	"github.com/rkmjld2/mahajan-remote2/internal/resolver"
	"github.com/rkmjld2/mahajan-remote2/internal/session"
	"github.com/rkmjld2/mahajan-remote2/internal/transport"
	grpctransport "github.com/rkmjld2/mahajan-remote2/internal/transport/grpc"
	httptransport "github.com/rkmjld2/mahajan-remote2/internal/transport/http"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.StringP("config", "c", "", "path to config file (e.g. configs/espremote.yaml)")
	envFile := flag.StringP("env", "e", ".env", "path to env file with secrets")
	flag.Parse()

	if *showVersion {
		fmt.Printf("espremote %s\n", version)
		os.Exit(0)
	}

	// Load and validate configuration before anything starts.
	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("espremote starting", "version", version, "device", cfg.Device.Host)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize the oracle backend.
	oracleTransport, err := proxy.NewTransport(cfg.Oracle.Proxy, nil)
	if err != nil {
		slog.Error("failed to configure oracle proxy", "error", err)
		os.Exit(1)
	}
	var oracle interpreter.Interpreter = groq.New(cfg.Oracle, &http.Client{Transport: oracleTransport})
	defer oracle.Close()
	slog.Info("using oracle",
		"backend", cfg.Oracle.Backend,
		"completion_model", cfg.Oracle.CompletionModel,
		"transcription_model", cfg.Oracle.TranscriptionModel)

	// Device client and interaction pipeline.
	esp, err := device.New(cfg.Device.Host, device.WithProxy(cfg.Device.Proxy))
	if err != nil {
		slog.Error("failed to create device client", "error", err)
		os.Exit(1)
	}
	pipeline := dispatch.New(resolver.New(oracle, esp.Host()), esp, oracle)

	sessions := session.NewManager(pipeline, cfg.Session)

	// Initialize enabled transports.
	var transports []transport.Transport

	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port, httptransport.Info{
			Host:   esp.Host(),
			Oracle: oracle.Name(),
		}))
	}
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}

	if len(transports) == 0 {
		slog.Error("no transports enabled, enable at least one in config")
		os.Exit(1)
	}

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort)
	healthServer.AddCheck("device", esp.Probe)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Expire idle sessions; tears all sessions down on shutdown.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.Run(ctx)
	}()

	// Start all transports.
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, sessions); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	// Mark as ready once all transports are started.
	healthServer.SetReady(true)
	slog.Info("espremote ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	wg.Wait()
	slog.Info("espremote stopped")
}
