// caseflowd runs the case pipeline daemon: it loads configuration, opens the
// database and event log, builds the LLM client and stage registry, starts
// the dispatcher worker pool, and serves the HTTP API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caseflow/pkg/agent"
	"caseflow/pkg/agent/middleware/metrics"
	"caseflow/pkg/auth"
	"caseflow/pkg/config"
	"caseflow/pkg/dispatch"
	"caseflow/pkg/eventlog"
	"caseflow/pkg/logx"
	"caseflow/pkg/persistence"
	"caseflow/pkg/pipeline"
	"caseflow/pkg/stage"
	"caseflow/pkg/webapi"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", "", "HTTP listen address (overrides config)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("caseflowd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true, nil)
	}

	os.Exit(run(*configFile, *addr))
}

// run contains the main daemon logic and returns an exit code. This allows
// defers to execute before os.Exit is called.
func run(configFile, addr string) int {
	logger := logx.NewLogger("caseflowd")

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
	} else {
		cfg = config.Default()
		logger.Info("no config file given, using defaults with the %s provider", cfg.Provider.Name)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	if err := persistence.Initialize(cfg.Storage.DBPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Warn("failed to close database: %v", err)
		}
	}()
	store := persistence.Ops()

	events, err := eventlog.NewWriter(cfg.Storage.EventLogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open event log: %v\n", err)
		return 1
	}
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("failed to close event log: %v", err)
		}
	}()

	factory := agent.NewFactory(metrics.NewPrometheusRecorder(), logx.NewLogger("llm"))
	client, err := factory.NewClient(agent.ClientOptions{
		Provider: cfg.Provider.Name,
		Model:    cfg.Provider.Model,
		APIKey:   cfg.Provider.APIKey,
		HostURL:  cfg.Provider.HostURL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create LLM client: %v\n", err)
		return 1
	}
	logger.Info("using %s provider with model %s", cfg.Provider.Name, client.GetModelName())

	registry := stage.NewRegistry()
	invoker := pipeline.NewInvoker(client, logx.NewLogger("invoker"))
	broker := dispatch.NewBroker(logx.NewLogger("broker"))

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Workers:      cfg.Pipeline.Workers,
		QueueSize:    cfg.Pipeline.QueueSize,
		StageTimeout: cfg.Pipeline.StageTimeout,
	}, store, events, broker, invoker, registry)

	var validator *auth.Validator
	if cfg.Auth.JWTSecret != "" {
		validator, err = auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Audience)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to configure auth: %v\n", err)
			return 1
		}
	} else {
		logger.Warn("no JWT secret configured, authentication is disabled")
	}

	server := webapi.NewServer(webapi.Config{
		Addr:          cfg.Server.Addr,
		StreamTimeout: cfg.Server.StreamTimeout,
	}, store, dispatcher, validator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("received %s, shutting down", s)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed: %v", err)
			return 1
		}
		return 0
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown: %v", err)
	}
	cancel()
	dispatcher.Stop()
	logger.Info("shutdown complete")
	return 0
}
