package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/config"
	"github.com/crollins/webdap/internal/dapserver"
	"github.com/crollins/webdap/internal/logging"
	"github.com/crollins/webdap/internal/mcp"
	"github.com/crollins/webdap/internal/version"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", "dap", "Serving mode: 'dap' or 'mcp'")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("webdap version %s\n", version.Version)
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger, err := logging.New(level)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Sync()

	version.NewChecker().NotifyAsync(logger)

	switch *mode {
	case "dap":
		runDAP(cfg, logger)
	case "mcp":
		runMCP(cfg, logger)
	default:
		log.Fatalf("Unknown mode %q (expected 'dap' or 'mcp')", *mode)
	}
}

// runDAP serves the Debug Adapter Protocol over stdio: one process, one host
// connection, one logical session.
func runDAP(cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	srv := dapserver.NewServer(cfg, logger, os.Stdin, os.Stdout)
	if err := srv.Serve(ctx); err != nil {
		logger.Error("adapter stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// runMCP serves the MCP control surface over stdio.
func runMCP(cfg *config.Config, logger *zap.Logger) {
	server := mcp.NewServer(cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		server.Close()
		os.Exit(0)
	}()

	if err := server.ServeStdio(); err != nil {
		server.Close()
		log.Fatalf("Server error: %v", err)
	}
	server.Close()
}

func printHelp() {
	fmt.Println(`webdap: Debug Adapter for Chrome DevTools Protocol targets

Bridges a DAP client and an application exposing a CDP endpoint: launches or
attaches to the target, proxies the DevTools WebSocket, and reconnects
automatically when the connection drops.

USAGE:
    webdap [OPTIONS]

OPTIONS:
    -config <path>     Path to configuration file (JSON)
    -mode <mode>       Serving mode: 'dap' or 'mcp' (default: dap)
    -log-level <lvl>   Log level: debug, info, warn, error
    -version           Show version and exit
    -help              Show this help message

MODES:
    dap    Serve the Debug Adapter Protocol over stdio. This is the mode a
           DAP client (editor/IDE) spawns the adapter in.
    mcp    Serve a Model Context Protocol control surface over stdio, with
           tools to launch, attach, inspect, and disconnect sessions.

CONFIGURATION:
    Create a JSON configuration file to customize behavior:

    {
        "targetHost": "127.0.0.1",
        "targetPort": 9222,
        "reconnectAttempts": 3,
        "readiness": {
            "attempts": 10,
            "interval": "1s"
        },
        "launcher": {
            "applicationPath": "/path/to/app",
            "dependencies": [
                {"path": "/path/to/runtime", "installCommand": "npm install"}
            ]
        },
        "maxSessions": 10,
        "sessionTimeout": "30m",
        "logLevel": "info"
    }`)
}
