package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wudi/rewriter/internal/config"
	"github.com/wudi/rewriter/internal/logging"
	"github.com/wudi/rewriter/internal/rewrite"
	"github.com/wudi/rewriter/internal/server"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/rewriter.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and rewrite rules and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rewriter %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.NewLoader().Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		// Compile every pattern regardless of rewrite.validate
		rc := cfg.Rewrite
		rc.Validate = true
		if _, err := rewrite.New(rc, rewrite.Options{}); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid rewrite rules: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	target := cfg.Upstream
	if target == "" {
		target = cfg.StaticDir
	}
	logging.Info("Starting rewriter",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("target", target),
		zap.Int("rules", len(cfg.Rewrite.Rules)),
		zap.String("charset", cfg.Rewrite.Charset),
	)

	srv, err := server.New(cfg,
		server.WithConfigPath(*configPath),
		server.WithLogger(logger),
	)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
