package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"incubator/pkg/config"
	"incubator/pkg/gate"
	"incubator/pkg/intent"
	"incubator/pkg/llm"
	"incubator/pkg/logx"
	"incubator/pkg/orch"
	"incubator/pkg/otp"
	"incubator/pkg/payment"
	"incubator/pkg/session"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		addr        = flag.String("addr", "", "Listen address (overrides INCUBATOR_ADDR)")
		dataDir     = flag.String("datadir", "", "Data directory (overrides INCUBATOR_DATA_DIR)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("incubator %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	os.Exit(run(*addr, *dataDir))
}

// run contains the main application logic and returns an exit code.
// This allows defers to execute before os.Exit is called.
func run(addr, dataDir string) int {
	if err := config.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := config.Set(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger := logx.NewLogger("incubator")
	logger.Info("🚀 Starting incubator %s (provider=%s model=%s)", version, cfg.Provider, cfg.Model)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory: %v", err)
		return 1
	}

	store, err := session.Open(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		logger.Error("Failed to open conversation store: %v", err)
		return 1
	}
	defer store.Close()

	if ids, err := store.List(); err == nil {
		logger.Info("📦 %d conversation(s) on disk", len(ids))
	}

	client, err := llm.NewFromConfig(cfg)
	if err != nil {
		logger.Error("Failed to create LLM client: %v", err)
		return 1
	}

	orchestrator := orch.New(
		cfg,
		store,
		gate.New(store, cfg.SwitchLimit),
		intent.New(client),
		client,
		otp.NewVerifier(otp.NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom, cfg.MailFromName)),
		payment.NewStripeProvider(cfg.StripeSecretKey),
	)

	srv := NewServer(cfg.ListenAddr, orchestrator)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server failed: %v", err)
		return 1
	}
	logger.Info("👋 Shutdown complete")
	return 0
}
