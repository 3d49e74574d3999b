package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kguardian-dev/kguardian/pkg/broker"
	"github.com/kguardian-dev/kguardian/pkg/config"
	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
)

// Version information (set via ldflags during build)
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kguardian-broker",
	Short:   "kguardian central ingest broker (C8)",
	Version: Version,
	RunE:    runBroker,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("kguardian-broker %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func runBroker(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg, err := config.LoadBroker()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithComponent("broker")
	logger.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.DBPath).Msg("starting kguardian-broker")

	metrics.SetVersion(Version)

	store, err := broker.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "ready")

	srv := broker.NewServer(store)
	metrics.RegisterComponent("http", true, "ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx, cfg.ListenAddr) }()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("broker listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
		cancel()
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("broker server failed")
			return err
		}
		return nil
	}

	if err := <-errCh; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("kguardian-broker stopped")
	return nil
}
