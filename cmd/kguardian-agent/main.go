package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kguardian-dev/kguardian/pkg/brokerclient"
	"github.com/kguardian-dev/kguardian/pkg/config"
	"github.com/kguardian-dev/kguardian/pkg/correlator"
	"github.com/kguardian-dev/kguardian/pkg/health"
	"github.com/kguardian-dev/kguardian/pkg/log"
	"github.com/kguardian-dev/kguardian/pkg/metrics"
	"github.com/kguardian-dev/kguardian/pkg/pipeline"
	"github.com/kguardian-dev/kguardian/pkg/probe"
	"github.com/kguardian-dev/kguardian/pkg/reconciler"
	"github.com/kguardian-dev/kguardian/pkg/runtime"
	"github.com/kguardian-dev/kguardian/pkg/watcher"
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
	Use:     "kguardian-agent",
	Short:   "kguardian per-node security-observability agent",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("kguardian-agent %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("bpf-object", "/var/lib/kguardian/kguardian.o", "Path to the compiled BPF collection")
	rootCmd.Flags().String("containerd-socket", runtime.DefaultSocketPath, "Containerd UNIX socket path")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics, /health, /ready on")
	rootCmd.Flags().Duration("syscall-flush-interval", 10*time.Second, "Syscall aggregation flush cadence")
}

func runAgent(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bpfObject, _ := cmd.Flags().GetString("bpf-object")
	containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	syscallFlush, _ := cmd.Flags().GetDuration("syscall-flush-interval")

	logger := log.WithComponent("agent")
	logger.Info().Str("node", cfg.CurrentNode).Str("broker", cfg.APIEndpoint).Msg("starting kguardian-agent")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("broker", false, "not yet checked")
	metrics.RegisterComponent("probe", false, "not yet loaded")
	metrics.RegisterComponent("watcher", false, "not yet started")

	broker := brokerclient.New(cfg.APIEndpoint)

	brokerMonitorCtx, stopBrokerMonitor := context.WithCancel(context.Background())
	defer stopBrokerMonitor()
	go monitorBrokerHealth(brokerMonitorCtx, cfg.APIEndpoint)

	resolver, err := runtime.NewResolver(containerdSocket)
	if err != nil {
		return fmt.Errorf("connect to container runtime: %w", err)
	}
	defer resolver.Close()

	loader := &probe.Loader{ObjectPath: bpfObject}
	probeSet, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load probes: %w", err)
	}
	defer probeSet.Close()
	metrics.RegisterComponent("probe", true, "attached")

	corr := correlator.New()

	clientset, err := watcher.NewClientset()
	if err != nil {
		return fmt.Errorf("build kubernetes client: %w", err)
	}

	podWatcher := watcher.NewPodWatcher(
		watcher.PodWatcherConfig{
			Node:                   cfg.CurrentNode,
			ExcludedNamespaces:     cfg.ExcludedNamespaces,
			IgnoreDaemonsetTraffic: cfg.IgnoreDaemonsetTraffic,
		},
		clientset,
		resolver,
		probeSet,
		probeSet,
		broker,
		corr,
	)
	svcWatcher := watcher.NewServiceWatcher(clientset, broker)

	recon := reconciler.New(cfg.CurrentNode, broker, podWatcher)

	networkCh, policyDropCh, syscallCh := pipeline.Dispatch(probeSet.Events)

	networkPipeline, err := pipeline.NewNetworkFlowPipeline(corr, broker)
	if err != nil {
		return fmt.Errorf("build network flow pipeline: %w", err)
	}
	policyDropPipeline, err := pipeline.NewPolicyDropPipeline(corr, broker)
	if err != nil {
		return fmt.Errorf("build policy drop pipeline: %w", err)
	}
	syscallPipeline := pipeline.NewSyscallPipeline(corr, broker, syscallFlush)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// C1 runs on a dedicated goroutine outside the errgroup, per §5: each
	// ring-buffer read blocks up to 100ms and must never be canceled by a
	// sibling task's failure.
	go probeSet.Run(ctx)

	metricsSrv := &http.Server{Addr: metricsAddr}
	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint ready")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		metrics.RegisterComponent("watcher", true, "running")
		return podWatcher.Run(gctx)
	})
	group.Go(func() error { return svcWatcher.Run(gctx) })
	group.Go(func() error {
		networkPipeline.Run(gctx, networkCh)
		return nil
	})
	group.Go(func() error {
		policyDropPipeline.Run(gctx, policyDropCh)
		return nil
	})
	group.Go(func() error {
		syscallPipeline.Run(gctx, syscallCh)
		return nil
	})
	group.Go(func() error {
		recon.Start()
		<-gctx.Done()
		recon.Stop()
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- group.Wait() }()

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("subsystem failed, shutting down")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("kguardian-agent stopped")
	return nil
}

// monitorBrokerHealth polls the broker's /health endpoint on the
// teacher's Docker-style health-check cadence (pkg/health.Config's
// interval/timeout/retries), publishing the debounced result into the
// readiness registry rather than flapping on a single slow response.
func monitorBrokerHealth(ctx context.Context, apiEndpoint string) {
	checker := health.NewHTTPChecker(apiEndpoint + "/health")
	checkCfg := health.DefaultConfig()
	checker = checker.WithTimeout(checkCfg.Timeout)
	status := health.NewStatus()

	ticker := time.NewTicker(checkCfg.Interval)
	defer ticker.Stop()

	runCheck := func() {
		checkCtx, cancel := context.WithTimeout(ctx, checkCfg.Timeout)
		result := checker.Check(checkCtx)
		cancel()

		status.Update(result, checkCfg)
		if !status.InStartPeriod(checkCfg) {
			metrics.RegisterComponent("broker", status.Healthy, result.Message)
		}
	}

	runCheck()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCheck()
		}
	}
}
