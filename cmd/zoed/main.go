package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/zoe/internal/backend"
	"github.com/cuemby/zoe/internal/domain"
	"github.com/cuemby/zoe/internal/metrics"
	"github.com/cuemby/zoe/internal/rebalancer"
	"github.com/cuemby/zoe/internal/scheduler"
	"github.com/cuemby/zoe/internal/store"
	"github.com/cuemby/zoe/internal/zoelog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:     "zoed",
	Short:   "zoed runs the elastic scheduling core for a container-workload cluster",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "zoe.yaml", "path to the tunables file")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	zoelog.Init(zoelog.Config{
		Level:      zoelog.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	log := zoelog.Component("cmd")

	metrics.Register(prometheus.DefaultRegisterer)

	st, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	be := backend.NewMemoryBackend(clusterStatsFromConfig(cfg))

	sched, err := scheduler.New(st, be, cfg.Policy)
	if err != nil {
		return fmt.Errorf("cmd: build scheduler: %w", err)
	}

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("cmd: start scheduler: %w", err)
	}

	reb := rebalancer.New(be, sched.CoreLimitTrigger())
	reb.Start()

	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: buildMux(sched)}
	httpErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	log.Info().Str("metrics_addr", cfg.MetricsAddr).Str("policy", cfg.Policy).
		Int("nodes", len(cfg.Nodes)).Msg("zoed started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-httpErrCh:
		log.Error().Err(err).Msg("metrics server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	reb.Stop()
	sched.Stop()

	log.Info().Msg("shutdown complete")
	return nil
}

func buildStore(cfg Config) (store.Store, func(), error) {
	switch cfg.Store {
	case "", "memory":
		return store.NewMemStore(), func() {}, nil
	case "bolt":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("cmd: create data dir: %w", err)
		}
		s, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("cmd: open bolt store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("cmd: unsupported store %q", cfg.Store)
	}
}

func clusterStatsFromConfig(cfg Config) *domain.ClusterStats {
	nodes := make([]*domain.NodeStats, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		nodes[i] = &domain.NodeStats{
			Name:        n.Name,
			CoresTotal:  n.CoresTotal,
			MemoryTotal: n.MemoryGiB << 30,
		}
	}
	return &domain.ClusterStats{Nodes: nodes, Observed: time.Now()}
}

func buildMux(sched *scheduler.Scheduler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := sched.Stats()
		fmt.Fprintf(w, "queue_length %d\nrunning_length %d\ntermination_threads %d\n",
			stats.QueueLength, stats.RunningLength, stats.TerminationThreadsCount)
	})
	return mux
}
