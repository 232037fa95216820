package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/logship/internal/catalog"
	"github.com/cuemby/logship/internal/cluster"
	"github.com/cuemby/logship/internal/convert"
	"github.com/cuemby/logship/internal/ingest"
	"github.com/cuemby/logship/internal/manifest"
	"github.com/cuemby/logship/internal/objstore"
	"github.com/cuemby/logship/internal/schema"
	"github.com/cuemby/logship/internal/staging"
	"github.com/cuemby/logship/pkg/config"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logship",
	Short: "logship - a log and event observability ingest engine",
	Long: `logship ingests semi-structured event records, stages them
locally, converts them to columnar artifacts on durable object storage,
and coordinates ingestor/querier roles across a cluster.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(
		newStoreCmd(config.StoreLocalFS, "local-store", "Run with a local filesystem object store"),
		newStoreCmd(config.StoreS3, "s3-store", "Run with an S3-compatible object store"),
		newStoreCmd(config.StoreAzure, "blob-store", "Run with an Azure Blob object store"),
		newStoreCmd(config.StoreGCS, "gcs-store", "Run with a Google Cloud Storage object store"),
	)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func newStoreCmd(kind config.StoreKind, use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
				os.Setenv("P_MODE", mode)
			}
			return run(kind)
		},
	}
	cmd.Flags().String("mode", "", "Override P_MODE for this run (query, ingest, all)")
	return cmd
}

// run constructs every component, starts the background loops, and
// blocks until SIGINT/SIGTERM triggers a graceful shutdown. Exit code
// 1 signals a configuration error caught before anything started; exit
// code 2 signals the object store was unreachable at startup.
func run(kind config.StoreKind) error {
	cfg, err := config.Load(kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	store, err := objstore.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "object store unreachable: %v\n", err)
		os.Exit(2)
	}
	store = objstore.WithRetry(store)
	metrics.RegisterComponent("objectstore", true, "")

	logger := log.WithNodeID(cfg.NodeID)
	logger.Info().Str("store", string(cfg.Store)).Str("mode", string(cfg.Mode)).Msg("starting logship")

	cat, err := catalog.New(cfg.StagingDir + "/catalog.db")
	if err != nil {
		return fmt.Errorf("open catalog cache: %w", err)
	}
	defer cat.Close()
	if err := cat.Rebuild(); err != nil {
		logger.Warn().Err(err).Msg("failed to load stream catalog from local cache")
	}

	syncer := catalog.NewSyncer(cat, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := syncer.RebuildFromObjectStore(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to rebuild stream catalog from object storage; continuing with an empty catalog")
		metrics.RegisterComponent("catalog", false, err.Error())
	} else {
		metrics.RegisterComponent("catalog", true, "")
	}

	registry := schema.NewRegistry(store)

	stagingEngine, err := staging.NewEngine(staging.EngineConfig{
		Dir:      cfg.StagingDir,
		Hostname: hostname(),
		CapBytes: cfg.StagingCapBytes,
	})
	if err != nil {
		return fmt.Errorf("construct staging engine: %w", err)
	}
	if err := stagingEngine.Recover(); err != nil {
		logger.Warn().Err(err).Msg("staging recovery reported an error; continuing with whatever was recoverable")
	}

	member := cluster.NewMembership(store, cluster.Node{
		ID:         cfg.NodeID,
		Role:       roleFor(cfg.Mode),
		DomainName: cfg.AdvertiseAddr,
	}, cfg.HeartbeatPeriod, cfg.HeartbeatTimeout)

	collector := metrics.NewCollector(member, stagingEngine)

	var (
		converter  *convert.Converter
		publisher  = manifest.NewPublisher(store)
		pipeline   *ingest.Pipeline
		sweeper    *manifest.RetentionSweeper
		tickStopCh chan struct{}
	)

	if cfg.Mode == config.ModeIngest || cfg.Mode == config.ModeAll {
		stagingEngine.Start()
		defer stagingEngine.Stop()

		converter = convert.NewConverter()
		pipeline = ingest.New(cat, registry, stagingEngine, converter, publisher, store)

		sweeper = manifest.NewRetentionSweeper(cat, publisher, cfg.RetentionPeriod, store.Delete)
		sweeper.Start()
		defer sweeper.Stop()

		tickStopCh = make(chan struct{})
		go runConversionLoop(ctx, pipeline, cfg.ConversionPeriod, tickStopCh)
		defer close(tickStopCh)
	}

	if err := member.Start(ctx); err != nil {
		return fmt.Errorf("start cluster membership: %w", err)
	}
	defer member.Stop()

	collector.Start()
	defer collector.Stop()

	healthSrv := newHealthServer(cfg.Addr)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health/metrics server stopped unexpectedly")
		}
	}()

	waitForShutdown()

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	return nil
}

func runConversionLoop(ctx context.Context, p *ingest.Pipeline, period time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func roleFor(mode config.Mode) cluster.Role {
	switch mode {
	case config.ModeIngest:
		return cluster.RoleIngestor
	case config.ModeQuery:
		return cluster.RoleQuerier
	default:
		return cluster.RoleAll
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return h
}

// newHealthServer exposes liveness, readiness, and Prometheus metrics
// endpoints. The full HTTP ingest/query surface is out of scope; this
// is only the ambient observability surface every node runs regardless
// of role. /live always reports alive once the process is up; /ready
// reflects the catalog and objectstore components registered in run,
// so an orchestrator can hold traffic until both are actually usable.
func newHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
