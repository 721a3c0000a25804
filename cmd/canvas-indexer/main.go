package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goran-ethernal/CanvasIndexor/internal/common"
	"github.com/goran-ethernal/CanvasIndexor/internal/config"
	"github.com/goran-ethernal/CanvasIndexor/internal/ledger"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/metrics"
	"github.com/goran-ethernal/CanvasIndexor/internal/notify"
	"github.com/goran-ethernal/CanvasIndexor/internal/persistence"
	"github.com/goran-ethernal/CanvasIndexor/internal/query"
	"github.com/goran-ethernal/CanvasIndexor/internal/rpc"
	"github.com/goran-ethernal/CanvasIndexor/internal/syncer"
	"github.com/goran-ethernal/CanvasIndexor/internal/types"
	"github.com/goran-ethernal/CanvasIndexor/pkg/api"
	pkgconfig "github.com/goran-ethernal/CanvasIndexor/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

const (
	version = "0.1.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         CanvasIndexor v%s              ║
║    On-chain Pixel Canvas Sync Engine      ║
╚═══════════════════════════════════════════╝
`
	shutdownTimeout = 10 * time.Second
)

var (
	configPath   string
	snapshotPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canvas-indexer",
	Short: "CanvasIndexor - on-chain pixel canvas sync engine",
	Long: `CanvasIndexor rebuilds the state of an on-chain pixel canvas from contract
events. It backfills history in parallel chunks, follows the chain live,
persists snapshots for fast restarts and serves the canvas over HTTP.`,
	Version: version,
	RunE:    runIndexer,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := &jsonschema.Reflector{
			FieldNameTag:   "json",
			DoNotReference: true,
		}
		schema := reflector.Reflect(&pkgconfig.Config{})
		schema.Title = "CanvasIndexor configuration"

		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a summary of a canvas snapshot",
	Long: `Inspect reads a snapshot file, either given with --snapshot or resolved from
the configuration, and prints its block, pixel count and colour usage.`,
	RunE: runInspect,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	inspectCmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot file (default: resolved from config)")

	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(inspectCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	newLogger := func(component string) *logger.Logger {
		return logger.NewComponentLoggerFromConfig(component, cfg.Logging)
	}
	log := newLogger(common.ComponentService)

	metrics.SetBuildInfo(version)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := metricsServer.Stop(stopCtx); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	log.Info("Connecting to Ethereum node...")
	ethClient, err := rpc.NewClient(ctx, cfg.Chain.RPCURL, cfg.Chain.RequestsPerSecond)
	if err != nil {
		metrics.ComponentHealthSet(common.ComponentChainClient, false)
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	log.Infof("Connected to Ethereum node: %s", cfg.Chain.RPCURL)

	finality, err := types.ParseBlockFinality(cfg.Chain.Finality)
	if err != nil {
		return err
	}

	chainClient, err := rpc.NewChainClient(ethClient, rpc.ChainClientConfig{
		Contract:      cfg.Chain.Address(),
		Finality:      finality,
		Confirmations: cfg.Chain.Confirmations,
		Resolution:    cfg.Chain.CanvasResolution,
		PollInterval:  cfg.Chain.PollInterval.Duration,
	}, newLogger(common.ComponentChainClient))
	if err != nil {
		ethClient.Close()
		return fmt.Errorf("failed to create chain client: %w", err)
	}
	defer chainClient.Close()
	metrics.ComponentHealthSet(common.ComponentChainClient, true)

	gaps, err := ledger.Open(cfg.Ledger.DB, newLogger(common.ComponentLedger))
	if err != nil {
		return err
	}
	defer func() {
		if err := gaps.Close(); err != nil {
			log.Warnf("Failed to close ledger: %v", err)
		}
	}()

	hub := notify.NewHub(newLogger(common.ComponentNotify))

	service, err := syncer.New(cfg, chainClient, hub, gaps, newLogger)
	if err != nil {
		return fmt.Errorf("failed to create sync service: %w", err)
	}

	log.Info("Starting CanvasIndexor...")
	if err := service.Start(ctx); err != nil {
		return abortStart(log, service, err)
	}
	metrics.ComponentHealthSet(common.ComponentService, true)

	apiDone := make(chan struct{})
	if cfg.API != nil && cfg.API.Enabled {
		facade := query.New(query.Config{
			Resolution:     cfg.Chain.CanvasResolution,
			MaxRegionCells: cfg.API.MaxRegionCells,
			MaxPageSize:    cfg.API.MaxPageSize,
		}, service.Store(), service, hub, gaps)

		apiServer := api.NewServer(cfg.API, facade, hub, newLogger(common.ComponentAPI))
		go func() {
			defer close(apiDone)
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	} else {
		close(apiDone)
	}

	select {
	case <-ctx.Done():
	case <-service.Done():
		// the loop never ends on its own unless something went wrong
		log.Warn("Sync loop exited")
		metrics.ComponentHealthSet(common.ComponentService, false)
		cancel()
	}

	if err := service.Stop(); err != nil {
		metrics.ErrorsInc(common.ComponentPersistence, "error")
		return err
	}
	<-apiDone

	log.Info("CanvasIndexor stopped successfully")
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := snapshotPath
	if path == "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.Persistence.SnapshotPath()
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}

	snap, result, err := persistence.Load(path, 0)
	if result != persistence.Loaded {
		if err == nil {
			err = errors.New("snapshot not found")
		}
		return fmt.Errorf("snapshot %s: %s: %w", path, result, err)
	}

	colors := make(map[uint32]int)
	for _, p := range snap.Pixels {
		colors[p.Color]++
	}

	type colorCount struct {
		color uint32
		count int
	}
	ranked := make([]colorCount, 0, len(colors))
	for c, n := range colors {
		ranked = append(ranked, colorCount{c, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].color < ranked[j].color
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Snapshot:             %s\n", path)
	fmt.Fprintf(out, "Size:                 %s\n", humanize.Bytes(uint64(info.Size())))
	fmt.Fprintf(out, "Modified:             %s (%s)\n", info.ModTime().Format(time.RFC3339), humanize.Time(info.ModTime()))
	fmt.Fprintf(out, "Last processed block: %s\n", humanize.Comma(int64(snap.LastProcessedBlock)))
	fmt.Fprintf(out, "Pixels:               %s\n", humanize.Comma(int64(len(snap.Pixels))))
	fmt.Fprintf(out, "Distinct colors:      %d\n", len(ranked))

	for i, c := range ranked {
		if i == 10 {
			break
		}
		fmt.Fprintf(out, "  #%06x  %s\n", c.color, humanize.Comma(int64(c.count)))
	}

	return nil
}

// abortStart tears down a service whose Start failed and returns the start error.
func abortStart(log *logger.Logger, service interface{ Stop() error }, startErr error) error {
	metrics.ComponentHealthSet(common.ComponentService, false)
	metrics.ErrorsInc(common.ComponentService, "fatal")

	if err := service.Stop(); err != nil {
		metrics.ErrorsInc(common.ComponentPersistence, "error")
		log.Warnf("Failed to stop sync service after startup failure: %v", err)
	}

	return startErr
}
