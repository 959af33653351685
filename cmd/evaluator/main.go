// Command evaluator runs the RIDE incremental-evaluation sidecar: it
// subscribes to the blockchain-updates stream, maintains the tagged
// height-versioned projection described by internal/chain, and serves
// POST /utils/script/evaluate/{address} off the resulting cache.
//
// Usage mirrors the teacher's cmd/mive entrypoint: a single positional
// config-root argument, plus an optional persisted-request-list path
// (spec.md §6's CLI surface).
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/wavesplatform/ride-evaluator/internal/api"
	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/config"
	"github.com/wavesplatform/ride-evaluator/internal/events"
	"github.com/wavesplatform/ride-evaluator/internal/health"
	"github.com/wavesplatform/ride-evaluator/internal/logging"
	"github.com/wavesplatform/ride-evaluator/internal/orchestrator"
	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/registry"
	"github.com/wavesplatform/ride-evaluator/internal/rideeval"
	"github.com/wavesplatform/ride-evaluator/internal/rpcclient"
)

var app = &cli.App{
	Name:      "evaluator",
	Usage:     "RIDE incremental-evaluation sidecar",
	ArgsUsage: "<config-dir> [request-list.json]",
	Action:    run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	configDir := cctx.Args().Get(0)
	if configDir == "" {
		return cli.Exit("missing required argument: config-dir", 1)
	}
	cfg, err := config.Load(filepath.Join(configDir, "config.toml"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), 1)
	}
	if requestList := cctx.Args().Get(1); requestList != "" {
		cfg.RequestListFile = requestList
	}

	logging.Setup(cfg.Log.Verbosity, cfg.Log.File)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistent.Open(cfg.Persistent.Datadir, cfg.Persistent.CacheSizeMB, cfg.Persistent.MaxOpenFiles)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening persistent store: %v", err), 1)
	}
	defer store.Close()

	dialTimeout := time.Duration(cfg.Upstream.DialTimeoutSec) * time.Second
	rpc, err := rpcclient.Dial(ctx, cfg.Upstream.URL, dialTimeout)
	if err != nil {
		return cli.Exit(fmt.Sprintf("dialing upstream: %v", err), 1)
	}
	defer rpc.Close()

	data := chain.New(store, rpc)
	if err := data.LoadActivatedFeatures(store, rpc); err != nil {
		return cli.Exit(fmt.Sprintf("loading activated features: %v", err), 1)
	}

	processor := events.New(data, store)
	evaluator := rideeval.NewReferenceEvaluator()
	reg := registry.New(evaluator, &dataProvider{data: data, processor: processor}, cfg.Orchestrator.EvaluatorPoolSize)

	if cfg.RequestListFile != "" {
		requests, err := loadRequestList(cfg.RequestListFile)
		if err != nil {
			log.Warn("Could not load persisted request list", "file", cfg.RequestListFile, "err", err)
		} else {
			reg.PreloadKnownRequests(requests)
		}
	}

	lastHeight, _, err := data.Headers.LastHeight()
	if err != nil {
		return cli.Exit(fmt.Sprintf("reading last height: %v", err), 1)
	}
	workingHeight := lastHeight + cfg.Orchestrator.WorkingHeightDelta

	stream, err := rpc.Subscribe(ctx, lastHeight, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("subscribing to updates: %v", err), 1)
	}
	defer stream.Unsubscribe()

	orch := orchestrator.New(processor, reg, stream, workingHeight)

	tracker := health.NewTracker(store, orch, data)
	tracker.Start()

	controller := api.NewController(reg, tracker)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: api.NewRouter(controller, cfg.HTTP.AllowedOrigins),
	}
	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTP.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "err", err)
		}
	}()

	runErr := orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	if err := tracker.Stop(); err != nil {
		log.Warn("Could not record clean shutdown", "err", err)
	}

	if runErr != nil && runErr != context.Canceled {
		return cli.Exit(fmt.Sprintf("orchestrator exited: %v", runErr), 1)
	}
	return nil
}

// dataProvider adapts chain.SharedBlockchainData + events.Processor into
// registry.DataProvider: the height every runScripts round pins its
// evaluations to is the height the processor last finished applying, per
// spec.md §5's "all affected scripts observe the same height" guarantee.
type dataProvider struct {
	data      *chain.SharedBlockchainData
	processor *events.Processor
}

func (p *dataProvider) Data() *chain.SharedBlockchainData { return p.data }
func (p *dataProvider) Height() chain.Height              { return p.processor.Accumulated().NewHeight }

func loadRequestList(path string) ([]registry.RequestKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		AddressHex string `json:"address"`
		Request    json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	keys := make([]registry.RequestKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, registry.RequestKey{
			Address:     parseAddressOrZero(e.AddressHex),
			RequestJSON: string(e.Request),
		})
	}
	return keys, nil
}

func parseAddressOrZero(hexStr string) chain.Address {
	var addr chain.Address
	decoded, err := hex.DecodeString(hexStr)
	if err != nil || len(decoded) != len(addr) {
		return addr
	}
	copy(addr[:], decoded)
	return addr
}
