// Command adforge runs the batch ad-image generation pipeline end to
// end: load the row table, search/select/condition/compose one image
// per row, and flush progress as it goes. Flags mirror
// original_source's CLI entrypoint; config loading and the
// banner/logging idioms follow cmd/vire-server/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/adforge/pipeline/internal/batch/breaker"
	"github.com/adforge/pipeline/internal/batch/compose"
	"github.com/adforge/pipeline/internal/batch/condition"
	"github.com/adforge/pipeline/internal/batch/dedup"
	"github.com/adforge/pipeline/internal/batch/imagecache"
	"github.com/adforge/pipeline/internal/batch/notify"
	"github.com/adforge/pipeline/internal/batch/orchestrator"
	"github.com/adforge/pipeline/internal/batch/progress"
	"github.com/adforge/pipeline/internal/batch/ratelimit"
	"github.com/adforge/pipeline/internal/batch/rowtable"
	"github.com/adforge/pipeline/internal/batch/search"
	"github.com/adforge/pipeline/internal/batch/selector"
	"github.com/adforge/pipeline/internal/batch/shutdown"
	"github.com/adforge/pipeline/internal/batch/verify"
	"github.com/adforge/pipeline/internal/batchconfig"
	"github.com/adforge/pipeline/internal/common"
)

const (
	exitOK           = 0
	exitGracefulStop = 130
	exitForcedStop   = 1
	exitConfigError  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to a TOML config file")
		inputPath   = flag.String("input", "", "path to the input row-table CSV (required)")
		imagesDir   = flag.String("images-dir", "./data/images", "directory to write generated images into")
		start       = flag.Int("start", 0, "first row index to process (0-based, inclusive)")
		end         = flag.Int("end", 0, "last row index to process (exclusive); 0 means to the end of the table")
		workers     = flag.Int("workers", 0, "worker count; 0 uses the config default")
		resume      = flag.Bool("resume", false, "skip rows already marked done in the progress store")
		dlq         = flag.Bool("dlq", false, "force the dead-letter retry pass regardless of config")
		chunkSize   = flag.Int("chunk-size", 0, "rows per dispatch chunk; 0 uses the config default")
		resetStores = flag.Bool("reset-stores", false, "wipe the progress store and image cache before running")
		webhookURL  = flag.String("webhook", "", "optional webhook URL for run notifications")
		showVersion = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	common.LoadVersionFromFile()
	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return exitOK
	}

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "adforge: -input is required")
		return exitConfigError
	}

	cfg, err := batchconfig.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adforge: failed to load config: %v\n", err)
		return exitConfigError
	}

	runID := uuid.NewString()
	logger := common.NewLogger(cfg.Logging.Level).WithCorrelationId(runID)

	table, err := rowtable.Load(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adforge: failed to load row table: %v\n", err)
		return exitConfigError
	}
	if err := os.MkdirAll(*imagesDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "adforge: failed to create images dir: %v\n", err)
		return exitConfigError
	}
	tempDir, err := os.MkdirTemp("", "adforge-tmp-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "adforge: failed to create temp dir: %v\n", err)
		return exitConfigError
	}
	defer os.RemoveAll(tempDir)

	if *resetStores {
		_ = os.RemoveAll(cfg.Storage.ProgressPath)
		_ = os.RemoveAll(cfg.Storage.CachePath)
	}

	progressStore, err := progress.Open(logger, cfg.Storage.ProgressPath, cfg.MaxRetries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "adforge: failed to open progress store: %v\n", err)
		return exitConfigError
	}
	defer progressStore.Close()

	var cache *imagecache.Cache
	if cfg.CacheEnabled {
		cache, err = imagecache.Open(logger, cfg.Storage.CachePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "adforge: failed to open image cache: %v\n", err)
			return exitConfigError
		}
		defer cache.Close()
	}

	resolvedWorkers := cfg.Workers
	if *workers > 0 {
		resolvedWorkers = *workers
	}
	resolvedChunkSize := cfg.ChunkSize
	if *chunkSize > 0 {
		resolvedChunkSize = *chunkSize
	}

	coord := shutdown.New(nil)
	stopSignals := coord.InstallSignalHandler(syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	breakerRegistry := breaker.NewRegistry(3, 120*time.Second)
	bindings, providerNames := buildSearchBindings(cfg, logger, breakerRegistry)
	broker := search.New(logger, bindings)

	stage1 := toVerifyThresholds(cfg.Stage1)
	stage2 := toVerifyThresholds(cfg.Stage2)
	verifier := verify.New(nil)

	sharedDedup := dedup.New()
	stats := orchestrator.NewStats(time.Now())

	newWorker := func(slot int) *orchestrator.RowWorker {
		downloader := selector.NewDownloader(cfg.GetRowTimeout())
		sel := selector.New(downloader, sharedDedup, verifier, selector.DefaultValidationConfig(), selector.SelectionConfig{
			MaxVerifyCandidates:     cfg.MaxVerifyCandidates,
			MinCandidatesBeforeBest: cfg.MinCandidatesBeforeBest,
			Thresholds:              stage1,
		}, logger)
		remover := condition.New(&condition.FloodFillBackend{ColorTolerance: 24}, condition.DefaultConfig())
		compositor := compose.New(compose.DefaultTemplates)

		workerCfg := orchestrator.WorkerConfig{
			Columns:              orchestrator.DefaultColumnConfig(),
			ImagesDir:            *imagesDir,
			TempDirRoot:          tempDir,
			SearchOptions: search.Options{
				MaxResults:           cfg.SearchMaxResults,
				SufficiencyThreshold: cfg.SearchSufficiencyCount,
				InterProviderDelay:   cfg.GetInterProviderDelay(),
				PerProviderResults:   cfg.SearchPerProviderResults,
			},
			Stage1Thresholds:     stage1,
			Stage2Thresholds:     stage2,
			MaxRecomposeAttempts: cfg.MaxRecomposeAttempts,
			CacheEnabled:         cfg.CacheEnabled,
			RowTimeout:           cfg.GetRowTimeout(),
		}
		return orchestrator.NewRowWorker(workerCfg, broker, sel, cache, progressStore, remover, compositor, verifier, coord, table, stats, logger, slot)
	}

	var notifier notify.Notifier
	if *webhookURL != "" {
		notifier = notify.NewWebhookNotifier(*webhookURL, 5*time.Second, logger)
	} else {
		notifier = notify.NewLoggingNotifier(logger)
	}

	orchCfg := orchestrator.Config{
		Start:          *start,
		End:            *end,
		Workers:        resolvedWorkers,
		ChunkSize:      resolvedChunkSize,
		CheckpointEach: cfg.CheckpointEach,
		Resume:         *resume,
		DeadLetterPass: cfg.DeadLetterPass || *dlq,
		OutputPath:     *inputPath,
	}
	orch := orchestrator.New(orchCfg, table, progressStore, cache, stats, notifier, coord, logger, newWorker, breakerRegistry, providerNames)
	broker.OnCall = func(provider string, success bool, resultCount int, latency time.Duration, errMsg string) {
		orch.Health().RecordCall(provider, success, resultCount, latency, errMsg)
	}

	common.PrintBanner(common.RunSummary{
		RunID:     runID,
		InputPath: *inputPath,
		ImagesDir: *imagesDir,
		Workers:   resolvedWorkers,
		Resume:    *resume,
		RowCount:  table.Len(),
	}, logger)

	ctx := context.Background()
	report, err := orch.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
	}

	common.PrintShutdownBanner(logger, report.Elapsed.Seconds(), int(report.Stats.Success), int(report.Stats.Failed), int(report.Stats.Placeholder))
	fmt.Fprintln(os.Stderr, report.String())

	switch {
	case coord.TripCount() >= 2:
		return exitForcedStop
	case coord.Tripped():
		return exitGracefulStop
	case err != nil:
		return exitForcedStop
	default:
		return exitOK
	}
}

func toVerifyThresholds(t batchconfig.VerifyThresholds) verify.Thresholds {
	return verify.Thresholds{
		ClipAcceptHi:   t.ClipAccept,
		ClipRejectLo:   t.ClipReject,
		CombinedAccept: t.CombinedAccept,
		CombinedReject: t.CombinedReject,
		ClipWeight:     0.6,
		BlipWeight:     0.4,
	}
}

// buildSearchBindings wires one search.Binding per configured provider,
// each with its own rate limiter and circuit breaker, grounded on the
// teacher's per-client rate limiting in clients/eodhd. Each breaker is
// registered in breakers under the provider's name, so the final health
// report shows the state of the breaker the broker actually consults.
func buildSearchBindings(cfg *batchconfig.PipelineConfig, logger *common.Logger, breakers *breaker.Registry) ([]search.Binding, []string) {
	httpClient := &http.Client{Timeout: cfg.GetRowTimeout()}

	bindings := make([]search.Binding, 0, len(cfg.Providers))
	names := make([]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		ratePerSecond := p.RatePerSecond
		if ratePerSecond <= 0 {
			ratePerSecond = 2
		}
		threshold := p.BreakerThreshold
		if threshold <= 0 {
			threshold = 3
		}
		provider := search.NewHTTPProvider(p.Name, p.Endpoint, httpClient, logger)
		breakers.SetParams(p.Name, threshold, p.GetBreakerCooldown())
		bindings = append(bindings, search.Binding{
			Name:     p.Name,
			Provider: provider,
			Limiter:  ratelimit.New(ratePerSecond),
			Breaker:  breakers.Get(p.Name),
		})
		names = append(names, p.Name)
	}
	return bindings, names
}
