package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/domain"
	"github.com/ricesearch/rice-eval/internal/engine"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/metrics"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/platform"
	"github.com/ricesearch/rice-eval/internal/scoring"
	"github.com/ricesearch/rice-eval/internal/template"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every configured version against the ratings",
		Long: `Load the ratings, index the corpus into every configuration version and
run each rated query against each version. The resulting evaluation tree is
written as JSON to --output, or to stdout.`,
		RunE: runEvaluate,
	}

	cmd.Flags().Bool("async", false, "evaluate queries concurrently")
	cmd.Flags().Int("threads", 4, "worker threads for asynchronous evaluation")
	cmd.Flags().StringP("output", "o", "", "evaluation output file (default stdout)")
	cmd.Flags().String("platform", "memory", "search platform (memory, qdrant, ricesearch)")
	cmd.Flags().StringSlice("metrics", nil, "metrics to compute (e.g. P,R,F1,NDCG@10)")
	cmd.Flags().String("metrics-file", "", "write run telemetry in Prometheus text format")

	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath, flagOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := cfg.Log.Level
	if verbose {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	log.Info("Starting Rice Eval",
		"version", version,
		"run_id", runID,
		"platform", cfg.Platform.Type,
		"async", cfg.Evaluation.Async,
	)

	metricsSvc := metrics.New()

	// Initialize platform
	p, err := platform.New(platform.Options{
		Type:              cfg.Platform.Type,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		Logger:            log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("Error closing platform", "error", err)
		}
	}()

	// Initialize template resolution
	resolver, closeCache, err := newResolver(cfg, metricsSvc, log)
	if err != nil {
		return err
	}
	defer closeCache()

	// Run events, timed by the metrics service
	innerBus, err := bus.NewBus(cfg.Bus, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	eventBus := bus.NewMeteredBus(innerBus, metricsSvc)
	defer func() { _ = eventBus.Close() }()

	if err := eventBus.Subscribe(ctx, bus.TopicQueryCompleted, progressHandler(log)); err != nil {
		log.Warn("Progress reporting disabled", "error", err)
	}

	newManager := func(versions []string) (evaluation.Manager, error) {
		opts := evaluation.Options{
			Platform:        p,
			Templates:       resolver,
			Versions:        versions,
			Fields:          cfg.Fields,
			Threads:         cfg.Evaluation.Threads,
			ShutdownTimeout: cfg.Evaluation.ShutdownTimeout,
			Bus:             eventBus,
			RunID:           runID,
			Recorder:        metricsSvc,
			Logger:          log,
		}
		if cfg.Evaluation.Async {
			return evaluation.NewAsyncManager(opts)
		}
		return evaluation.NewSyncManager(opts), nil
	}

	eng := engine.New(engine.Options{
		Folders: engine.Folders{
			Configurations: cfg.Folders.Configurations,
			Corpora:        cfg.Folders.Corpora,
			Ratings:        cfg.Folders.Ratings,
			Templates:      cfg.Folders.Templates,
		},
		Metrics:         cfg.Metrics,
		Platform:        p,
		NewManager:      newManager,
		Async:           cfg.Evaluation.Async,
		LoadConcurrency: cfg.Evaluation.Threads,
		Bus:             eventBus,
		RunID:           runID,
		Recorder:        metricsSvc,
		Logger:          log,
	})

	eval, runErr := eng.Evaluate(ctx)
	if eval != nil {
		if err := writeEvaluation(eval, cfg.Evaluation.Output); err != nil {
			return err
		}
	}

	writeTelemetry(context.WithoutCancel(ctx), cfg.Telemetry, metricsSvc, log)

	return runErr
}

// flagOverrides applies explicitly set flags on top of file and env config.
func flagOverrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("async") {
			cfg.Evaluation.Async, _ = flags.GetBool("async")
		}
		if flags.Changed("threads") {
			cfg.Evaluation.Threads, _ = flags.GetInt("threads")
		}
		if flags.Changed("output") {
			cfg.Evaluation.Output, _ = flags.GetString("output")
		}
		if flags.Changed("platform") {
			cfg.Platform.Type, _ = flags.GetString("platform")
		}
		if flags.Changed("metrics") {
			cfg.Metrics, _ = flags.GetStringSlice("metrics")
		}
		if flags.Changed("metrics-file") {
			cfg.Telemetry.TextfilePath, _ = flags.GetString("metrics-file")
		}
	}
}

// newResolver builds the template resolver for the configured cache. The
// returned func releases the cache.
func newResolver(cfg *config.Config, recorder template.CacheRecorder, log *logger.Logger) (template.Resolver, func(), error) {
	files, err := template.NewFileResolver(cfg.Folders.Templates)
	if err != nil {
		return nil, nil, err
	}

	var cache template.Cache
	closeCache := func() {}

	switch cfg.Cache.Type {
	case "none":
		return files, closeCache, nil
	case "redis":
		rc, err := template.NewRedisCache(cfg.Cache.RedisURL, cfg.CacheTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect template cache: %w", err)
		}
		cache = rc
		closeCache = func() { _ = rc.Close() }
		log.Info("Using Redis template cache")
	default:
		cache = template.NewMemoryCache()
	}

	resolver := template.NewCachingResolver(files, cache, log)
	resolver.SetRecorder(recorder)
	return resolver, closeCache, nil
}

func progressHandler(log *logger.Logger) bus.Handler {
	return func(_ context.Context, event bus.Event) error {
		payload, ok := event.Payload.(bus.QueryCompleted)
		if !ok {
			return nil
		}
		log.Debug("Query completed",
			"query_group", payload.QueryGroup,
			"query", payload.Query,
			"progress", fmt.Sprintf("%d/%d", payload.Completed, payload.Total),
		)
		return nil
	}
}

func writeEvaluation(eval *domain.Evaluation, output string) error {
	data, err := json.MarshalIndent(eval, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}
	data = append(data, '\n')

	if output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write evaluation: %w", err)
	}
	return nil
}

// writeTelemetry exports run metrics. Failures are logged, not returned.
func writeTelemetry(ctx context.Context, cfg config.TelemetryConfig, m *metrics.Metrics, log *logger.Logger) {
	if cfg.TextfilePath != "" {
		if err := m.WriteTextfile(cfg.TextfilePath); err != nil {
			log.Warn("Failed to write metrics file", "path", cfg.TextfilePath, "error", err)
		}
	}

	if cfg.RedisURL == "" {
		return
	}
	storage, err := metrics.NewRedisStorage(cfg.RedisURL)
	if err != nil {
		log.Warn("Score history unavailable", "error", err)
		return
	}
	defer storage.Close()
	if cfg.HistoryTTL > 0 {
		storage.SetTTL(cfg.HistoryTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := storage.SaveScores(ctx, m, time.Now()); err != nil {
		log.Warn("Failed to save score history", "error", err)
	}
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List the available ranking metrics",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(strings.Join(scoring.Names(), "\n"))
		},
	}
}
