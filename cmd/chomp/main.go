// Command chomp runs the clustered ingestion-core engine.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"chomp/internal/cache"
	"chomp/internal/config"
	"chomp/internal/ingest"
	"chomp/internal/loader/evmlogger"
	"chomp/internal/loader/wsapi"
	"chomp/internal/logging"
	"chomp/internal/plugin"
	"chomp/internal/publish"
	"chomp/internal/registry"
	"chomp/internal/schedule"
	"chomp/internal/store"

	_ "chomp/internal/loader/evmcaller"
	_ "chomp/internal/loader/httpapi"
	_ "chomp/internal/loader/monitor"
	_ "chomp/internal/loader/processor"
	_ "chomp/internal/loader/scraper"
	_ "chomp/internal/loader/suicaller"
	_ "chomp/internal/loader/svmcaller"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "chomp",
		Short: "Clustered configuration-driven ingestion engine",
	}

	rootCmd.PersistentFlags().String("env-file", "", "path to a .env file to load before reading environment variables")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug-level logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load configuration and start ingesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			verbose, _ := cmd.Flags().GetBool("verbose")
			configs, _ := cmd.Flags().GetString("configs")
			maxJobs, _ := cmd.Flags().GetInt("max-jobs")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			retryCooldown, _ := cmd.Flags().GetDuration("retry-cooldown")
			instanceID, _ := cmd.Flags().GetString("instance-id")
			perpetual, _ := cmd.Flags().GetBool("perpetual-indexing")
			monitored, _ := cmd.Flags().GetBool("monitored")

			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env-file %q: %w", envFile, err)
				}
			}
			if verbose {
				filterHandler.SetLevel("", slog.LevelDebug)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, logger, runOptions{
				configs:       firstNonEmpty(configs, os.Getenv("INGESTER_CONFIGS")),
				maxJobs:       firstPositiveInt(maxJobs, os.Getenv("MAX_JOBS"), 4),
				maxRetries:    firstPositiveInt(maxRetries, os.Getenv("MAX_RETRIES"), 5),
				retryCooldown: firstPositiveDuration(retryCooldown, os.Getenv("RETRY_COOLDOWN"), 2*time.Second),
				instanceID:    instanceID,
				perpetual:     perpetual || envFlag("PERPETUAL_INDEXING"),
				monitored:     monitored,
			})
		},
	}

	runCmd.Flags().String("configs", "", "comma-separated list of YAML configuration paths (env: INGESTER_CONFIGS)")
	runCmd.Flags().Int("max-jobs", 0, "maximum concurrent tick jobs (env: MAX_JOBS, default 4)")
	runCmd.Flags().Int("max-retries", 0, "per-tick retry budget (env: MAX_RETRIES, default 5)")
	runCmd.Flags().Duration("retry-cooldown", 0, "base cooldown between retries (env: RETRY_COOLDOWN, default 2s)")
	runCmd.Flags().String("instance-id", "", "override this process's claim-owner identifier")
	runCmd.Flags().Bool("perpetual-indexing", false, "run evm_logger ingesters in perpetual (subscription) mode (env: PERPETUAL_INDEXING)")
	runCmd.Flags().Bool("monitored", false, "enable monitor ingesters for this process")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runOptions struct {
	configs       string
	maxJobs       int
	maxRetries    int
	retryCooldown time.Duration
	instanceID    string
	perpetual     bool
	monitored     bool
}

func run(ctx context.Context, logger *slog.Logger, opts runOptions) error {
	if opts.configs == "" {
		return fmt.Errorf("no configuration paths given (pass --configs or set INGESTER_CONFIGS)")
	}

	evmlogger.SetPerpetual(opts.perpetual)

	plugins := plugin.NewRegistry()
	plugin.RegisterBuiltins(plugins)
	wsapi.SetPluginRegistry(plugins)

	namespaces, err := config.LoadAll(opts.configs)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	var ingesters []*ingest.Ingester
	for _, ns := range namespaces {
		ingesters = append(ingesters, ns.Ingesters...)
	}
	if !opts.monitored {
		ingesters = dropMonitors(ingesters)
	}
	logger.Info("configuration loaded", "namespaces", len(namespaces), "ingesters", len(ingesters))

	cacheImpl, err := openCache(logger)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer cacheImpl.Close()

	storeImpl, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer storeImpl.Close()

	namespace := firstNonEmpty(os.Getenv("CHOMP_NAMESPACE"), "chomp")
	reg := registry.New(registry.Config{Namespace: namespace, Cache: cacheImpl, Logger: logger})
	if err := reg.Register(ctx, ingesters); err != nil {
		return fmt.Errorf("register ingesters: %w", err)
	}

	pub := publish.NewCachePublisher(cacheImpl, logger)

	sched, err := schedule.New(schedule.Config{
		Namespace:     namespace,
		InstanceID:    opts.instanceID,
		MaxJobs:       opts.maxJobs,
		MaxRetries:    opts.maxRetries,
		RetryCooldown: opts.retryCooldown,
		Cache:         cacheImpl,
		Registry:      reg,
		Store:         storeImpl,
		Publisher:     pub,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	if err := sched.Schedule(ingesters); err != nil {
		return fmt.Errorf("schedule ingesters: %w", err)
	}

	sched.Start()
	logger.Info("chomp started", "instance", opts.instanceID, "ingesters", len(ingesters))

	go watchReload(ctx, logger, opts, namespaces, sched)

	<-ctx.Done()
	logger.Info("shutting down")
	return sched.Stop()
}

// watchReload re-reads opts.configs on SIGHUP and applies the resulting
// config.Diff to the running scheduler: removed ingesters are unscheduled,
// added and redefined ones are (re)scheduled, everything else keeps running
// untouched. Grounded on the teacher's reconfig_*.go family (internal/
// orchestrator/reconfig.go), which likewise patches a running orchestrator
// in place rather than restarting it.
func watchReload(ctx context.Context, logger *slog.Logger, opts runOptions, current []*config.Namespace, sched *schedule.Scheduler) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := config.LoadAll(opts.configs)
			if err != nil {
				logger.Error("reload failed, keeping prior configuration", "error", err)
				continue
			}
			diff := config.Diff(current, next)
			if diff.Empty() {
				logger.Info("reload: no changes")
				current = next
				continue
			}

			var ingesters []*ingest.Ingester
			for _, ns := range next {
				ingesters = append(ingesters, ns.Ingesters...)
			}
			if !opts.monitored {
				ingesters = dropMonitors(ingesters)
			}

			if err := sched.Reschedule(diff, ingesters); err != nil {
				logger.Error("reload: reschedule failed", "error", err)
				continue
			}
			logger.Info("reload applied", "added", len(diff.Added), "removed", len(diff.Removed), "changed", len(diff.Changed))
			current = next
		}
	}
}

// dropMonitors excludes monitor ingesters when this process was not
// launched with --monitored (spec §6 CLI surface: "a monitored flag").
func dropMonitors(ingesters []*ingest.Ingester) []*ingest.Ingester {
	out := make([]*ingest.Ingester, 0, len(ingesters))
	for _, ing := range ingesters {
		if ing.Kind != ingest.KindMonitor {
			out = append(out, ing)
		}
	}
	return out
}

// openCache builds the Cache from environment variables: Redis when
// REDIS_ADDR is set, the in-memory façade otherwise (single-instance
// evaluation, never production — spec §5 requires cross-process claims).
func openCache(logger *slog.Logger) (cache.Cache, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Warn("REDIS_ADDR not set; using in-memory cache (single-instance only)")
		return cache.NewMemory(), nil
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return cache.NewRedis(cache.RedisConfig{
		Addr:     addr,
		Username: os.Getenv("REDIS_USERNAME"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Logger:   logger,
	})
}

// openStore builds the Store named by TSDB_ADAPTER (spec §6): postgres, or
// memory for evaluation.
func openStore(ctx context.Context) (store.Store, error) {
	switch os.Getenv("TSDB_ADAPTER") {
	case "", "postgres":
		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when TSDB_ADAPTER=postgres")
		}
		return store.NewPostgres(ctx, dsn)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown TSDB_ADAPTER %q", os.Getenv("TSDB_ADAPTER"))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositiveInt(flagVal int, envVal string, fallback int) int {
	if flagVal > 0 {
		return flagVal
	}
	if n, err := strconv.Atoi(envVal); err == nil && n > 0 {
		return n
	}
	return fallback
}

func firstPositiveDuration(flagVal time.Duration, envVal string, fallback time.Duration) time.Duration {
	if flagVal > 0 {
		return flagVal
	}
	if d, err := time.ParseDuration(envVal); err == nil && d > 0 {
		return d
	}
	return fallback
}

func envFlag(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true" || v == "TRUE" || v == "True"
}
