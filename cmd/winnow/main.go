// Command winnow harvests complete collections from a windowed search API,
// checkpointing after every page so interrupted runs resume where they left
// off.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cbrandt/winnow/pkg/checkpoint"
	"github.com/cbrandt/winnow/pkg/client"
	"github.com/cbrandt/winnow/pkg/harvest"
	"github.com/cbrandt/winnow/pkg/logging"
	"github.com/cbrandt/winnow/pkg/registry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	godotenv.Load()

	fs := flag.NewFlagSet("winnow", flag.ContinueOnError)
	var (
		collectionsFlag = fs.String("collections", "", "comma-separated collection names, or 'all' (required)")
		registryPath    = fs.String("registry", getEnv("WINNOW_REGISTRY", ""), "YAML collections registry file")
		baseURL         = fs.String("base-url", getEnv("WINNOW_BASE_URL", ""), "search API endpoint (required)")
		outputDir       = fs.String("out", getEnv("WINNOW_OUT", "data"), "output directory")
		pageSize        = fs.Int("page-size", 1000, "records requested per page")
		windowLimit     = fs.Int("window", 10000, "maximum from+size the server accepts")
		field           = fs.String("field", "name", "segmentation field name")
		alphabet        = fs.String("alphabet", "abcdefghijklmnopqrstuvwxyz0123456789", "segmentation alphabet")
		maxDepth        = fs.Int("depth", 4, "maximum segmentation prefix depth")
		restart         = fs.Bool("restart", false, "discard existing checkpoint and output before running")
		checkpointKind  = fs.String("checkpoint", getEnv("WINNOW_CHECKPOINT", "file"), "checkpoint backend: file or redis")
		redisURL        = fs.String("redis", getEnv("REDIS_URL", "localhost:6379"), "redis address for the redis checkpoint backend")
		rateLimit       = fs.Float64("rate", 5, "maximum requests per second (0 disables pacing)")
		metricsAddr     = fs.String("metrics-addr", getEnv("WINNOW_METRICS_ADDR", ""), "address for the Prometheus /metrics endpoint (empty disables)")
		logLevel        = fs.String("log-level", getEnv("WINNOW_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
		pretty          = fs.Bool("pretty", false, "human-readable console logs")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(*logLevel),
		Pretty: *pretty,
		Output: os.Stderr,
	})

	if *collectionsFlag == "" {
		return fmt.Errorf("-collections is required")
	}
	if *baseURL == "" {
		return fmt.Errorf("-base-url (or WINNOW_BASE_URL) is required")
	}

	reg, err := loadRegistry(*registryPath, *collectionsFlag)
	if err != nil {
		return err
	}
	collections, err := reg.Select(splitList(*collectionsFlag))
	if err != nil {
		return err
	}

	apiCfg := client.DefaultConfig(*baseURL)
	apiCfg.RateLimit = *rateLimit
	api, err := client.New(apiCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	store, err := newStore(*checkpointKind, *outputDir, *redisURL)
	if err != nil {
		return err
	}

	harvester, err := harvest.New(api, store, harvest.Config{
		OutputDir:   *outputDir,
		PageSize:    *pageSize,
		WindowLimit: *windowLimit,
		Field:       *field,
		Alphabet:    *alphabet,
		MaxDepth:    *maxDepth,
	})
	if err != nil {
		return fmt.Errorf("create harvester: %w", err)
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	// Interruption is safe: state is persisted after every page, so a
	// terminated run resumes from its checkpoint.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := harvester.RunAll(ctx, collections, *restart)

	failed := 0
	for _, result := range results {
		fmt.Println(result.Summary())
		for _, warning := range result.Warnings {
			fmt.Printf("  warning: %s\n", warning)
		}
		if result.Status != harvest.StatusCompleted {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d collections did not complete", failed, len(results))
	}
	return nil
}

// loadRegistry reads the YAML registry, or derives filters from the
// requested names when no registry file is given.
func loadRegistry(path, collectionsFlag string) (*registry.Registry, error) {
	if path != "" {
		return registry.LoadFile(path)
	}

	names := splitList(collectionsFlag)
	if len(names) == 1 && names[0] == "all" {
		return nil, fmt.Errorf("'all' requires a registry file (-registry)")
	}

	collections := make([]registry.Collection, 0, len(names))
	for _, name := range names {
		collections = append(collections, registry.Collection{
			Name:   name,
			Filter: fmt.Sprintf("collection:%q", name),
		})
	}
	return registry.New(collections)
}

func newStore(kind, outputDir, redisURL string) (checkpoint.Store, error) {
	switch kind {
	case "file":
		return checkpoint.NewFileStore(filepath.Join(outputDir, "state"))
	case "redis":
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", redisURL, err)
		}
		return checkpoint.NewRedisStore(redisClient)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q (want file or redis)", kind)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
