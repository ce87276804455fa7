package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"clusterscan/internal/config"
	"clusterscan/internal/feed"
	"clusterscan/internal/logger"
	"clusterscan/internal/metrics"
	"clusterscan/internal/storage"
	"clusterscan/internal/symbols"
)

var (
	cfgFile     string
	symbolList  string
	metricsAddr string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedrelay",
		Short: "Relay live broker quotes into Redis and the tick table",
		Long: `feedrelay subscribes to the broker WebSocket stream, republishes every quote
on a per-symbol Redis channel, keeps the latest quote per symbol in Redis,
batches quotes into the ticks table and publishes an alert whenever a symbol's
running day volume crosses into a higher quintile during market hours.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated symbols (default: feed.symbols, then every stored symbol)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address, e.g. :9102")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := storage.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	list := symbolList
	if list == "" {
		list = strings.Join(cfg.Feed.Symbols, ",")
	}
	syms, err := symbols.NewLoader(st).Resolve(ctx, list, "")
	if err != nil {
		return fmt.Errorf("resolving symbols: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", logger.Error(err))
			}
		}()
	}

	buffer := feed.NewBuffer(st, cfg.Feed.BatchSize, cfg.Feed.FlushInterval, m, log)
	relay := feed.NewRelay(rdb, feed.RelayConfig{
		QuotePrefix:     cfg.Redis.QuotePrefix,
		LastQuotePrefix: cfg.Redis.LastQuotePrefix,
		LastQuoteTTL:    cfg.Redis.LastQuoteTTL,
		AlertChannel:    cfg.Redis.AlertChannel,
	}, cfg.Volume, st, buffer, m, log)

	client := feed.NewClient(feed.ClientConfig{
		URL:            cfg.Feed.URL,
		Token:          cfg.Feed.Token,
		Symbols:        syms,
		PingInterval:   cfg.Feed.PingInterval,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
	}, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buffer.Run(ctx)
	}()

	log.Info("relay started",
		logger.Int("symbols", len(syms)),
		logger.String("redis", cfg.Redis.Addr),
		logger.String("alerts", cfg.Redis.AlertChannel))

	err = client.Run(ctx, relay.Handle)
	client.Close()

	// The buffer does its final flush once ctx is done.
	wg.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	log.Info("relay stopped", logger.Int64("dropped_ticks", buffer.Dropped()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
