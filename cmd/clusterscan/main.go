package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"clusterscan/internal/config"
	"clusterscan/internal/engine"
	"clusterscan/internal/logger"
	"clusterscan/internal/metrics"
	"clusterscan/internal/provider"
	"clusterscan/internal/ratelimit"
	"clusterscan/internal/storage"
	"clusterscan/pkg/model"
)

var (
	cfgFile    string
	symbolList string
	universe   string
	format     string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clusterscan",
		Short: "NSE/BSE volume-cluster scanner and rule engine",
		Long: `clusterscan finds days where a stock traded at a multiple of its 20-day
average volume, tracks what the price did afterwards, and turns fresh events
into buy / avoid / watch signals from a fixed rule catalog.

Examples:
  clusterscan ingest --universe nifty50
  clusterscan annotate
  clusterscan scan --days 10 --buy-only
  clusterscan scan --performance --horizon 2w
  clusterscan classify --volume 450000 --avg 100000`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")

	rootCmd.AddCommand(
		newScanCmd(),
		newIngestCmd(),
		newAnnotateCmd(),
		newClassifyCmd(),
		newRulesCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every database-backed command needs
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *storage.Store
	engine  *engine.Engine
	metrics *metrics.Recorder
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newApp(ctx context.Context, withProvider bool) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	var p provider.Provider
	if withProvider {
		p = newProvider(cfg)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	eng := engine.New(st, p, cfg.Volume, engine.Options{
		Workers: cfg.Scanner.Workers,
		Timeout: cfg.Scanner.Timeout,
	}, m, log)

	log.Debug("ready", logger.String("db", st.String()), logger.Int("workers", cfg.Scanner.Workers))
	return &app{cfg: cfg, log: log, store: st, engine: eng, metrics: m}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing database", logger.Error(err))
	}
}

func newProvider(cfg *config.Config) provider.Provider {
	limiter := ratelimit.NewLimiter("yahoo", cfg.Provider.RateLimit)
	client := &http.Client{Timeout: cfg.Provider.Timeout}
	chain := provider.NewIndiaProvider(model.Exchange(cfg.Provider.Exchange), limiter, provider.WithHTTPClient(client))
	return provider.NewCachingProvider(chain, cfg.Scanner.LookbackDays, cfg.Provider.CacheTTL)
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
