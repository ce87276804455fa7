package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"clusterscan/internal/engine"
	"clusterscan/internal/events"
	"clusterscan/internal/logger"
	"clusterscan/internal/market"
	"clusterscan/internal/performance"
	"clusterscan/internal/rules"
	"clusterscan/internal/schedule"
	"clusterscan/internal/symbols"
	"clusterscan/internal/web"
)

func newScanCmd() *cobra.Command {
	var (
		days        int
		buyOnly     bool
		ultraOnly   bool
		showPerf    bool
		horizonName string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate recent volume events against the rule catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if showPerf {
				h, err := events.ParseHorizon(horizonName)
				if err != nil {
					return err
				}
				stats, err := a.engine.Performance(ctx, h)
				if err != nil {
					return fmt.Errorf("performance: %w", err)
				}
				if format == "json" {
					return outputJSON(map[string]interface{}{"horizon": h.String(), "rules": stats})
				}
				outputPerformanceTable(stats, h)
				return nil
			}

			var only []string
			if symbolList != "" {
				if only, err = symbols.Parse(symbolList); err != nil {
					return err
				}
			}

			runID := uuid.NewString()
			start := time.Now()
			res, err := a.engine.Signals(ctx, engine.SignalQuery{
				Days:    days,
				Symbols: only,
				Filter:  rules.Filter{BuyOnly: buyOnly, UltraOnly: ultraOnly},
			})
			if err != nil {
				return fmt.Errorf("scanning: %w", err)
			}
			a.log.Debug("scan finished",
				logger.String("run_id", runID),
				logger.Int("signals", len(res.Signals)),
				logger.Int("skipped", res.Skipped),
				logger.Int("invalid", len(res.Invalid)))

			if format == "json" {
				return outputJSON(scanReport{
					RunID:   runID,
					Days:    days,
					Signals: res.Signals,
					Skipped: res.Skipped,
					Invalid: len(res.Invalid),
					Elapsed: time.Since(start).String(),
				})
			}
			outputSignalsTable(res, days, runID, time.Since(start))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "look back this many calendar days for events")
	cmd.Flags().BoolVar(&buyOnly, "buy-only", false, "only show buy signals")
	cmd.Flags().BoolVar(&ultraOnly, "ultra", false, "only show UltraHigh volume signals")
	cmd.Flags().BoolVar(&showPerf, "performance", false, "show realised per-rule performance instead of signals")
	cmd.Flags().StringVar(&horizonName, "horizon", performance.DefaultHorizon.String(), "performance horizon: 1d, 1w, 2w, 3w, 1m")
	cmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated symbols to restrict the scan to")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var days int
	var annotate bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Download daily bars, store them and record new volume events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("universe") && symbolList == "" {
				universe = a.cfg.Scanner.Universe
			}
			syms, err := symbols.NewLoader(a.store).Resolve(ctx, symbolList, universe)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = a.cfg.Scanner.LookbackDays
			}

			fmt.Printf("Ingesting %d days for %d symbols...\n\n", days, len(syms))
			bar := newProgressBar(len(syms), "Ingesting")
			a.engine.SetProgressCallback(func(done, total int) { bar.Set(done) })

			tally, stats := a.engine.Ingest(ctx, syms, days)
			bar.Finish()
			fmt.Println()

			outputTally(tally)
			fmt.Printf("Bars written: %d | New events: %d\n", stats.Bars, stats.Events)

			if annotate && ctx.Err() == nil {
				return runAnnotate(ctx, a)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated list of symbols (overrides --universe)")
	cmd.Flags().StringVar(&universe, "universe", "", "symbol universe: "+strings.Join(symbols.Universes(), ", "))
	cmd.Flags().IntVar(&days, "days", 0, "trading days to download (default: scanner.lookback_days)")
	cmd.Flags().BoolVar(&annotate, "annotate", false, "back-fill forward returns after ingesting")
	return cmd
}

func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate",
		Short: "Back-fill forward returns for events with unresolved horizons",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return runAnnotate(ctx, a)
		},
	}
}

func runAnnotate(ctx context.Context, a *app) error {
	// The symbol count is only known once pending events are loaded.
	var bar *progressbar.ProgressBar
	a.engine.SetProgressCallback(func(done, total int) {
		if bar == nil {
			bar = newProgressBar(total, "Annotating")
		}
		bar.Set(done)
	})

	tally, written, err := a.engine.Annotate(ctx)
	if err != nil {
		return fmt.Errorf("annotating: %w", err)
	}
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if tally.Total == 0 {
		fmt.Println("No pending events.")
		return nil
	}
	outputTally(tally)
	fmt.Printf("Horizons resolved: %d\n", written)
	return nil
}

func newClassifyCmd() *cobra.Command {
	var vol int64
	var avg float64

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Show the quintile and priority of a volume against an average",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := cfg.Volume.Classify(vol, avg)
			if err != nil {
				return err
			}
			fmt.Printf("Relative volume: %.2fx\n", c.RelativeVolume)
			if floor := cfg.Volume.Multiple(c.Quintile); floor > 0 {
				fmt.Printf("Quintile:        %s (from %.2fx)\n", c.Quintile, floor)
			} else {
				fmt.Printf("Quintile:        %s (below %.2fx)\n", c.Quintile, cfg.Volume.High)
			}
			fmt.Printf("Priority:        %s\n", cfg.Volume.PriorityFor(c.Quintile))
			fmt.Printf("Volume event:    %v\n", cfg.Volume.IsEvent(c.Quintile))
			return nil
		},
	}

	cmd.Flags().Int64Var(&vol, "volume", 0, "day volume")
	cmd.Flags().Float64Var(&avg, "avg", 0, "trailing average volume")
	cmd.MarkFlagRequired("volume")
	cmd.MarkFlagRequired("avg")
	return cmd
}

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rule catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "json" {
				return outputJSON(rules.Catalog())
			}
			outputRulesTable(rules.Catalog())
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and run the daily ingest/annotate schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			if a.cfg.Schedule.Enabled {
				sched, err := newScheduler(ctx, a)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			srv := web.NewServer(web.Config{
				Port:         a.cfg.Server.Port,
				JWTSecret:    a.cfg.Server.JWTSecret,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}, a.engine, a.log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port")
	return cmd
}

func newScheduler(ctx context.Context, a *app) (*schedule.Scheduler, error) {
	loc, err := time.LoadLocation(a.cfg.Schedule.Timezone)
	if err != nil {
		loc = market.Location()
	}
	sched := schedule.New(ctx, loc, a.log)

	ingest := func(ctx context.Context) error {
		syms, err := symbols.NewLoader(a.store).Resolve(ctx, "", a.cfg.Scanner.Universe)
		if err != nil {
			return err
		}
		tally, stats := a.engine.Ingest(ctx, syms, a.cfg.Scanner.LookbackDays)
		a.log.Info("scheduled ingest",
			logger.String("tally", tally.String()),
			logger.Int64("bars", stats.Bars),
			logger.Int64("events", stats.Events))
		return nil
	}
	annotate := func(ctx context.Context) error {
		tally, written, err := a.engine.Annotate(ctx)
		if err != nil {
			return err
		}
		a.log.Info("scheduled annotate", logger.String("tally", tally.String()), logger.Int("horizons", written))
		return nil
	}

	if err := sched.Register("ingest", a.cfg.Schedule.Ingest, ingest); err != nil {
		return nil, err
	}
	if err := sched.Register("annotate", a.cfg.Schedule.Annotate, annotate); err != nil {
		return nil, err
	}
	return sched, nil
}
