package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"autoTrader/internal/domain"
	"autoTrader/internal/scheduler"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/backtesting"
	"autoTrader/internal/strategy/optimization"
	"autoTrader/internal/strategy/strategies"
	"autoTrader/internal/utils"
)

func newScheduleCommand() *cobra.Command {
	var (
		days     int
		intraday bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the jobs the calendars will fire over the next days",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Sync()
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MARKET\tKIND\tLOCAL\tUTC\t")
			cycles := make(map[string]int)
			for _, job := range scheduler.DueBetween(now, now.AddDate(0, 0, days), cfg.Markets) {
				if job.Kind == scheduler.JobIntraday && !intraday {
					cycles[job.Market]++
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", job.Market, job.Kind,
					job.At.Format("Mon 2006-01-02 15:04 MST"), job.At.UTC().Format("15:04"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			for _, m := range cfg.Markets {
				if n := cycles[m.Name]; n > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d intraday triggers x %d instruments\n", m.Name, n, len(m.Instruments))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 3, "how many days ahead to list")
	cmd.Flags().BoolVar(&intraday, "intraday", false, "list every intraday trigger instead of a count")
	return cmd
}

func newFetchCommand() *cobra.Command {
	var (
		instrument string
		bars       int
		out        string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download recent price bars to CSV for backtesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Sync()
			ctx := cmd.Context()

			venue, err := newVenue(cfg, appLogger)
			if err != nil {
				return err
			}
			history, err := venue.GetPriceHistory(ctx, instrument, bars)
			if err != nil {
				return fmt.Errorf("error fetching price history: %w", err)
			}
			if out == "" {
				out = filepath.Join("data", fmt.Sprintf("%s_%s_%s.csv", instrument, cfg.Interval, time.Now().Format("20060102")))
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := utils.WritePriceBarsToCSV(history, out); err != nil {
				return fmt.Errorf("error writing CSV: %w", err)
			}
			appLogger.Info(ctx, "Saved price bars", map[string]interface{}{"count": len(history), "filename": out})
			return nil
		},
	}
	cmd.Flags().StringVar(&instrument, "instrument", "BTCUSDT", "instrument to download")
	cmd.Flags().IntVar(&bars, "bars", 1000, "number of most recent bars")
	cmd.Flags().StringVar(&out, "out", "", "output file (default data/<instrument>_<interval>_<date>.csv)")
	return cmd
}

func newBacktestCommand() *cobra.Command {
	var (
		csvPath    string
		instrument string
		market     string
		funds      float64
		ranges     string
		top        int
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a CSV of price bars through the strategies and risk rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Sync()
			ctx := cmd.Context()
			if funds <= 0 {
				return fmt.Errorf("--funds must be positive")
			}

			bars, err := utils.ReadPriceBarsFromCSV(csvPath)
			if err != nil {
				return err
			}
			if instrument == "" && len(bars) > 0 {
				instrument = bars[0].Instrument
			}
			for i := range bars {
				bars[i].Instrument = instrument
			}
			appLogger.Info(ctx, "Loaded price bars", map[string]interface{}{"count": len(bars), "file": csvPath})

			engine, err := strategy.NewEngine(strategy.Config{Weights: cfg.StrategyWeights, MaxGap: cfg.MaxGap}, appLogger)
			if err != nil {
				return err
			}
			btCfg := backtesting.BacktestConfig{
				Instrument:   instrument,
				Market:       market,
				InitialFunds: funds,
				Risk:         cfg.Risk,
				Logger:       appLogger,
			}

			if ranges != "" {
				return runOptimization(ctx, cmd, engine, btCfg, cfg.Strategies, cfg.StrategyParams, ranges, top, bars)
			}

			set, err := strategies.Build(cfg.Strategies, cfg.StrategyParams)
			if err != nil {
				return err
			}
			res, err := backtesting.Backtest(ctx, engine, set, bars, btCfg)
			if err != nil {
				return err
			}
			return printBacktest(cmd, funds, res)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "price bar CSV written by fetch")
	cmd.Flags().StringVar(&instrument, "instrument", "", "instrument name (default from the CSV)")
	cmd.Flags().StringVar(&market, "market", "US", "market the bars belong to")
	cmd.Flags().Float64Var(&funds, "funds", 10000, "starting cash")
	cmd.Flags().StringVar(&ranges, "optimize", "", "parameter sweep, e.g. MAShort=3:10:1,MALong=15:40:5")
	cmd.Flags().IntVar(&top, "top", 10, "optimization results to show")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func printBacktest(cmd *cobra.Command, funds float64, res *backtesting.BacktestResult) error {
	perf := res.Performance
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Bars\t%d\n", res.Bars)
	fmt.Fprintf(w, "Signals\t%d\n", res.Signals)
	fmt.Fprintf(w, "Forced exits\t%d\n", res.ForcedExits)
	fmt.Fprintf(w, "Risk rejections\t%d\n", res.Rejected)
	fmt.Fprintf(w, "Fills\t%d\n", perf.TotalFills)
	fmt.Fprintf(w, "Closed trades\t%d (won %d, lost %d)\n", perf.ClosedTrades, perf.WinningTrades, perf.LosingTrades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", perf.WinRate*100)
	fmt.Fprintf(w, "Realized P&L\t%.2f\n", perf.RealizedPnL)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", perf.ProfitFactor)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", perf.MaxDrawdown*100)
	fmt.Fprintf(w, "Sharpe\t%.2f\n", res.SharpeRatio)
	fmt.Fprintf(w, "Final equity\t%.2f (%+.2f%%)\n", res.FinalEquity, (res.FinalEquity-funds)/funds*100)
	if !res.OpenPosition.IsFlat() {
		fmt.Fprintf(w, "Open position\t%g @ %.2f\n", res.OpenPosition.Quantity, res.OpenPosition.AverageCost)
	}
	for reason, n := range res.RejectReasons {
		fmt.Fprintf(w, "Rejected: %s\t%d\n", reason, n)
	}
	return w.Flush()
}

func runOptimization(ctx context.Context, cmd *cobra.Command, engine *strategy.Engine, btCfg backtesting.BacktestConfig,
	names []string, base strategies.Params, spec string, top int, bars []domain.PriceBar) error {
	parsed, err := optimization.ParseRanges(spec)
	if err != nil {
		return err
	}
	opt, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: parsed,
		Strategies:      names,
		Base:            base,
		Backtest:        btCfg,
	}, engine)
	if err != nil {
		return err
	}
	results, err := opt.Optimize(ctx, bars)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no parameter combination produced a valid backtest")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tPARAMS\tTRADES\tWIN%\tPNL\tMAXDD%\t")
	for i, r := range results {
		if i == top {
			break
		}
		fmt.Fprintf(w, "%.3f\t%v\t%d\t%.1f\t%.2f\t%.1f\t\n", r.Score, r.Parameters,
			r.Metrics.ClosedTrades, r.Metrics.WinRate*100, r.Metrics.RealizedPnL, r.Metrics.MaxDrawdown*100)
	}
	return w.Flush()
}
