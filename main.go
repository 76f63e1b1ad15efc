package main

import (
	"context"
	"errors"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // market calendars need zone data on hosts without it

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"autoTrader/config"
	"autoTrader/internal/adapters/logger"
	"autoTrader/internal/domain"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "autotrader",
		Short:         "Scheduled multi-market trading daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCommand(),
		newOnceCommand(),
		newScheduleCommand(),
		newFetchCommand(),
		newBacktestCommand(),
	)
	return root
}

// loadConfig loads configuration and builds the logger every command uses.
func loadConfig() (*config.Config, *logger.ZapLogger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	appLogger := logger.NewZapLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})
	return cfg, appLogger, nil
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading daemon on the market calendars",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Sync()
			return runDaemon(cfg, appLogger)
		},
	}
}

func runDaemon(cfg *config.Config, appLogger *logger.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := wire(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer d.close(appLogger)
	if err := d.restore(ctx, cfg, appLogger); err != nil {
		return err
	}

	d.notifier.Notify(ctx, domain.Event{
		Kind:    domain.EventSystem,
		Level:   domain.LevelInfo,
		Title:   "Trading daemon started",
		Message: fmt.Sprintf("%d markets, strategies %v", len(cfg.Markets), cfg.Strategies),
	})

	g, gctx := errgroup.WithContext(ctx)
	if d.metricsServer != nil {
		d.metricsServer.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.metricsServer.Stop(shutdownCtx)
		})
	}
	g.Go(func() error {
		return d.coordinator.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), err, "Trading daemon exited with error")
	}
	d.notifier.Notify(context.Background(), domain.Event{
		Kind:  domain.EventSystem,
		Level: domain.LevelInfo,
		Title: "Trading daemon stopped",
	})
	appLogger.Info(context.Background(), "Application finished gracefully.")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newOnceCommand() *cobra.Command {
	var market string
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one immediate cycle for every configured instrument and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, appLogger, err := loadConfig()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			d, err := wire(ctx, cfg, appLogger)
			if err != nil {
				return err
			}
			defer d.close(appLogger)
			if err := d.restore(ctx, cfg, appLogger); err != nil {
				return err
			}

			var failed int
			for _, m := range cfg.Markets {
				if market != "" && m.Name != market {
					continue
				}
				if err := d.service.PreOpen(ctx, m.Name, m.Instruments, time.Now().In(m.Location)); err != nil {
					appLogger.Warn(ctx, "Pre-open incomplete", map[string]interface{}{"market": m.Name, "error": err.Error()})
				}
				for _, res := range d.coordinator.RunAll(ctx, m.Name) {
					printCycle(cmd, res)
					if res.Status == domain.CycleFailed {
						failed++
					}
				}
			}
			d.coordinator.RequestShutdown()
			d.coordinator.Wait()
			if failed > 0 {
				return fmt.Errorf("%d cycles failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "", "only run this market (default all)")
	return cmd
}

func printCycle(cmd *cobra.Command, res domain.CycleResult) {
	line := fmt.Sprintf("%-3s %-10s %-9s %-4s %.2f", res.Market, res.Instrument, res.Status, res.Signal.Direction, res.Signal.Strength)
	switch {
	case res.Err != nil:
		line += "  error: " + res.Err.Error()
	case res.Outcome != nil:
		line += fmt.Sprintf("  %s %g @ %g", res.Outcome.Status, res.Outcome.FilledQuantity, res.Outcome.FilledPrice)
		if res.Duplicate {
			line += " (duplicate)"
		}
	case res.RejectReason != "":
		line += "  rejected: " + res.RejectReason
	default:
		line += "  " + res.Signal.Rationale
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
