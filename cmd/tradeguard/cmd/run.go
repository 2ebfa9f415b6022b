package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against replayed market data",
	Long: `Run the signal engine, risk gate and portfolio monitors with paper
execution. Market data is replayed from the CSV files named in the config,
one bar every --bar-interval, until every series is exhausted or the process
is interrupted.

The ops API (health, metrics, accounts, alerts) listens on http.addr.

Example:
  tradeguard run -c tradeguard.yaml --bar-interval 250ms`,
	RunE: runRun,
}

var runBarInterval time.Duration

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runBarInterval, "bar-interval", time.Second, "wall time between replayed bars")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	if err := a.sched.Add(scheduler.Job{
		Name:  "market_replay",
		Every: runBarInterval,
		Run: func(ctx context.Context) error {
			a.recordEquity(ctx)
			if !a.src.Advance() {
				log.Info("market replay finished")
				stop()
			}
			return nil
		},
	}); err != nil {
		return err
	}

	go a.bus.Run(ctx)
	if cfg.HTTP.Addr != "" {
		go func() {
			if err := a.server().Serve(ctx, cfg.HTTP.Addr, cfg.HTTP.Mode); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("ops api stopped", zap.Error(err))
			}
		}()
	}

	log.Info("tradeguard running",
		zap.Int("accounts", len(cfg.Accounts)),
		zap.Int("strategies", len(cfg.Strategies)),
		zap.String("http", cfg.HTTP.Addr))

	a.sched.Start(ctx)
	<-ctx.Done()
	a.sched.Wait()

	// one last pass so the summary reflects the final bar
	timeout := cfg.Scheduler.BatchTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	final, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := errors.Join(a.engine.MarkToMarket(final), a.engine.RefreshMetrics(final)); err != nil {
		log.Warn("final refresh", zap.Error(err))
	}
	a.recordEquity(final)
	a.summary(cmd.OutOrStdout())
	return nil
}

func (a *app) recordEquity(ctx context.Context) {
	if a.journal == nil {
		return
	}
	now := a.clock()
	for _, acct := range a.book.Accounts() {
		if err := a.journal.RecordEquity(ctx, journal.SnapshotOf(acct, now)); err != nil {
			a.log.Warn("journal equity", zap.String("account", acct.ID), zap.Error(err))
		}
	}
}

func (a *app) summary(w io.Writer) {
	fmt.Fprintln(w, "\nFinal Results:")
	for _, acct := range a.book.Accounts() {
		fmt.Fprintf(w, "  %s  balance %.2f  equity %.2f  open positions %d\n",
			acct.ID, acct.Balance, acct.Equity, len(a.book.OpenPositions(acct.ID)))
		for _, al := range a.alerts.List(acct.ID, false) {
			fmt.Fprintf(w, "    alert %-14s %-8s %s\n", al.Type, al.Severity, al.Message)
		}
	}
	if a.journal != nil {
		fmt.Fprintf(w, "\nResults saved to: %s\n", a.cfg.Journal.DBPath)
	}
}
