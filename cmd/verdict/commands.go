package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/api"
	"github.com/atlas-desktop/strategy-verdict/internal/service"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runFlags are shared by backtest and analyze
type runFlags struct {
	symbol       string
	barsFile     string
	benchmark    string
	start        string
	end          string
	capital      float64
	iterations   int
	seed         int64
	noWalkFwd    bool
	output       string
	catalogFiles []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Symbol to evaluate")
	cmd.Flags().StringVar(&f.barsFile, "bars", "", "Read bars from a .csv or .json file instead of the data directory")
	cmd.Flags().StringVar(&f.benchmark, "benchmark", "", "Benchmark symbol for buy-and-hold comparison")
	cmd.Flags().StringVar(&f.start, "start", "", "First date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "Last date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&f.capital, "capital", 0, "Initial capital (overrides config)")
	cmd.Flags().IntVar(&f.iterations, "iterations", -1, "Monte Carlo iterations (overrides config)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Monte Carlo seed, 0 keeps the configured seed")
	cmd.Flags().BoolVar(&f.noWalkFwd, "no-walkforward", false, "Skip walk-forward validation")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "Output format (text|json)")
	cmd.Flags().StringSliceVar(&f.catalogFiles, "catalog", nil, "Additional strategy YAML files")
	_ = cmd.MarkFlagRequired("symbol")
}

func (f *runFlags) overrides() *service.Overrides {
	o := &service.Overrides{}
	if f.capital > 0 {
		c := decimal.NewFromFloat(f.capital)
		o.InitialCapital = &c
	}
	if f.iterations >= 0 {
		o.MonteCarloIterations = &f.iterations
	}
	if f.seed != 0 {
		o.Seed = &f.seed
	}
	if f.noWalkFwd {
		off := false
		o.WalkForward = &off
	}
	if f.start != "" || f.end != "" {
		o.DateRange = strings.Trim(f.start+".."+f.end, ".")
	}
	return o
}

func (f *runFlags) dates() (start, end time.Time, err error) {
	if f.start != "" {
		if start, err = time.Parse("2006-01-02", f.start); err != nil {
			return start, end, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if f.end != "" {
		if end, err = time.Parse("2006-01-02", f.end); err != nil {
			return start, end, fmt.Errorf("invalid --end: %w", err)
		}
	}
	return start, end, nil
}

// setup builds the app and resolves the bar file and extra catalogs.
func (f *runFlags) setup(ctx context.Context, opts *rootOptions) (*app, []types.Bar, error) {
	cfg, logger, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	for _, path := range f.catalogFiles {
		if _, err := a.catalog.LoadFile(path); err != nil {
			a.Close()
			return nil, nil, err
		}
	}
	if f.barsFile == "" {
		return a, nil, nil
	}
	bars, err := a.store.LoadFile(f.barsFile)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, bars, nil
}

func newBacktestCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}
	var strategyID string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest one strategy and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start, end, err := flags.dates()
			if err != nil {
				return err
			}
			a, bars, err := flags.setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.service.Backtest(ctx, service.BacktestRequest{
				Symbol:     flags.symbol,
				Bars:       bars,
				StrategyID: strategyID,
				Benchmark:  flags.benchmark,
				Start:      start,
				End:        end,
				Config:     flags.overrides(),
			})
			if err != nil {
				return err
			}
			if flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&strategyID, "strategy", "", "Strategy id from the catalog")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}
	var strategyIDs []string
	var summaryFile string
	var noCache bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run every selected strategy and print the unified verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start, end, err := flags.dates()
			if err != nil {
				return err
			}
			var summary *types.SignalSummary
			if summaryFile != "" {
				if summary, err = readSummary(summaryFile); err != nil {
					return err
				}
			}

			a, bars, err := flags.setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			verdict, err := a.service.Verdict(ctx, service.VerdictRequest{
				Symbol:      flags.symbol,
				Bars:        bars,
				StrategyIDs: strategyIDs,
				Summary:     summary,
				Benchmark:   flags.benchmark,
				Start:       start,
				End:         end,
				Config:      flags.overrides(),
				NoCache:     noCache,
			}, nil)
			if err != nil {
				return err
			}
			if flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), verdict)
			}
			printVerdict(cmd.OutOrStdout(), verdict)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&strategyIDs, "strategies", nil, "Comma-separated strategy ids (default: whole catalog)")
	cmd.Flags().StringVar(&summaryFile, "summary", "", "Signal summary JSON file (default: <SYMBOL>.signals.json in the data directory)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the verdict cache")
	return cmd
}

func newStrategiesCmd(opts *rootOptions) *cobra.Command {
	var output string
	var catalogFiles []string

	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List the strategy catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, path := range catalogFiles {
				if _, err := a.catalog.LoadFile(path); err != nil {
					return err
				}
			}

			strategies := a.service.Strategies()
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), strategies)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSIZING\tDESCRIPTION")
			for _, s := range strategies {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Sizing.Mode, s.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text|json)")
	cmd.Flags().StringSliceVar(&catalogFiles, "catalog", nil, "Additional strategy YAML files")
	return cmd
}

func newQualityCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quality SYMBOL",
		Short: "Check the stored bars for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.service.Quality(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			hub := api.NewHub(logger)
			go hub.Run(ctx)

			server := api.NewServer(logger, cfg.Server, a.service, hub, a.metrics.Handler())
			errCh := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			logger.Info("Verdict service started",
				zap.String("addr", cfg.Server.Addr()),
				zap.Int("strategies", len(a.service.Strategies())),
				zap.String("dataDir", cfg.Data.Dir),
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				logger.Info("Shutting down", zap.String("signal", sig.String()))
			case err, ok := <-errCh:
				if ok {
					return fmt.Errorf("server failed: %w", err)
				}
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Error("Server shutdown error", zap.Error(err))
			}
			cancel()
			logger.Info("Shutdown complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port (overrides config)")
	return cmd
}

func readSummary(path string) (*types.SignalSummary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	var summary types.SignalSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary %s: %w", path, err)
	}
	return &summary, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, r *types.BacktestReport) {
	m := r.Metrics
	fmt.Fprintf(w, "%s on %s  %s to %s\n", r.Strategy.ID, r.Symbol,
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	if r.Empty {
		fmt.Fprintln(w, "  not enough bars to trade")
		return
	}
	fmt.Fprintf(w, "  return %.2f%%  CAGR %.2f%%  final equity %s\n",
		m.TotalReturnPct, m.CAGR, m.FinalEquity.StringFixed(2))
	fmt.Fprintf(w, "  sharpe %.2f  sortino %.2f  max drawdown %.2f%%\n", m.SharpeRatio, m.SortinoRatio, m.MaxDrawdownPct)
	fmt.Fprintf(w, "  trades %d  win rate %.1f%%  profit factor %.2f\n", m.TotalTrades, m.WinRate, m.ProfitFactor)
	fmt.Fprintf(w, "  monte carlo: median max drawdown %.2f%%  p95 %.2f%%  risk of ruin %.1f%%\n",
		r.MonteCarlo.MedianMaxDrawdownPct, r.MonteCarlo.P95MaxDrawdownPct, r.MonteCarlo.RiskOfRuinPct)
	if r.Benchmark != nil {
		fmt.Fprintf(w, "  benchmark %s %.2f%%  alpha %.2f%%\n", r.Benchmark.Symbol, r.Benchmark.ReturnPct, r.Benchmark.AlphaPct)
	}
	if r.WalkForward != nil {
		fmt.Fprintf(w, "  walk-forward: out-of-sample %.2f%%  consistency %.0f%% over %d windows\n",
			r.WalkForward.OutOfSampleReturn, r.WalkForward.ConsistencyPct, len(r.WalkForward.Windows))
	}
	fmt.Fprintf(w, "  viability %s (%.0f/100)\n", r.Viability.Grade, r.Viability.Score)
	for _, warn := range r.Viability.Warnings {
		fmt.Fprintf(w, "    ! %s\n", warn)
	}
}

func printVerdict(w io.Writer, v *types.UnifiedVerdict) {
	fmt.Fprintf(w, "%s: %s (%s, confidence %.0f, score %.1f)\n",
		v.Symbol, v.Action.Action, v.Direction, v.Confidence, v.CompositeScore)
	fmt.Fprintf(w, "  price %s  target %s  stop %s  R:R %.2f\n",
		v.Action.CurrentPrice.StringFixed(2), v.Action.Target.StringFixed(2),
		v.Action.StopLoss.StringFixed(2), v.Action.RiskReward)
	for _, r := range v.Action.Reasoning {
		fmt.Fprintf(w, "  - %s\n", r)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nRANK\tSTRATEGY\tRETURN\tSHARPE\tSIGNAL\tGRADE")
	for _, s := range v.Strategies {
		fmt.Fprintf(tw, "%d\t%s\t%.2f%%\t%.2f\t%s\t%s\n", s.Rank, s.Strategy.ID,
			s.Report.Metrics.TotalReturnPct, s.Report.Metrics.SharpeRatio, s.Signal.Action, s.Report.Viability.Grade)
	}
	tw.Flush()

	for _, ex := range v.Excluded {
		fmt.Fprintf(w, "excluded %s: %s\n", ex.ID, ex.Reason)
	}
	for _, insight := range v.Insights {
		fmt.Fprintf(w, "* %s\n", insight)
	}
}
