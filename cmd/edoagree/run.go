package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/orchestrator"
	"github.com/dusk-indust/edoagree/internal/source"
	"github.com/dusk-indust/edoagree/internal/tui"
)

// batchOptions are the flags shared by run and period.
type batchOptions struct {
	OnError     string
	MetricsAddr string
}

func addBatchFlags(cmd *cobra.Command, opts *batchOptions) {
	cmd.Flags().StringVar(&opts.OnError, "on-error", "",
		"answer failed stages without asking: abort, skip or retry-once (default: ask in the terminal UI)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address while the batch runs (overrides metrics_addr)")
}

// batchFunc selects and processes the candidates of a listing.
type batchFunc func(ctx context.Context, p *orchestrator.Processor, rows []counterparty.Counterparty) (orchestrator.Stats, error)

func newRunCmd(flags *cliFlags) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "run <listing.csv>",
		Short: "Send agreements to every counterparty of the listing that is not in the registry yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), cmd.OutOrStdout(), flags, opts, args[0], "новые контрагенты",
				func(ctx context.Context, p *orchestrator.Processor, rows []counterparty.Counterparty) (orchestrator.Stats, error) {
					return p.RunDelta(ctx, rows)
				})
		},
	}
	addBatchFlags(cmd, opts)
	return cmd
}

func newPeriodCmd(flags *cliFlags) *cobra.Command {
	opts := &batchOptions{}
	var fromS, toS string
	cmd := &cobra.Command{
		Use:   "period <listing.csv>",
		Short: "Register new counterparties, then send agreements to those whose status changed within a period",
		Long: "Every tax ID of the listing missing from the registry is registered first. " +
			"Rows whose status-change date lies within [--from, --to] are then processed. " +
			"Without bounds the last 30 days are used.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := orchestrator.DefaultPeriod(time.Now())
			if fromS != "" || toS != "" {
				if fromS == "" || toS == "" {
					return fmt.Errorf("--from and --to go together")
				}
				var err error
				from, to, err = orchestrator.ParsePeriod(fromS, toS)
				if err != nil {
					return err
				}
			}
			title := fmt.Sprintf("период %s – %s", from.Format(orchestrator.PeriodLayout), to.Format(orchestrator.PeriodLayout))
			return runBatch(cmd.Context(), cmd.OutOrStdout(), flags, opts, args[0], title,
				func(ctx context.Context, p *orchestrator.Processor, rows []counterparty.Counterparty) (orchestrator.Stats, error) {
					return p.RunPeriod(ctx, rows, from, to)
				})
		},
	}
	cmd.Flags().StringVar(&fromS, "from", "", "period start, dd.mm.yyyy")
	cmd.Flags().StringVar(&toS, "to", "", "period end, dd.mm.yyyy (inclusive)")
	addBatchFlags(cmd, opts)
	return cmd
}

// runBatch wires a processor for the selected company and runs batch. The
// batch worker, the terminal UI and the metrics endpoint share one
// errgroup; leaving the UI cancels the batch.
func runBatch(ctx context.Context, out io.Writer, flags *cliFlags, opts *batchOptions, input, title string, batch batchFunc) error {
	interactive := opts.OnError == ""

	var arbiter orchestrator.Arbiter
	var channel *orchestrator.ChannelArbiter
	if interactive {
		if !isTerminal(os.Stdin) {
			return fmt.Errorf("no terminal to ask on; pass --on-error abort|skip|retry-once")
		}
		channel = orchestrator.NewChannelArbiter()
		arbiter = channel
	} else {
		policy, err := orchestrator.ParsePolicy(opts.OnError)
		if err != nil {
			return err
		}
		arbiter = &orchestrator.PolicyArbiter{Policy: policy}
	}

	a, err := openApp(ctx, flags, interactive)
	if err != nil {
		return err
	}
	defer a.Close()
	if pa, ok := arbiter.(*orchestrator.PolicyArbiter); ok {
		pa.Logger = a.logger.Named("arbiter")
	}

	company, err := a.cfg.Company(flags.Company)
	if err != nil {
		return err
	}
	table, err := source.ReadFile(input)
	if err != nil {
		return err
	}
	rows := table.Counterparties()
	a.logger.Info("listing read",
		zap.String("path", input), zap.String("encoding", table.Encoding),
		zap.String("delimiter", string(table.Delimiter)), zap.Int("rows", len(rows)))

	deps, err := a.deps(ctx, arbiter)
	if err != nil {
		return err
	}

	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}
	var (
		reg     *prometheus.Registry
		metrics *orchestrator.Metrics
	)
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = orchestrator.NewMetrics(reg)
	}

	// The screen redraws slower than a plain printer drains.
	buffer := orchestrator.DefaultProgressBuffer
	if interactive {
		buffer = 1024
	}
	progress := orchestrator.NewProgressReporter(buffer)
	proc, err := orchestrator.New(company, deps,
		orchestrator.WithProgress(progress),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(a.logger.With(zap.String("company", company.Code))))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var program *tea.Program
	if interactive {
		model := tui.New(company.Name+": "+title, progress.Subscribe(), channel.Requests(), cancel)
		program = tea.NewProgram(model, tea.WithAltScreen())
	} else {
		events := progress.Subscribe()
		g.Go(func() error {
			for ev := range events {
				fmt.Fprintln(out, orchestrator.FormatProgress(ev))
			}
			return nil
		})
	}

	var (
		stats  orchestrator.Stats
		runErr error
	)
	g.Go(func() error {
		defer progress.Close()
		stats, runErr = batch(gctx, proc, rows)
		if program != nil {
			program.Send(tui.Finished(stats, runErr))
		} else {
			cancel()
		}
		return nil
	})

	if program != nil {
		g.Go(func() error {
			_, err := program.Run()
			cancel()
			return err
		})
	}

	if reg != nil {
		g.Go(func() error {
			return serveMetrics(gctx, metricsAddr, reg, a.logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	printSummary(out, stats)
	if n := progress.Dropped(); n > 0 {
		a.logger.Warn("progress events dropped", zap.Int64("count", n))
		fmt.Fprintf(out, "%d progress lines were not shown; see the log\n", n)
	}
	if a.logPath != "" {
		fmt.Fprintf(out, "log: %s\n", a.logPath)
	}
	return runErr
}

func printSummary(out io.Writer, s orchestrator.Stats) {
	fmt.Fprintf(out, "\nrun %s: %d of %d succeeded, %d failed, %d skipped",
		s.RunID, s.Succeeded, s.Considered, s.Failed, s.Skipped)
	if s.SendsSkipped > 0 {
		fmt.Fprintf(out, ", %d not transmitted", s.SendsSkipped)
	}
	if s.Aborted {
		fmt.Fprint(out, " (aborted)")
	}
	fmt.Fprintln(out)
}

// serveMetrics exposes reg on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
