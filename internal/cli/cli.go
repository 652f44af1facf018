// Package cli runs one load test headless or with the live dashboard and
// produces its summary, artifact and history entry.
package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"feedload/internal/driver"
	"feedload/internal/metrics"
	"feedload/internal/report"
	"feedload/internal/stats"
	"feedload/internal/storage"
	"feedload/internal/tui"
)

const progressInterval = 200 * time.Millisecond

type Options struct {
	Config driver.WorkloadConfig
	Target driver.Target

	// OutDir receives the JSON summary artifact. Empty means the working directory.
	OutDir string
	// Export, when set, is the file prefix for the raw outcome CSV and JSON.
	Export string
	// MetricsAddr, when set, serves /metrics for the duration of the run.
	MetricsAddr string
	// HistoryPath is the bbolt history file. Empty disables history.
	HistoryPath string
	// TUI shows the live dashboard instead of the progress line.
	TUI bool

	Out io.Writer
}

// Run executes one load test. Configuration problems are returned before any
// traffic is sent and match driver.ErrInvalidConfig. A failed verdict is not
// an error; callers read it from the returned artifact.
func Run(ctx context.Context, opts Options) (report.Artifact, error) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	runID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"run_id": runID,
		"region": opts.Target.Region,
	})

	st := stats.NewStats()
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	d, err := driver.New(opts.Config, opts.Target,
		driver.WithSink(st),
		driver.WithSink(collector),
		driver.WithLogger(logger),
	)
	if err != nil {
		return report.Artifact{}, err
	}
	metrics.WatchDriver(reg, d)

	var metricsLn net.Listener
	if opts.MetricsAddr != "" {
		if metricsLn, err = metrics.Listen(opts.MetricsAddr); err != nil {
			return report.Artifact{}, err
		}
		defer metricsLn.Close()
	}

	if !opts.TUI {
		printHeader(out, runID, d)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	snapshot := func() stats.Snapshot { return st.Snapshot(d.ActiveVUs(), d.Inflight()) }
	start := time.Now()
	total := opts.Config.TotalDuration()

	var program *tea.Program
	if opts.TUI {
		title := fmt.Sprintf("feedload: %s (%s)", strings.ToUpper(opts.Target.Region), opts.Target.BaseURL)
		program = tea.NewProgram(tui.NewModel(title, start, total, snapshot, cancel), tea.WithAltScreen())
	}

	var res *driver.Result
	g.Go(func() error {
		defer cancel()
		var err error
		res, err = d.Run(gctx)
		if program != nil {
			program.Send(tui.DoneMsg{})
		}
		return err
	})

	if program != nil {
		g.Go(func() error {
			_, err := program.Run()
			return err
		})
	} else {
		g.Go(func() error {
			progress(gctx, out, start, total, snapshot)
			return nil
		})
	}

	if metricsLn != nil {
		g.Go(func() error {
			return metrics.Serve(gctx, metricsLn, reg)
		})
	}

	// A failed dashboard or metrics server cancels the run early; its
	// outcomes are incomplete and must not be reported as a verdict.
	if err := g.Wait(); err != nil {
		return report.Artifact{}, fmt.Errorf("run %s aborted: %w", runID, err)
	}

	artifact := report.NewArtifact(runID, opts.Target, opts.Config, res)
	report.Print(out, artifact)

	dir := opts.OutDir
	if dir == "" {
		dir = "."
	}
	path, err := report.WriteJSON(artifact, dir)
	if err != nil {
		return artifact, err
	}
	fmt.Fprintf(out, "\n💾 Summary saved to %s\n", path)

	if opts.Export != "" {
		if err := exportOutcomes(opts.Export, res.Outcomes); err != nil {
			return artifact, err
		}
		fmt.Fprintf(out, "✅ Outcomes saved to %s.{csv,json}\n", opts.Export)
	}

	if opts.HistoryPath != "" {
		if err := saveHistory(opts.HistoryPath, artifact); err != nil {
			logger.WithError(err).Warn("could not record run history")
		}
	}
	return artifact, nil
}

func exportOutcomes(prefix string, outcomes []driver.RequestOutcome) error {
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := report.ExportCSV(outcomes, prefix+".csv"); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	if err := report.ExportJSON(outcomes, prefix+".json"); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}

func saveHistory(path string, a report.Artifact) error {
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(a)
}

func printHeader(w io.Writer, runID string, d *driver.Driver) {
	cfg := d.Config()
	target := d.Target()

	fmt.Fprintf(w, "\n🚀 STARTING FEEDLOAD TEST: %s\n", strings.ToUpper(target.Region))
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Run ID     : %s\n", runID)
	fmt.Fprintf(w, "Target     : %s (%s)\n", target.BaseURL, target.Name)
	if len(cfg.Stages) > 0 {
		parts := make([]string, len(cfg.Stages))
		for i, s := range cfg.Stages {
			parts[i] = fmt.Sprintf("%s→%d", s.Duration, s.Target)
		}
		fmt.Fprintf(w, "Stages     : %s\n", strings.Join(parts, ", "))
	} else {
		fmt.Fprintf(w, "Users      : %d for %s\n", cfg.VUs, cfg.Duration)
	}
	fmt.Fprintf(w, "Mix        : %.0f%% writes, %d feed reads per iteration, %d users in pool\n",
		cfg.WriteProbability*100, cfg.ReadsPerIteration, cfg.IDPool.Size)
	fmt.Fprintf(w, "Think time : %s - %s\n", cfg.Think.Min, cfg.Think.Max)
	fmt.Fprintf(w, "Timeout    : %s\n", cfg.Timeout)
	fmt.Fprintf(w, "======================================================================\n\n")
}

// progress redraws a single status line until ctx is done.
func progress(ctx context.Context, w io.Writer, start time.Time, total time.Duration, snapshot func() stats.Snapshot) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, progressLine(time.Since(start), total, snapshot()))
			return
		case <-ticker.C:
			fmt.Fprint(w, progressLine(time.Since(start), total, snapshot()))
		}
	}
}

func progressLine(elapsed, total time.Duration, s stats.Snapshot) string {
	pct := 1.0
	if total > 0 {
		pct = min(elapsed.Seconds()/total.Seconds(), 1.0)
	}
	rps := 0.0
	if elapsed > 0 {
		rps = float64(s.Requests) / elapsed.Seconds()
	}

	if pct >= 1.0 && s.Inflight > 0 {
		return fmt.Sprintf("\r%s %3.0f%% | %s/%s | Draining: %d requests...                ",
			progressBar(1.0, 20), 100.0, elapsed.Round(time.Second), total, s.Inflight)
	}
	return fmt.Sprintf("\r%s %3.0f%% | %s/%s | VUs: %3d | Inf: %3d | RPS: %.1f | OK: %d | Err: %d",
		progressBar(pct, 20), pct*100,
		elapsed.Round(time.Second), total,
		s.ActiveVUs, s.Inflight, rps, s.Success, s.Fail,
	)
}

func progressBar(pct float64, width int) string {
	filled := min(max(int(pct*float64(width)), 0), width)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
