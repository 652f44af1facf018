package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedload/internal/cli"
	"feedload/internal/config"
)

var (
	outDir      string
	exportTo    string
	metricsAddr string
	useTUI      bool
	noHistory   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test against a target",
	Example: `  feedload run --target tokyo --vus 10 --duration 30s
  feedload run --target brazil --stage 2m:20 --stage 10m:20 --stage 2m:0
  FEEDLOAD_BASE_URL=http://10.0.0.5 feedload run --sleep 0.5 --export out/brazil`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, target, err := config.Load(viper.GetViper())
		if err != nil {
			return withExitCode(err)
		}

		opts := cli.Options{
			Config:      cfg,
			Target:      target,
			OutDir:      outDir,
			Export:      exportTo,
			MetricsAddr: metricsAddr,
			TUI:         useTUI,
			Out:         cmd.OutOrStdout(),
		}
		if !noHistory {
			if opts.HistoryPath, err = resolveHistoryPath(); err != nil {
				return withExitCode(err)
			}
		}

		ctx, stop := signalContext()
		defer stop()

		artifact, err := cli.Run(ctx, opts)
		if err != nil {
			return withExitCode(err)
		}
		if !artifact.Summary.Passed {
			return &exitError{code: exitFailed, err: fmt.Errorf("run %s failed its thresholds", artifact.RunID)}
		}
		return nil
	},
}

func init() {
	config.RegisterFlags(viper.GetViper(), runCmd.Flags())

	runCmd.Flags().StringVar(&outDir, "out-dir", ".", "directory for the JSON summary")
	runCmd.Flags().StringVarP(&exportTo, "export", "o", "", "file prefix for raw outcome export (.csv and .json)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address during the run (e.g. :9100)")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show the live dashboard")
	runCmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in history")
}
