package cmd

import (
	"github.com/spf13/cobra"

	"feedload/internal/mock"
)

var mockCfg mock.ServerConfig

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run the mock feed server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		return withExitCode(mock.New(mockCfg).ListenAndServe(ctx))
	},
}

func init() {
	mockCmd.Flags().IntVarP(&mockCfg.Port, "port", "p", 8000, "port to listen on")
	mockCmd.Flags().DurationVar(&mockCfg.MinLatency, "min-latency", 0, "minimum injected latency")
	mockCmd.Flags().DurationVar(&mockCfg.MaxLatency, "max-latency", 0, "maximum injected latency")
	mockCmd.Flags().Float64Var(&mockCfg.FailureRate, "failure-rate", 0, "fraction of requests answered with 500")
}
