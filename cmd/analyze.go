package cmd

import (
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"feedload/internal/report"
)

var analyzeNoCSV bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dir> [<dir2>]",
	Short: "Aggregate run summaries per region, or compare two result directories",
	Long: `Reads every feedload-summary-*.json in dir and prints one block per region
followed by totals across regions. With a second directory both scenarios are
printed along with the change from the first to the second.

analysis_summary.csv is written into every analyzed directory unless --no-csv
is set.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		analyses := make([]report.Analysis, 0, len(args))
		for _, dir := range args {
			a, err := report.Analyze(dir)
			if err != nil {
				return withExitCode(err)
			}
			analyses = append(analyses, a)
		}

		out := cmd.OutOrStdout()
		if len(analyses) == 2 {
			report.PrintComparison(out, filepath.Base(args[0]), analyses[0], filepath.Base(args[1]), analyses[1])
		} else {
			report.PrintAnalysis(out, analyses[0])
		}

		if analyzeNoCSV {
			return nil
		}
		for _, a := range analyses {
			path := filepath.Join(a.Dir, report.AnalysisFile)
			if err := report.ExportAnalysisCSV(a, path); err != nil {
				return withExitCode(err)
			}
			log.WithField("file", path).Info("analysis exported")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNoCSV, "no-csv", false, "do not write analysis_summary.csv")
}
