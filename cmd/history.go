package cmd

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"feedload/internal/report"
	"feedload/internal/storage"
	"feedload/internal/tui/history"
)

var (
	historyLimit       int
	historyInteractive bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List past runs or show one of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveHistoryPath()
		if err != nil {
			return withExitCode(err)
		}
		store, err := storage.Open(path)
		if err != nil {
			return withExitCode(err)
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			a, err := store.Get(args[0])
			if err != nil {
				return withExitCode(err)
			}
			report.Print(out, *a)
			return nil
		}

		runs, err := store.List()
		if err != nil {
			return withExitCode(err)
		}
		if historyLimit > 0 && len(runs) > historyLimit {
			runs = runs[:historyLimit]
		}

		if historyInteractive {
			_, err := tea.NewProgram(history.NewModel(runs)).Run()
			return withExitCode(err)
		}

		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}
		cols := history.Columns()
		line := func(cells []string) {
			parts := make([]string, len(cells))
			for i, c := range cells {
				parts[i] = fmt.Sprintf("%-*s", cols[i].Width, c)
			}
			fmt.Fprintln(out, strings.TrimRight(strings.Join(parts, " "), " "))
		}
		titles := make([]string, len(cols))
		for i, c := range cols {
			titles[i] = c.Title
		}
		line(titles)
		for _, a := range runs {
			line(history.Row(a))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list, 0 for all")
	historyCmd.Flags().BoolVarP(&historyInteractive, "interactive", "i", false, "browse runs in the terminal UI")
}
