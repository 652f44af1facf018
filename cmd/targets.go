package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"feedload/internal/config"
	"feedload/internal/driver"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the named targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := config.Targets(viper.GetViper())
		if err != nil {
			return withExitCode(err)
		}

		names := make([]string, 0, len(targets))
		for name := range targets {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %-8s %-38s %-14s %s\n", "NAME", "REGION", "BASE URL", "POOL", "FEED")
		for _, name := range names {
			t := targets[name]
			region := t.Region
			if region == "" {
				region = name
			}
			feed := t.Endpoints[driver.EndpointFeed]
			if feed == "" {
				feed = driver.DefaultEndpoints()[driver.EndpointFeed]
			}
			pool := "-"
			if t.Pool.Size > 0 {
				pool = fmt.Sprintf("%s1..%d", t.Pool.Prefix, t.Pool.Size)
			}
			fmt.Fprintf(out, "%-20s %-8s %-38s %-14s %s\n", name, region, t.BaseURL, pool, feed)
		}
		return nil
	},
}
