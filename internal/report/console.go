package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"feedload/internal/tui/styles"
)

const rule = "======================================================================"

// Print writes the human-readable summary of a.
func Print(w io.Writer, a Artifact) {
	s := a.Summary
	region := strings.ToUpper(a.Region)
	if region == "" {
		region = "DEFAULT"
	}

	fmt.Fprintf(w, "\n\n📊 LOAD TEST RESULTS: %s\n", styles.Active.Render(region))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Target         : %s (%s)\n", a.BaseURL, a.Target)
	fmt.Fprintf(w, "Run ID         : %s\n", a.RunID)
	fmt.Fprintf(w, "Virtual Users  : %d\n", a.VUs)
	fmt.Fprintf(w, "Total Duration : %s\n", a.Elapsed.Round(time.Second))
	fmt.Fprintf(w, "Requests Sent  : %d\n", s.Count)
	fmt.Fprintf(w, "Failures       : %d (%s)\n", s.Failed,
		styles.Rate(s.ErrorRate).Render(fmt.Sprintf("%.2f%%", s.ErrorRate*100)))
	fmt.Fprintf(w, "Requests/sec   : %.2f\n", a.RequestRate)

	fmt.Fprintf(w, "\n⏱️  RESPONSE TIMES (ms)\n")
	fmt.Fprintf(w, "   Avg : %.2f\n", s.Latency.Avg)
	fmt.Fprintf(w, "   Med : %.2f\n", s.Latency.Med)
	fmt.Fprintf(w, "   P90 : %.2f\n", s.Latency.P90)
	fmt.Fprintf(w, "   P95 : %.2f\n", s.Latency.P95)
	fmt.Fprintf(w, "   Max : %.2f\n", s.Latency.Max)

	if len(s.Endpoints) > 0 {
		fmt.Fprintf(w, "\n🌐 ENDPOINTS\n")
		for _, e := range s.Endpoints {
			fmt.Fprintf(w, "   %-12s %6d reqs  %6.2f%% err  p95 %.2f ms\n",
				e.Endpoint, e.Count, e.ErrorRate*100, e.Latency.P95)
		}
	}

	if total := s.CheckPasses + s.CheckFails; total > 0 {
		fmt.Fprintf(w, "\n✅ CHECKS %.1f%% (%d/%d)\n", s.CheckPassRate*100, s.CheckPasses, total)
		for _, c := range s.Checks {
			mark := styles.Success.Render("✓")
			if c.Fails > 0 {
				mark = styles.Error.Render("✗")
			}
			fmt.Fprintf(w, "   %s %-50s %6.1f%%\n", mark, c.Name, c.PassRate*100)
		}
	}

	if len(s.Thresholds) > 0 {
		fmt.Fprintf(w, "\n🎯 THRESHOLDS\n")
		for _, t := range s.Thresholds {
			fmt.Fprintf(w, "   %s %-16s actual %.4g, limit %.4g\n",
				styles.Verdict(t.Passed), t.Metric, t.Actual, t.Limit)
		}
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Verdict        : %s\n", styles.Verdict(s.Passed))
}
