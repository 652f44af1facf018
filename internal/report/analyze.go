package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AnalysisFile is the CSV written next to the analyzed summaries.
const AnalysisFile = "analysis_summary.csv"

// ErrNoSummaries is returned by Analyze for a directory without summary files.
var ErrNoSummaries = errors.New("no summary files found")

// RegionResult is one summary artifact reduced to the columns compared across runs.
type RegionResult struct {
	Region      string  `json:"region"`
	File        string  `json:"file"`
	Requests    int     `json:"total_requests"`
	ErrorPct    float64 `json:"failed_requests"`
	AvgMs       float64 `json:"avg_duration"`
	P95Ms       float64 `json:"p95_duration"`
	MaxMs       float64 `json:"max_duration"`
	RequestRate float64 `json:"requests_per_sec"`
	Passed      bool    `json:"passed"`
}

// Analysis aggregates every summary artifact of one directory.
type Analysis struct {
	Dir     string
	Results []RegionResult

	TotalRequests int
	MeanErrorPct  float64
	MeanAvgMs     float64
	TotalRate     float64

	// Skipped lists files that could not be decoded.
	Skipped []string
}

// Analyze reads every feedload-summary-*.json in dir. Unreadable files are
// listed in Skipped; only a missing directory or no usable file is an error.
func Analyze(dir string) (Analysis, error) {
	a := Analysis{Dir: dir}
	if _, err := os.Stat(dir); err != nil {
		return a, fmt.Errorf("analyze %s: %w", dir, err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "feedload-summary-*.json"))
	if err != nil {
		return a, err
	}
	sort.Strings(files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			a.Skipped = append(a.Skipped, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			continue
		}
		var art Artifact
		if err := json.Unmarshal(data, &art); err != nil {
			a.Skipped = append(a.Skipped, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			continue
		}
		a.Results = append(a.Results, regionResult(filepath.Base(path), art))
	}
	if len(a.Results) == 0 {
		return a, fmt.Errorf("analyze %s: %w", dir, ErrNoSummaries)
	}

	sort.SliceStable(a.Results, func(i, j int) bool { return a.Results[i].Region < a.Results[j].Region })

	for _, r := range a.Results {
		a.TotalRequests += r.Requests
		a.MeanErrorPct += r.ErrorPct
		a.MeanAvgMs += r.AvgMs
		a.TotalRate += r.RequestRate
	}
	n := float64(len(a.Results))
	a.MeanErrorPct /= n
	a.MeanAvgMs /= n
	return a, nil
}

func regionResult(file string, art Artifact) RegionResult {
	region := art.Region
	if region == "" {
		region = "unknown"
	}
	return RegionResult{
		Region:      region,
		File:        file,
		Requests:    art.Summary.Count,
		ErrorPct:    art.Summary.ErrorRate * 100,
		AvgMs:       art.Summary.Latency.Avg,
		P95Ms:       art.Summary.Latency.P95,
		MaxMs:       art.Summary.Latency.Max,
		RequestRate: art.RequestRate,
		Passed:      art.Summary.Passed,
	}
}

// PrintAnalysis writes the per-region breakdown and the aggregates of a.
func PrintAnalysis(w io.Writer, a Analysis) {
	fmt.Fprintf(w, "📊 Analyzing results in: %s\n", a.Dir)
	fmt.Fprintln(w, strings.Repeat("=", 50))

	for _, s := range a.Skipped {
		fmt.Fprintf(w, "⚠️  skipped %s\n", s)
	}

	for _, r := range a.Results {
		fmt.Fprintf(w, "\n🌍 Region: %s (%s)\n", strings.ToUpper(r.Region), r.File)
		fmt.Fprintf(w, "   Total requests : %d\n", r.Requests)
		fmt.Fprintf(w, "   Error rate     : %.2f%%\n", r.ErrorPct)
		fmt.Fprintf(w, "   Avg            : %.2f ms\n", r.AvgMs)
		fmt.Fprintf(w, "   P95            : %.2f ms\n", r.P95Ms)
		fmt.Fprintf(w, "   Max            : %.2f ms\n", r.MaxMs)
		fmt.Fprintf(w, "   Requests/sec   : %.2f\n", r.RequestRate)
	}

	fmt.Fprintf(w, "\n📈 Aggregate\n")
	fmt.Fprintln(w, strings.Repeat("=", 30))
	fmt.Fprintf(w, "Total requests   : %d\n", a.TotalRequests)
	fmt.Fprintf(w, "Mean error rate  : %.2f%%\n", a.MeanErrorPct)
	fmt.Fprintf(w, "Mean avg latency : %.2f ms\n", a.MeanAvgMs)
	fmt.Fprintf(w, "Total throughput : %.2f req/s\n", a.TotalRate)
}

// PrintComparison prints both scenarios and the change of every aggregate
// from base to other.
func PrintComparison(w io.Writer, baseName string, base Analysis, otherName string, other Analysis) {
	fmt.Fprintf(w, "\n🔄 Scenario comparison: %s vs %s\n", baseName, otherName)
	fmt.Fprintln(w, strings.Repeat("=", 40))

	fmt.Fprintf(w, "\n📊 Scenario %s:\n", strings.ToUpper(baseName))
	PrintAnalysis(w, base)
	fmt.Fprintf(w, "\n📊 Scenario %s:\n", strings.ToUpper(otherName))
	PrintAnalysis(w, other)

	fmt.Fprintf(w, "\n⚖️  %s relative to %s\n", otherName, baseName)
	fmt.Fprintf(w, "   Total requests   : %+d\n", other.TotalRequests-base.TotalRequests)
	fmt.Fprintf(w, "   Mean error rate  : %+.2f pp\n", other.MeanErrorPct-base.MeanErrorPct)
	fmt.Fprintf(w, "   Mean avg latency : %+.2f ms (%s)\n", other.MeanAvgMs-base.MeanAvgMs, change(base.MeanAvgMs, other.MeanAvgMs))
	fmt.Fprintf(w, "   Total throughput : %+.2f req/s (%s)\n", other.TotalRate-base.TotalRate, change(base.TotalRate, other.TotalRate))
}

func change(from, to float64) string {
	if from == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%+.1f%%", (to-from)/from*100)
}
