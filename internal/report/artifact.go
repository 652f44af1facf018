package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"feedload/internal/driver"
)

// Artifact is the machine-readable record of one run.
type Artifact struct {
	RunID       string        `json:"run_id"`
	Target      string        `json:"target"`
	Region      string        `json:"region"`
	BaseURL     string        `json:"base_url"`
	VUs         int           `json:"vus"`
	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	RequestRate float64       `json:"requests_per_sec"`
	Summary     SummaryReport `json:"summary"`
}

// NewArtifact summarizes res for the given run.
func NewArtifact(runID string, target driver.Target, cfg driver.WorkloadConfig, res *driver.Result) Artifact {
	a := Artifact{
		RunID:   runID,
		Target:  target.Name,
		Region:  target.Region,
		BaseURL: target.BaseURL,
		VUs:     cfg.MaxVUs(),
		Started: res.Started,
		Elapsed: res.Elapsed,
		Summary: Summarize(res.Outcomes, cfg.Thresholds),
	}
	if secs := res.Elapsed.Seconds(); secs > 0 {
		a.RequestRate = float64(a.Summary.Count) / secs
	}
	return a
}

// FileName is the summary file name, unique per region and start time.
func (a Artifact) FileName() string {
	region := a.Region
	if region == "" {
		region = "default"
	}
	return fmt.Sprintf("feedload-summary-%s-%d.json", region, a.Started.UnixMilli())
}

// WriteJSON writes the artifact into dir and returns the file path.
func WriteJSON(a Artifact, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	path := filepath.Join(dir, a.FileName())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}
