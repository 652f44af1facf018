package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedload/internal/driver"
	"feedload/internal/report"
)

func TestWithExitCode(t *testing.T) {
	assert.NoError(t, withExitCode(nil))

	var ee *exitError
	require.ErrorAs(t, withExitCode(fmt.Errorf("load: %w", driver.ErrInvalidConfig)), &ee)
	assert.Equal(t, exitInvalid, ee.code)

	require.ErrorAs(t, withExitCode(errors.New("boom")), &ee)
	assert.Equal(t, exitFailed, ee.code)

	wrapped := &exitError{code: exitInvalid, err: errors.New("bad flag")}
	assert.Same(t, wrapped, withExitCode(wrapped))
}

func TestTargetsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  staging:
    base_url: https://staging.example.com
    endpoints:
      feed: /v2/feed?user_id={{.UserID}}
`), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"targets", "--config", path})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "tokyo")
	assert.Contains(t, out.String(), "http://52.196.245.151")
	assert.Contains(t, out.String(), "/v2/feed?user_id={{.UserID}}")
	assert.Contains(t, out.String(), "br_user_1..1000")
}

func TestAnalyzeCommand(t *testing.T) {
	base, sharded := t.TempDir(), t.TempDir()
	for i, dir := range []string{base, sharded} {
		a := report.Artifact{
			Region:      "brazil",
			Started:     time.Unix(int64(100+i), 0),
			RequestRate: float64(10 * (i + 1)),
			Summary:     report.SummaryReport{Count: 100 * (i + 1)},
		}
		_, err := report.WriteJSON(a, dir)
		require.NoError(t, err)
	}

	cfg := filepath.Join(t.TempDir(), "feedload.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("target: local\n"), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"analyze", "--config", cfg, base, sharded})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "Region: BRAZIL")
	assert.Contains(t, out.String(), "Total requests   : +100")
	assert.FileExists(t, filepath.Join(base, report.AnalysisFile))
	assert.FileExists(t, filepath.Join(sharded, report.AnalysisFile))

	rootCmd.SetArgs([]string{"analyze", "--config", cfg, t.TempDir()})
	err := rootCmd.Execute()
	assert.ErrorIs(t, err, report.ErrNoSummaries)
}
