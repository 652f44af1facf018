package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedload/internal/driver"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, target, err := Load(newViper(t, ""))
	require.NoError(t, err)

	def := driver.DefaultWorkload()
	assert.Equal(t, def.VUs, cfg.VUs)
	assert.Equal(t, def.Duration, cfg.Duration)
	assert.Equal(t, def.Think, cfg.Think)
	assert.Equal(t, def.IDPool, cfg.IDPool)
	assert.ElementsMatch(t, def.Thresholds, cfg.Thresholds)
	assert.Nil(t, cfg.Stages)

	assert.Equal(t, "local", target.Name)
	assert.Equal(t, "http://localhost:8000", target.BaseURL)
	assert.Equal(t, "/feed?user_id={{.UserID}}", target.Endpoints[driver.EndpointFeed])
	assert.Equal(t, "/users", target.Endpoints[driver.EndpointCreateUser])
	require.NoError(t, cfg.Validate())
	require.NoError(t, target.Validate(true))
}

func TestConfigFile(t *testing.T) {
	v := newViper(t, `
target: staging
vus: 25
stages:
  - 2m:20
  - duration: 10m
    target: 20
thresholds:
  p95: 2000
  check_pass_rate: 0.99
targets:
  staging:
    base_url: https://staging.example.com/
    region: sa-east-1
    headers:
      Authorization: Bearer abc
`)
	cfg, target, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.VUs)
	assert.Equal(t, []driver.Stage{{Duration: 2 * time.Minute, Target: 20}, {Duration: 10 * time.Minute, Target: 20}}, cfg.Stages)
	assert.Equal(t, []driver.Threshold{
		{Metric: driver.MetricCheckPassRate, Limit: 0.99},
		{Metric: driver.MetricP95, Limit: 2000},
	}, cfg.Thresholds)

	assert.Equal(t, "https://staging.example.com", target.BaseURL)
	assert.Equal(t, "sa-east-1", target.Region)
	assert.Equal(t, "Bearer abc", target.Headers["Authorization"])
	assert.Equal(t, "/feed/{{.UserID}}", target.Endpoints[driver.EndpointFeed])
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FEEDLOAD_VUS", "7")
	t.Setenv("FEEDLOAD_DURATION", "45s")
	t.Setenv("FEEDLOAD_BASE_URL", "http://10.0.0.1:8080")
	t.Setenv("FEEDLOAD_SLEEP", "1.5")
	t.Setenv("FEEDLOAD_TARGET", "tokyo")

	cfg, target, err := Load(newViper(t, "vus: 25\n"))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.VUs)
	assert.Equal(t, 45*time.Second, cfg.Duration)
	assert.Equal(t, 1500*time.Millisecond, cfg.Think.Min)
	assert.Equal(t, 1500*time.Millisecond, cfg.Think.Max)
	assert.Equal(t, "tokyo", target.Region)
	assert.Equal(t, "http://10.0.0.1:8080", target.BaseURL)
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("FEEDLOAD_VUS", "7")
	v := newViper(t, "vus: 25\n")
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(v, fs)
	require.NoError(t, fs.Parse([]string{
		"--vus", "3",
		"--target", "brazil",
		"--stage", "30s:5", "--stage", "1m:0",
		"--pool-prefix", "br_user_",
		"-H", "X-Env: test",
	}))

	cfg, target, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.VUs)
	assert.Equal(t, []driver.Stage{{Duration: 30 * time.Second, Target: 5}, {Duration: time.Minute}}, cfg.Stages)
	assert.Equal(t, "br_user_", cfg.IDPool.Prefix)
	assert.Equal(t, 20, cfg.IDPool.Size)
	assert.Equal(t, driver.DefaultWorkload().Think, cfg.Think)
	assert.Equal(t, "http://15.228.71.189", target.BaseURL)
	assert.Equal(t, "test", target.Headers["X-Env"])
}

func TestUnknownTarget(t *testing.T) {
	v := newViper(t, "target: mars\n")
	_, _, err := Load(v)
	assert.ErrorIs(t, err, driver.ErrInvalidConfig)

	v.Set(KeyBaseURL, "http://mars.example")
	_, target, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "mars", target.Region)
}

func TestParseStage(t *testing.T) {
	st, err := ParseStage("2m:20")
	require.NoError(t, err)
	assert.Equal(t, driver.Stage{Duration: 2 * time.Minute, Target: 20}, st)

	for _, bad := range []string{"2m", "x:20", "2m:many"} {
		_, err := ParseStage(bad)
		assert.ErrorIs(t, err, driver.ErrInvalidConfig, bad)
	}
}

func TestBadHeader(t *testing.T) {
	v := newViper(t, "")
	v.Set(KeyHeaders, []string{"no-colon"})
	_, _, err := Load(v)
	assert.ErrorIs(t, err, driver.ErrInvalidConfig)
}

func TestDistributedTargetProfile(t *testing.T) {
	v := newViper(t, "target: distributed-usa\n")
	cfg, target, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, driver.IDPool{Size: 1000, Prefix: "us_user_"}, cfg.IDPool)
	assert.Equal(t, []driver.Threshold{
		{Metric: driver.MetricErrorRate, Limit: 0.1},
		{Metric: driver.MetricP95, Limit: 500},
	}, cfg.Thresholds)
	assert.Equal(t, "usa", target.Region)
	assert.Equal(t, "http://ec2-usa.amazonaws.com:8000", target.BaseURL)
	assert.Equal(t, "/feed?user_id={{.UserID}}", target.Endpoints[driver.EndpointFeed])
}

func TestExplicitKeysOverrideTargetProfile(t *testing.T) {
	v := newViper(t, "target: distributed-china\nthresholds:\n  p95: 800\n")
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	RegisterFlags(v, fs)
	require.NoError(t, fs.Parse([]string{"--pool-size", "50"}))

	cfg, _, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, driver.IDPool{Size: 50, Prefix: "cn_user_"}, cfg.IDPool)
	assert.Equal(t, []driver.Threshold{{Metric: driver.MetricP95, Limit: 800}}, cfg.Thresholds)
}

func TestDistributedSampleConfig(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(filepath.Join("..", "..", "configs", "distributed.yaml"))
	require.NoError(t, v.ReadInConfig())

	cfg, target, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NoError(t, target.Validate(cfg.WriteProbability > 0))

	assert.Len(t, cfg.Stages, 5)
	assert.Equal(t, 30*time.Minute, cfg.TotalDuration())
	assert.Equal(t, 50, cfg.MaxVUs())
	assert.Equal(t, "br_user_", cfg.IDPool.Prefix)
	assert.Zero(t, cfg.WriteProbability)
	assert.Equal(t, 1, cfg.ReadsPerIteration)
	assert.Equal(t, time.Second, cfg.Think.Min)
	assert.Equal(t, 3*time.Second, cfg.Think.Max)
}
