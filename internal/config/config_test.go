package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validConfig = `
harvest:
  year_month: "2411"
  first: 1
  last: 100
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, 1, cfg.Harvest.Workers)
	require.Equal(t, 3, cfg.ArXiv.MaxAttempts)
	require.Equal(t, 3*time.Second, cfg.ArXivDelay())
	require.Equal(t, 7*time.Second, cfg.ArXivBackoff())
	require.Equal(t, 1500*time.Millisecond, cfg.ScholarDelay())
	require.Equal(t, 8*time.Second, cfg.ScholarCooldown())
	require.Equal(t, "fs", cfg.Output.Backend)
	require.Equal(t, "./data", cfg.Output.Root)
	require.True(t, cfg.Monitor.Enabled)
	require.Equal(t, 500*time.Millisecond, cfg.MonitorInterval())
	require.Equal(t, 0, cfg.Ops.Port)
	require.True(t, cfg.Logging.Development)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
harvest:
  year_month: "2411"
  first: 5
  last: 10
  workers: 4
  keep_extensions: [".tex", ".bib"]
arxiv:
  delay_ms: 1000
scholar:
  api_key: secret
output:
  backend: gcs
  gcs_bucket: papers
ops:
  port: 9090
`))
	require.NoError(t, err)

	require.Equal(t, 4, cfg.Harvest.Workers)
	require.Equal(t, []string{".tex", ".bib"}, cfg.Harvest.KeepExtensions)
	require.Equal(t, time.Second, cfg.ArXivDelay())
	require.Equal(t, "secret", cfg.Scholar.APIKey)
	require.Equal(t, "papers", cfg.Output.GCSBucket)
	require.Equal(t, 9090, cfg.Ops.Port)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad year month", "harvest:\n  year_month: \"24111\"\n  first: 1\n  last: 2\n"},
		{"missing year month", "harvest:\n  first: 1\n  last: 2\n"},
		{"first below one", "harvest:\n  year_month: \"2411\"\n  first: 0\n  last: 2\n"},
		{"last before first", "harvest:\n  year_month: \"2411\"\n  first: 5\n  last: 2\n"},
		{"zero workers", "harvest:\n  year_month: \"2411\"\n  first: 1\n  last: 2\n  workers: 0\n"},
		{"unknown backend", validConfig + "output:\n  backend: s3\n"},
		{"gcs without bucket", validConfig + "output:\n  backend: gcs\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HARVESTER_HARVEST_WORKERS", "8")
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Harvest.Workers)
}
