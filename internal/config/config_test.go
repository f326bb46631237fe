package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/fogpdm/internal/config"
	"codeberg.org/mutker/fogpdm/internal/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.properties", `
# simulation
numMachines = 3
simDuration = 15.0
monitorInterval = 0.5
loadThreshold = 0.6
logLevel = debug
edge.kind = exec
edge.command = python3
edge.timeout = 4
cloud.kind = socket
cloud.address = localhost:12345
store.driver = none
`)

	cfg, err := config.Load(nil, config.WithConfigFile(path), config.WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.NumMachines)
	assert.Equal(t, 15.0, cfg.SimDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Interval())
	assert.Equal(t, 0.6, cfg.LoadThreshold)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.PredictorExec, cfg.Edge.Kind)
	assert.Equal(t, "python3", cfg.Edge.Command)
	assert.Equal(t, 4*time.Second, cfg.Edge.TimeoutDuration())
	assert.Equal(t, config.PredictorSocket, cfg.Cloud.Kind)
	assert.Equal(t, "localhost:12345", cfg.Cloud.Address)
	assert.Equal(t, config.StoreNone, cfg.Store.Driver)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FOGPDM_CONFIG", "")
	chdir(t, t.TempDir())

	cfg, err := config.Load(nil, config.WithEnvFile(""))
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultNumMachines, cfg.NumMachines)
	assert.Equal(t, 100*time.Second, cfg.Duration())
	assert.Equal(t, 10*time.Second, cfg.Interval())
	assert.Equal(t, config.DefaultLoadThreshold, cfg.LoadThreshold)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.SourceSimulated, cfg.Source)
	assert.Equal(t, config.PredictorRule, cfg.Edge.Kind)
	assert.Equal(t, config.PredictorLinear, cfg.Cloud.Kind)
	assert.Equal(t, 5*time.Second, cfg.Edge.TimeoutDuration())
	assert.Equal(t, 12*time.Second, cfg.Cloud.TimeoutDuration())
	assert.Equal(t, 3*time.Second, cfg.JoinWait())
	assert.Equal(t, 70.0, cfg.FallbackTemperature)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FOGPDM_CONFIG", "")
	t.Setenv("FOGPDM_NUMMACHINES", "7")
	t.Setenv("FOGPDM_EDGE_TIMEOUT", "2.5")
	chdir(t, t.TempDir())

	cfg, err := config.Load(nil, config.WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.NumMachines)
	assert.Equal(t, 2500*time.Millisecond, cfg.Edge.TimeoutDuration())
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("FOGPDM_CONFIG", "")
	dir := t.TempDir()
	chdir(t, dir)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FOGPDM_LOADTHRESHOLD=0.35\n"), 0o600))
	// godotenv sets the variable on the process; make sure it is cleared afterwards.
	t.Setenv("FOGPDM_LOADTHRESHOLD", "")
	require.NoError(t, os.Unsetenv("FOGPDM_LOADTHRESHOLD"))

	cfg, err := config.Load(nil, config.WithEnvFile(envFile))
	require.NoError(t, err)
	assert.Equal(t, 0.35, cfg.LoadThreshold)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "config.properties", "numMachines = 3\nloadThreshold = 0.6\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--machines", "9", "--log-level", "warning"}))

	cfg, err := config.Load(fs, config.WithConfigFile(path), config.WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.NumMachines, "flag wins over file")
	assert.Equal(t, 0.6, cfg.LoadThreshold, "file wins over flag default")
	assert.Equal(t, "warning", cfg.LogLevel)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, "fogpdm.toml", "This is not a valid TOML file\n")

	_, err := config.Load(nil, config.WithConfigFile(path), config.WithEnvFile(""))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"no machines", "numMachines = 0", "numMachines"},
		{"zero duration", "simDuration = 0", "simDuration"},
		{"negative interval", "monitorInterval = -1", "monitorInterval"},
		{"threshold above one", "loadThreshold = 1.5", "loadThreshold"},
		{"unknown source", "source = serial", "source"},
		{"replay without file", "source = replay", "replayFile"},
		{"exec without command", "edge.kind = exec", "edge.command"},
		{"socket without address", "cloud.kind = socket", "cloud.address"},
		{"bad failure rate", "cloud.failureRate = 2", "cloud.failureRate"},
		{"bad format", "output.format = xml", "output.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.properties", tt.content+"\n")

			_, err := config.Load(nil, config.WithConfigFile(path), config.WithEnvFile(""))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

			var verr config.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field())
		})
	}
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "config.properties", "logLevel = invalid\n")

	_, err := config.Load(nil, config.WithConfigFile(path), config.WithEnvFile(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid log level")
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
