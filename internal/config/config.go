package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel         = "info"
	DefaultNumMachines      = 5
	DefaultSimDuration      = 100.0
	DefaultMonitorInterval  = 10.0
	DefaultLoadThreshold    = 0.8
	DefaultFallbackTemp     = 70.0
	DefaultJoinTimeout      = 3.0
	DefaultProgressInterval = 30.0
	DefaultFaultProbability = 0.2
	DefaultEdgeTimeout      = 5.0
	DefaultCloudTimeout     = 12.0

	defaultConfigName = "config"
	defaultEnvPrefix  = "FOGPDM"
	configEnvVar      = "FOGPDM_CONFIG"
)

// Sensor source kinds
const (
	SourceSimulated = "simulated"
	SourceReplay    = "replay"
	SourceNVML      = "nvml"
)

// Predictor kinds
const (
	PredictorRule   = "rule"
	PredictorLinear = "linear"
	PredictorExec   = "exec"
	PredictorSocket = "socket"
)

// Store drivers
const (
	StoreNone       = "none"
	StoreSQLite     = "sqlite"
	StoreClickHouse = "clickhouse"
)

type Config struct {
	NumMachines         int     `mapstructure:"numMachines"`
	SimDuration         float64 `mapstructure:"simDuration"`
	MonitorInterval     float64 `mapstructure:"monitorInterval"`
	LoadThreshold       float64 `mapstructure:"loadThreshold"`
	LogLevel            string  `mapstructure:"logLevel"`
	Seed                int64   `mapstructure:"seed"`
	FaultProbability    float64 `mapstructure:"faultProbability"`
	Source              string  `mapstructure:"source"`
	ReplayFile          string  `mapstructure:"replayFile"`
	FallbackTemperature float64 `mapstructure:"fallbackTemperature"`
	JoinTimeout         float64 `mapstructure:"joinTimeout"`
	ProgressInterval    float64 `mapstructure:"progressInterval"`

	Edge   PredictorConfig `mapstructure:"edge"`
	Cloud  PredictorConfig `mapstructure:"cloud"`
	Store  StoreConfig     `mapstructure:"store"`
	Alerts AlertsConfig    `mapstructure:"alerts"`
	Output OutputConfig    `mapstructure:"output"`
}

// PredictorConfig selects and tunes one prediction tier.
type PredictorConfig struct {
	Kind        string   `mapstructure:"kind"`
	Timeout     float64  `mapstructure:"timeout"`
	Command     string   `mapstructure:"command"`
	Args        []string `mapstructure:"args"`
	Address     string   `mapstructure:"address"`
	ModelPath   string   `mapstructure:"modelPath"`
	Delay       float64  `mapstructure:"delay"`
	Jitter      float64  `mapstructure:"jitter"`
	FailureRate float64  `mapstructure:"failureRate"`
}

type StoreConfig struct {
	Driver       string           `mapstructure:"driver"`
	Path         string           `mapstructure:"path"`
	BatchSize    int              `mapstructure:"batchSize"`
	BatchTimeout int              `mapstructure:"batchTimeout"`
	ClickHouse   ClickHouseConfig `mapstructure:"clickhouse"`
}

type ClickHouseConfig struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type AlertsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"clientId"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"machines":  "numMachines",
	"duration":  "simDuration",
	"interval":  "monitorInterval",
	"threshold": "loadThreshold",
	"log-level": "logLevel",
	"seed":      "seed",
	"source":    "source",
	"replay":    "replayFile",
	"output":    "output.path",
	"format":    "output.format",
	"store":     "store.driver",
	"db":        "store.path",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to configuration file")
	fs.IntP("machines", "m", DefaultNumMachines, "Number of simulated machines")
	fs.Float64P("duration", "d", DefaultSimDuration, "Simulation duration in seconds")
	fs.Float64P("interval", "i", DefaultMonitorInterval, "Seconds between readings per machine")
	fs.Float64P("threshold", "t", DefaultLoadThreshold, "Edge confidence threshold in [0,1]")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Int64("seed", 0, "Random seed for simulated readings (0 = time based)")
	fs.String("source", SourceSimulated, "Sensor source (simulated, replay, nvml)")
	fs.String("replay", "", "JSONL file of readings for the replay source")
	fs.StringP("output", "o", "", "Write the final report to this file")
	fs.String("format", "json", "Report file format (json, yaml)")
	fs.String("store", StoreSQLite, "Result store (none, sqlite, clickhouse)")
	fs.String("db", "fogpdm.db", "SQLite database path")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("numMachines", DefaultNumMachines)
	v.SetDefault("simDuration", DefaultSimDuration)
	v.SetDefault("monitorInterval", DefaultMonitorInterval)
	v.SetDefault("loadThreshold", DefaultLoadThreshold)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("seed", 0)
	v.SetDefault("faultProbability", DefaultFaultProbability)
	v.SetDefault("source", SourceSimulated)
	v.SetDefault("replayFile", "")
	v.SetDefault("fallbackTemperature", DefaultFallbackTemp)
	v.SetDefault("joinTimeout", DefaultJoinTimeout)
	v.SetDefault("progressInterval", DefaultProgressInterval)

	v.SetDefault("edge.kind", PredictorRule)
	v.SetDefault("edge.timeout", DefaultEdgeTimeout)
	v.SetDefault("edge.command", "")
	v.SetDefault("edge.args", []string{})
	v.SetDefault("edge.address", "")
	v.SetDefault("edge.modelPath", "")
	v.SetDefault("edge.delay", 0.0)
	v.SetDefault("edge.jitter", 0.0)
	v.SetDefault("edge.failureRate", 0.0)

	v.SetDefault("cloud.kind", PredictorLinear)
	v.SetDefault("cloud.timeout", DefaultCloudTimeout)
	v.SetDefault("cloud.command", "")
	v.SetDefault("cloud.args", []string{})
	v.SetDefault("cloud.address", "")
	v.SetDefault("cloud.modelPath", "")
	v.SetDefault("cloud.delay", 0.15)
	v.SetDefault("cloud.jitter", 0.05)
	v.SetDefault("cloud.failureRate", 0.0)

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.path", "fogpdm.db")
	v.SetDefault("store.batchSize", 100)
	v.SetDefault("store.batchTimeout", 5)
	v.SetDefault("store.clickhouse.addr", "localhost:9000")
	v.SetDefault("store.clickhouse.database", "fogpdm")
	v.SetDefault("store.clickhouse.username", "default")
	v.SetDefault("store.clickhouse.password", "")

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.broker", "tcp://localhost:1883")
	v.SetDefault("alerts.clientId", "fogpdm")
	v.SetDefault("alerts.topic", "fogpdm/machines/{machine_id}/alerts")
	v.SetDefault("alerts.username", "")
	v.SetDefault("alerts.password", "")

	v.SetDefault("output.path", "")
	v.SetDefault("output.format", "json")
}

// Load reads configuration from defaults, the config file, the environment
// and fs, in increasing order of precedence. fs may be nil.
func Load(fs *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: defaultEnvPrefix,
		envFile:   ".env",
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := o.configPath
	if fs != nil && configPath == "" {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			configPath = f.Value.String()
		}
	}
	if configPath == "" {
		configPath = os.Getenv(configEnvVar)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("properties")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field and reports the first invalid one as a
// ValidationError wrapped in an ErrInvalidConfig.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.Wrap(errors.ErrInvalidLogLevel,
			&validationError{"logLevel", c.LogLevel, "must be debug, info, warning or error"})
	}

	checks := []struct {
		ok     bool
		field  string
		value  interface{}
		reason string
	}{
		{c.NumMachines >= 1, "numMachines", c.NumMachines, "must be at least 1"},
		{c.SimDuration > 0, "simDuration", c.SimDuration, "must be greater than 0"},
		{c.MonitorInterval >= 0, "monitorInterval", c.MonitorInterval, "must not be negative"},
		{c.LoadThreshold >= 0 && c.LoadThreshold <= 1, "loadThreshold", c.LoadThreshold, "must be within [0,1]"},
		{c.FaultProbability >= 0 && c.FaultProbability <= 1, "faultProbability", c.FaultProbability, "must be within [0,1]"},
		{c.JoinTimeout >= 0, "joinTimeout", c.JoinTimeout, "must not be negative"},
		{c.ProgressInterval >= 0, "progressInterval", c.ProgressInterval, "must not be negative"},
		{oneOf(c.Source, SourceSimulated, SourceReplay, SourceNVML), "source", c.Source, "unknown sensor source"},
		{c.Source != SourceReplay || c.ReplayFile != "", "replayFile", c.ReplayFile, "required for the replay source"},
		{oneOf(c.Store.Driver, StoreNone, StoreSQLite, StoreClickHouse), "store.driver", c.Store.Driver, "unknown store driver"},
		{c.Store.Driver != StoreSQLite || c.Store.Path != "", "store.path", c.Store.Path, "required for the sqlite store"},
		{oneOf(c.Output.Format, "json", "yaml"), "output.format", c.Output.Format, "must be json or yaml"},
		{!c.Alerts.Enabled || c.Alerts.Broker != "", "alerts.broker", c.Alerts.Broker, "required when alerts are enabled"},
	}
	for _, check := range checks {
		if !check.ok {
			return errFactory.Wrap(errors.ErrInvalidConfig,
				&validationError{check.field, check.value, check.reason})
		}
	}

	for tier, p := range map[string]PredictorConfig{"edge": c.Edge, "cloud": c.Cloud} {
		if err := p.validate(tier); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	return nil
}

func (p PredictorConfig) validate(tier string) ValidationError {
	switch {
	case !oneOf(p.Kind, PredictorRule, PredictorLinear, PredictorExec, PredictorSocket):
		return &validationError{tier + ".kind", p.Kind, "unknown predictor kind"}
	case p.Timeout <= 0:
		return &validationError{tier + ".timeout", p.Timeout, "must be greater than 0"}
	case p.Kind == PredictorExec && p.Command == "":
		return &validationError{tier + ".command", p.Command, "required for exec predictors"}
	case p.Kind == PredictorSocket && p.Address == "":
		return &validationError{tier + ".address", p.Address, "required for socket predictors"}
	case p.Delay < 0 || p.Jitter < 0:
		return &validationError{tier + ".delay", p.Delay, "delay and jitter must not be negative"}
	case p.FailureRate < 0 || p.FailureRate > 1:
		return &validationError{tier + ".failureRate", p.FailureRate, "must be within [0,1]"}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func (c *Config) Duration() time.Duration                { return seconds(c.SimDuration) }
func (c *Config) Interval() time.Duration                { return seconds(c.MonitorInterval) }
func (c *Config) JoinWait() time.Duration                { return seconds(c.JoinTimeout) }
func (c *Config) ProgressEvery() time.Duration           { return seconds(c.ProgressInterval) }
func (p PredictorConfig) TimeoutDuration() time.Duration { return seconds(p.Timeout) }
func (p PredictorConfig) DelayDuration() time.Duration   { return seconds(p.Delay) }
func (p PredictorConfig) JitterDuration() time.Duration  { return seconds(p.Jitter) }
