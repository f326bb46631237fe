package store

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
	defaultDBPath   = "fogpdm.db"

	DefaultBatchSize    = 100
	DefaultBatchTimeout = 5 * time.Second
)

// Drivers
const (
	DriverNone       = "none"
	DriverSQLite     = "sqlite"
	DriverClickHouse = "clickhouse"
)

type Config struct {
	Driver       string
	DBPath       string
	BackupDir    string
	BatchSize    int
	BatchTimeout time.Duration
	ClickHouse   ClickHouseConfig
}

type ClickHouseConfig struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DBPath:       defaultDBPath,
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
		ClickHouse: ClickHouseConfig{
			Addr:        "localhost:9000",
			Database:    "fogpdm",
			Username:    "default",
			DialTimeout: 5 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch c.Driver {
	case DriverNone:
		return nil
	case DriverSQLite:
		if c.DBPath == "" {
			return errFactory.New(ErrInvalidDBPath)
		}
	case DriverClickHouse:
		if c.ClickHouse.Addr == "" {
			return errFactory.WithMessage(ErrInvalidConfig, "clickhouse address is required")
		}
	default:
		return errFactory.WithData(ErrUnknownDriver, c.Driver)
	}

	if c.BatchSize < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct{ BatchSize int }{c.BatchSize})
	}
	return nil
}

// backupDir defaults to a backups directory next to the database.
func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
