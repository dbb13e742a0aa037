package common

import (
	"github.com/juju/errors"
	"gopkg.in/ini.v1"
)

// Config holds the engine's tunables. A zero Config is not usable; start
// from DefaultConfig or LoadConfig.
type Config struct {
	// PoolSize is the number of frames per buffer-pool instance.
	PoolSize int
	// NumInstances is the number of buffer-pool shards. Page ids route to
	// an instance by id mod NumInstances.
	NumInstances int
	// DBFile is the path of the single backing database file.
	DBFile string
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		PoolSize:     64,
		NumInstances: 4,
		DBFile:       "kestrel.db",
		LogLevel:     "info",
	}
}

// LoadConfig reads an INI file and overlays it on the defaults. Missing keys
// keep their default values.
//
//	[storage]
//	pool_size     = 64
//	num_instances = 4
//	db_file       = kestrel.db
//
//	[log]
//	level = info
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Annotatef(err, "loading config %q", path)
	}

	storage := file.Section("storage")
	cfg.PoolSize = storage.Key("pool_size").MustInt(cfg.PoolSize)
	cfg.NumInstances = storage.Key("num_instances").MustInt(cfg.NumInstances)
	cfg.DBFile = storage.Key("db_file").MustString(cfg.DBFile)
	cfg.LogLevel = file.Section("log").Key("level").MustString(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return errors.NotValidf("pool_size %d", c.PoolSize)
	}
	if c.NumInstances <= 0 {
		return errors.NotValidf("num_instances %d", c.NumInstances)
	}
	if c.DBFile == "" {
		return errors.NotValidf("empty db_file")
	}
	return nil
}
