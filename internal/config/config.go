// Package config holds the runtime settings of the tokenslot server.
// Values come from a YAML file, TOKENSLOT_* environment variables and
// command-line flags, merged by viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"git.sr.ht/~jakintosh/tokenslot/internal/database"
	"git.sr.ht/~jakintosh/tokenslot/internal/logging"
	"git.sr.ht/~jakintosh/tokenslot/internal/tokens"
)

const EnvPrefix = "TOKENSLOT"

const (
	SourceLocal    = "local"
	SourceExternal = "external"
)

// keys shared between flags, env and file
const (
	ServerAddrKey              = "server.addr"
	ServerAllowRegistrationKey = "server.allow_registration"
	ServerShutdownTimeoutKey   = "server.shutdown_timeout"
	DatabaseDriverKey          = "database.driver"
	DatabaseDSNKey             = "database.dsn"
	SourceTypeKey              = "source.type"
	SourceEndpointKey          = "source.endpoint"
	SourceTimeoutKey           = "source.timeout"
	AccountsDirKey             = "accounts.dir"
	LogLevelKey                = "log.level"
	LogFormatKey               = "log.format"
	LogNoColorKey              = "log.no_color"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Source   SourceConfig   `mapstructure:"source"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	AllowRegistration bool          `mapstructure:"allow_registration"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	// DSN is the SQLite file path or the PostgreSQL connection string.
	DSN string `mapstructure:"dsn"`
}

// SourceConfig selects where raw tokens come from.
type SourceConfig struct {
	Type     string        `mapstructure:"type"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AccountsConfig points at a directory of account definition files.
// An empty Dir disables provisioning from disk.
type AccountsConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(ServerAddrKey, ":8080")
	v.SetDefault(ServerAllowRegistrationKey, false)
	v.SetDefault(ServerShutdownTimeoutKey, 10*time.Second)
	v.SetDefault(DatabaseDriverKey, database.DriverSQLite)
	v.SetDefault(DatabaseDSNKey, "tokenslot.db")
	v.SetDefault(SourceTypeKey, SourceLocal)
	v.SetDefault(SourceEndpointKey, "")
	v.SetDefault(SourceTimeoutKey, tokens.DefaultExternalTimeout)
	v.SetDefault(AccountsDirKey, "")
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, logging.FormatConsole)
	v.SetDefault(LogNoColorKey, false)
}

// Load decodes and validates the merged configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver '%s'", c.Database.Driver)
		}
	case database.DriverMemory:
	default:
		return fmt.Errorf("unknown database.driver '%s'", c.Database.Driver)
	}

	switch c.Source.Type {
	case SourceLocal:
	case SourceExternal:
		if c.Source.Endpoint == "" {
			return fmt.Errorf("source.endpoint is required for external source")
		}
		if c.Source.Timeout <= 0 {
			return fmt.Errorf("source.timeout must be positive")
		}
	default:
		return fmt.Errorf("unknown source.type '%s'", c.Source.Type)
	}

	return nil
}

// TokenSource builds the tokens.Source selected by the configuration.
func (c *Config) TokenSource() (tokens.Source, error) {
	if c.Source.Type != SourceExternal {
		return tokens.LocalSource{}, nil
	}
	client, err := tokens.NewExternalClient(c.Source.Endpoint, c.Source.Timeout)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EnvKeyReplacer maps nested keys to environment variable names,
// e.g. source.timeout to TOKENSLOT_SOURCE_TIMEOUT.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
