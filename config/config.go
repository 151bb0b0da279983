// Package config loads the options consumed by the storage backends.
//
// Options are read from an optional configuration file (any format viper
// understands: TOML, YAML, JSON) and may be overridden from the environment
// with the PRINCIPALITY_ prefix, dots replaced by underscores:
//
//	[database]
//	type = "local"
//	directory = "data/"
//	vault_token = "hvs.xxxx"
//
//	PRINCIPALITY_DATABASE_DIRECTORY=/var/lib/principality
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable overrides.
const EnvPrefix = "PRINCIPALITY"

// Config is the root of the configuration tree.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig holds the options recognized by the store backends.
type DatabaseConfig struct {
	// Type selects the backend used by callers that do not pick one explicitly.
	Type string `mapstructure:"type"`
	// Directory is the LocalStore root.
	Directory string `mapstructure:"directory"`
	// RemoteTimeout bounds every RemoteStore call.
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`

	VaultToken   string `mapstructure:"vault_token"`
	VaultAddress string `mapstructure:"vault_address"`
	VaultMount   string `mapstructure:"vault_mount"`

	// S3Token is "ACCESS_KEY:SECRET_KEY".
	S3Token    string `mapstructure:"s3_token"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	// IPFSToken is "PROJECT_ID:SECRET", sent as basic auth.
	IPFSToken   string `mapstructure:"ipfs_token"`
	IPFSAddress string `mapstructure:"ipfs_address"`
}

// DefaultDatabaseConfig returns the values used when nothing is configured.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Type:          "local",
		Directory:     "data/",
		RemoteTimeout: 30 * time.Second,
		VaultAddress:  "http://127.0.0.1:8200",
		VaultMount:    "secret",
		S3Region:      "us-east-1",
		IPFSAddress:   "127.0.0.1:5001",
	}
}

// Token returns the credential configured as database.<service>_token.
func (c DatabaseConfig) Token(service string) string {
	switch strings.ToLower(service) {
	case "vault":
		return c.VaultToken
	case "s3":
		return c.S3Token
	case "ipfs":
		return c.IPFSToken
	default:
		return ""
	}
}

// Load reads path (if non-empty and present) and applies environment
// overrides on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultDatabaseConfig()
	v.SetDefault("database.type", d.Type)
	v.SetDefault("database.directory", d.Directory)
	v.SetDefault("database.remote_timeout", d.RemoteTimeout)
	v.SetDefault("database.vault_token", d.VaultToken)
	v.SetDefault("database.vault_address", d.VaultAddress)
	v.SetDefault("database.vault_mount", d.VaultMount)
	v.SetDefault("database.s3_token", d.S3Token)
	v.SetDefault("database.s3_bucket", d.S3Bucket)
	v.SetDefault("database.s3_region", d.S3Region)
	v.SetDefault("database.s3_endpoint", d.S3Endpoint)
	v.SetDefault("database.ipfs_token", d.IPFSToken)
	v.SetDefault("database.ipfs_address", d.IPFSAddress)
}
