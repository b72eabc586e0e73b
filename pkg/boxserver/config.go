package boxserver

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const configFileName = "boxbackup-server"

// Config is the server-side configuration surface (SPEC_FULL.md §1.2):
// listen address, per-account store root, retention policy knobs (spec
// §4.8), soft/hard quota defaults, and the housekeeping interval.
type Config struct {
	ListenAddress        string        `mapstructure:"listen-address"`
	StoreRoot            string        `mapstructure:"store-root"`
	DefaultSoftLimit     int64         `mapstructure:"default-soft-limit"`
	DefaultHardLimit     int64         `mapstructure:"default-hard-limit"`
	OldVersionRetention  time.Duration `mapstructure:"old-version-retention"`
	DeletedRetention     time.Duration `mapstructure:"deleted-retention"`
	HousekeepingInterval time.Duration `mapstructure:"housekeeping-interval"`
	LockTimeout          time.Duration `mapstructure:"lock-timeout"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("store-root", "/var/lib/boxbackup")
	v.SetDefault("default-soft-limit", int64(100_000))
	v.SetDefault("default-hard-limit", int64(120_000))
	v.SetDefault("old-version-retention", 30*24*time.Hour)
	v.SetDefault("deleted-retention", 7*24*time.Hour)
	v.SetDefault("housekeeping-interval", time.Hour)
	v.SetDefault("lock-timeout", 30*time.Second)
}

// configKeys lists every mapstructure key Config carries, so bindEnv
// can cover a key with no default the way pkg/boxclient's config does
// (AutomaticEnv alone never picks up an override for an undefaulted,
// unbound key).
var configKeys = []string{
	"listen-address", "store-root",
	"default-soft-limit", "default-hard-limit",
	"old-version-retention", "deleted-retention",
	"housekeeping-interval", "lock-timeout",
}

func bindEnv(v *viper.Viper) {
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
}

// LoadConfig reads server configuration from path (or, if empty,
// boxbackup-server.yaml searched for in the home directory and then
// the current directory), with `BOX_` prefixed environment variable
// overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOX")
	v.AutomaticEnv()
	defaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			v.AddConfigPath(home)
			v.AddConfigPath(".")
		}
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("boxserver: reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("boxserver: decoding config: %w", err)
	}
	return cfg, nil
}
