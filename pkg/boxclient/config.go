package boxclient

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const configFileName = "boxbackup-client"

// Config is the client-side configuration surface (SPEC_FULL.md §1.2):
// key material location, account identity, server address, the set of
// local roots to walk on backup, and the tunables that feed C9's
// diff-vs-fresh decision.
type Config struct {
	KeyMaterialPath string        `mapstructure:"key-material"`
	AccountID       uint64        `mapstructure:"account-id"`
	ServerAddress   string        `mapstructure:"server-address"`
	Roots           []BackupRoot  `mapstructure:"roots"`
	DiffBudget      time.Duration `mapstructure:"diff-budget"`
	MinMatchRatio   float64       `mapstructure:"min-match-ratio"`
	IndexCacheTTL   time.Duration `mapstructure:"index-cache-ttl"`
	IndexCachePath  string        `mapstructure:"index-cache-path"`
	ConnectTimeout  time.Duration `mapstructure:"connect-timeout"`
	LockTimeout     time.Duration `mapstructure:"lock-timeout"`
}

// BackupRoot is one local directory tree to mirror under a remote
// directory id, with exclusion globs.
type BackupRoot struct {
	LocalPath   string   `mapstructure:"local-path"`
	RemoteDirID uint64   `mapstructure:"remote-dir-id"`
	Exclude     []string `mapstructure:"exclude"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("diff-budget", 30*time.Second)
	v.SetDefault("min-match-ratio", 0.1)
	v.SetDefault("index-cache-ttl", time.Hour)
	v.SetDefault("connect-timeout", 10*time.Second)
	v.SetDefault("lock-timeout", 30*time.Second)
}

// configKeys lists every mapstructure key Config carries. AutomaticEnv
// alone only resolves keys Viper already knows about from a default,
// a config file, or an explicit bind — a key like server-address that
// has no default would silently never pick up its BOX_ env override
// without this.
var configKeys = []string{
	"key-material", "account-id", "server-address",
	"diff-budget", "min-match-ratio",
	"index-cache-ttl", "index-cache-path",
	"connect-timeout", "lock-timeout",
}

func bindEnv(v *viper.Viper) {
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
}

// LoadConfig reads client configuration from the given path (or, if
// empty, boxbackup-client.yaml searched for in the home directory and
// then the current directory),
// with `BOX_`-prefixed environment variable overrides, mirroring
// cmd/vorteil's viper/pflag wiring (vconvert.initConfig's
// explicit-path-or-homedir-search pattern).
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
			return nil, fmt.Errorf("boxclient: reading config %s: %w", path, err)
		}
		// No config file found at the default search path: caller
		// gets defaults plus whatever BOX_ env vars are set.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("boxclient: decoding config: %w", err)
	}
	if cfg.IndexCachePath == "" {
		home, _ := homedir.Dir()
		cfg.IndexCachePath = home + "/.cache/boxbackup-client/diffstate.json"
	}
	return cfg, nil
}
