// Package config loads the agent configuration from YAML with environment
// overrides (LANTERN_ prefix).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Network describes one configured chain.
type Network struct {
	Name       string `mapstructure:"name"`
	ChainIDHex string `mapstructure:"chainIdHex"`
	RPCURL     string `mapstructure:"rpcUrl"`
	// DelegationContract is the EIP-7702 account implementation this wallet
	// delegates to on that chain. Empty disables upgrade flows.
	DelegationContract string `mapstructure:"delegationContract"`
}

type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// UIAllowedOrigins are browser origins of the local approval UI.
	UIAllowedOrigins []string `mapstructure:"uiAllowedOrigins"`
}

type GasSettings struct {
	// MaxFeeCapGwei caps maxFeePerGas computed from the network gas price.
	MaxFeeCapGwei uint64 `mapstructure:"maxFeeCapGwei"`
}

type Config struct {
	Server        ServerSettings     `mapstructure:"server"`
	Gas           GasSettings        `mapstructure:"gas"`
	Networks      map[string]Network `mapstructure:"networks"`
	ActiveNetwork string             `mapstructure:"activeNetwork"`

	DataDir         string `mapstructure:"dataDir"`
	KeystorePath    string `mapstructure:"keystorePath"`
	ConnectionsPath string `mapstructure:"connectionsPath"`
	ActivityDBPath  string `mapstructure:"activityDbPath"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Load reads lantern.yaml from the usual locations, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("lantern")
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "lantern"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LANTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
		// no file: defaults + env only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	applyDataDir(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7319)
	v.SetDefault("gas.maxFeeCapGwei", 100)
	v.SetDefault("activeNetwork", "mainnet")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	home, _ := os.UserHomeDir()
	v.SetDefault("dataDir", filepath.Join(home, ".local", "share", "lantern"))
}

func applyDataDir(cfg *Config) {
	if cfg.DataDir == "" {
		return
	}
	if cfg.KeystorePath == "" {
		cfg.KeystorePath = filepath.Join(cfg.DataDir, "keystore")
	}
	if cfg.ConnectionsPath == "" {
		cfg.ConnectionsPath = filepath.Join(cfg.DataDir, "connections.json")
	}
	if cfg.ActivityDBPath == "" {
		cfg.ActivityDBPath = filepath.Join(cfg.DataDir, "activity.db")
	}
}

// Validate checks the parts the agent cannot run without.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return errors.New("config: no networks configured")
	}
	if _, ok := c.Networks[c.ActiveNetwork]; !ok {
		return errors.Newf("config: active network %q is not configured", c.ActiveNetwork)
	}
	for name, n := range c.Networks {
		if strings.TrimSpace(n.RPCURL) == "" {
			return errors.Newf("config: network %q has no rpcUrl", name)
		}
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(n.ChainIDHex)), "0x") {
			return errors.Newf("config: network %q has invalid chainIdHex %q", name, n.ChainIDHex)
		}
	}
	return nil
}
