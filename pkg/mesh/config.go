package mesh

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the node configuration. Values come from the optional config
// file, then INVPN_* environment variables, then the command line.
type Config struct {
	KeyPath  string `mapstructure:"key_path"`
	CertPath string `mapstructure:"cert_path"`
	CAPath   string `mapstructure:"ca_path"`
	DBPath   string `mapstructure:"db_path"`
	Port     int    `mapstructure:"port"`
	Seed     string `mapstructure:"seed"`
	TapName  string `mapstructure:"tap_name"`

	APIListenAddr string `mapstructure:"api_listen_address"`
	Debug         bool   `mapstructure:"debug"`

	AnnounceInterval  time.Duration `mapstructure:"announce_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		KeyPath:           "conf/client.key",
		CertPath:          "conf/client.crt",
		CAPath:            "conf/ca.crt",
		DBPath:            "conf/client.db",
		Port:              41744,
		TapName:           "invpn%d",
		AnnounceInterval:  10 * time.Second,
		ReconnectInterval: 60 * time.Second,
	}
}

// LoadConfig reads the optional invpn.yaml and the environment on top of the
// defaults. Flag values are overlaid afterwards by the caller.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("invpn")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/invpn/")
	viper.SetEnvPrefix("INVPN")
	viper.AutomaticEnv()
	for _, key := range []string{
		"key_path", "cert_path", "ca_path", "db_path", "port", "seed", "tap_name",
		"api_listen_address", "debug", "announce_interval", "reconnect_interval",
	} {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 60 * time.Second
	}
	return cfg, nil
}
