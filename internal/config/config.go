package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
)

// Config holds all configuration settings.
type Config struct {
	// Control server configuration
	Server struct {
		Addr string
	}
	// Pool configuration
	Pool struct {
		Max         uint
		MaxPerApp   uint
		MaxIdleTime int // seconds, 0 disables idle reaping
	}
	// Spawn service configuration
	Spawn struct {
		SocketDir      string
		Command        string
		ConnectTimeout int // seconds
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
}

// Initialize sets up the configuration system.
func Initialize() error {
	v = viper.New()

	// Set config name and paths
	v.SetConfigName("config")           // name of config file (without extension)
	v.SetConfigType("yaml")             // config file type
	v.AddConfigPath(".")                // optionally look for config in working directory
	v.AddConfigPath("$HOME/.go_appool") // look for config in .go_appool directory in home
	v.AddConfigPath("/etc/go_appool/")  // path to look for the config file in

	// Set default values
	setDefaults()

	// Environment variables
	v.SetEnvPrefix("GOAPPOOL") // prefix for env vars
	v.AutomaticEnv()           // read in environment variables that match
	v.SetEnvKeyReplacer(       // replace dots with underscores in env vars
		strings.NewReplacer(".", "_"),
	)

	// Read in config file
	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal config into struct
	if err := v.Unmarshal(&configData); err != nil {
		return fmt.Errorf("unable to decode into config struct: %w", err)
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults() {
	// Control server defaults
	v.SetDefault("server.addr", "127.0.0.1:7832")

	// Pool defaults
	v.SetDefault("pool.max", 20)
	v.SetDefault("pool.maxperapp", 0)
	v.SetDefault("pool.maxidletime", 120)

	// Spawn defaults
	v.SetDefault("spawn.socketdir", "")
	v.SetDefault("spawn.command", "")
	v.SetDefault("spawn.connecttimeout", 10)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
