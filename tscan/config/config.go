package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/treescan/tscan"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Treescan TreescanConfig `mapstructure:"treescan"`
}

// TreescanConfig stores scanner and cache related configurations.
type TreescanConfig struct {
	CacheDir         string   `mapstructure:"cacheDir"`
	Workers          int      `mapstructure:"workers"`
	FreshnessMinutes int      `mapstructure:"freshnessMinutes"`
	HotEntries       int      `mapstructure:"hotEntries"`
	SortThreshold    int      `mapstructure:"sortThreshold"`
	SkipDirs         []string `mapstructure:"skipDirs"`
	Elevated         bool     `mapstructure:"elevated"`
	IgnoreFile       string   `mapstructure:"ignoreFile"`
}

// CacheBase returns the base path for the persisted cache files; the store
// derives the .idx and .dat siblings from it.
func (c *TreescanConfig) CacheBase() string {
	return filepath.Join(c.CacheDir, internal.DefaultAppName)
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("treescan.cacheDir", internal.DefaultCacheDir)
	viper.SetDefault("treescan.workers", 0) // 0 = 2x logical cores, resolved by the traversal engine
	viper.SetDefault("treescan.freshnessMinutes", internal.DefaultFreshnessMinutes)
	viper.SetDefault("treescan.hotEntries", internal.DefaultHotEntries)
	viper.SetDefault("treescan.sortThreshold", internal.DefaultSortThreshold)
	viper.SetDefault("treescan.elevated", false)
	viper.SetDefault("treescan.ignoreFile", ".treescan-ignore")

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. treescan.cacheDir becomes TREESCAN_CACHEDIR

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used. This is not an
			// error for the application to halt on.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
