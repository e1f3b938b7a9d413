package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/joshuapare/ntfskit/ntfs"
)

// Config holds the default mount options ntfsctl applies to every command.
type Config struct {
	Force              bool   `mapstructure:"force"`
	Discard            bool   `mapstructure:"discard"`
	DiscardGranularity uint32 `mapstructure:"discard_granularity"`
	Locale             string `mapstructure:"locale"`
}

// loadConfig reads the optional ntfsctl config file using Viper.
func loadConfig() (*Config, error) {
	viper.SetConfigName("ntfsctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.ntfsctl")
	viper.AddConfigPath("/etc/ntfsctl")

	viper.SetDefault("force", false)
	viper.SetDefault("discard", false)
	viper.SetDefault("discard_granularity", 0)
	viper.SetDefault("locale", "")

	viper.SetEnvPrefix("NTFSCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// mountReadOnly mounts an image with the configured defaults, read-only.
func mountReadOnly(path string) (*ntfs.Volume, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var logw io.Writer = io.Discard
	if verbose && !quiet {
		logw = os.Stderr
	}
	opts := ntfs.MountOptions{
		ReadOnly: true,
		Force:    cfg.Force,
		Locale:   cfg.Locale,
		Logger:   slog.New(slog.NewTextHandler(logw, nil)),
	}
	return ntfs.MountFile(path, &opts)
}
