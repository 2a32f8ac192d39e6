// Package config loads and persists the agent configuration. Values come
// from the config file, overridden by FRAMECAST_* environment variables,
// overridden by command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	// FPS is the target capture rate for streaming sessions.
	FPS int `mapstructure:"fps" yaml:"fps"`
	// DisplayIndex selects the display to capture (0 = first enumerated).
	DisplayIndex int `mapstructure:"display" yaml:"display"`
	// Backend forces a capture backend ("auto", "duplication", "gdi",
	// "streaming", "library"). Empty means auto.
	Backend string `mapstructure:"backend" yaml:"backend"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// OutputDir is where screenshot files are written when no explicit
	// path is given.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

func Default() *Config {
	return &Config{
		FPS:       60,
		Backend:   "auto",
		LogLevel:  "info",
		LogFormat: "text",
		OutputDir: ".",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("framecast")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("FRAMECAST")
	viper.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so each
	// key needs a registered default for FRAMECAST_* overrides to reach
	// Unmarshal.
	viper.SetDefault("fps", cfg.FPS)
	viper.SetDefault("display", cfg.DisplayIndex)
	viper.SetDefault("backend", cfg.Backend)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_format", cfg.LogFormat)
	viper.SetDefault("output_dir", cfg.OutputDir)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("fps", cfg.FPS)
	viper.Set("display", cfg.DisplayIndex)
	viper.Set("backend", cfg.Backend)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("output_dir", cfg.OutputDir)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "framecast.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Framecast")
	case "darwin":
		return "/Library/Application Support/Framecast"
	default:
		return "/etc/framecast"
	}
}
