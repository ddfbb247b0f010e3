// Package config loads the service configuration from a YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"irisapi/internal/lifecycle"
)

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Model struct {
		Path        string `yaml:"path"`
		NEstimators int    `yaml:"n_estimators"`
		// MaxDepth 0 means unbounded.
		MaxDepth    int   `yaml:"max_depth"`
		RandomState int64 `yaml:"random_state"`
		Workers     int   `yaml:"workers"`
		CacheSize   int   `yaml:"cache_size"`
		Watch       bool  `yaml:"watch"`
	} `yaml:"model"`
	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

func Default() *Config {
	c := &Config{}
	c.Server.Port = 8000
	c.Server.CORSOrigins = []string{"*"}
	c.Model.Path = "models/iris_model.bin"
	c.Model.NEstimators = 100
	c.Model.RandomState = 42
	c.Model.Workers = 4
	c.Model.CacheSize = 1024
	c.Model.Watch = true
	c.History.Path = "data/training_history.db"
	c.Log.Level = "info"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28
	return c
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error; the defaults are used instead.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(c); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Model.Workers < 1 {
		return fmt.Errorf("model.workers must be at least 1, got %d", c.Model.Workers)
	}
	if c.Model.CacheSize < 0 {
		return fmt.Errorf("model.cache_size must not be negative, got %d", c.Model.CacheSize)
	}
	if c.Model.MaxDepth < 0 {
		return fmt.Errorf("model.max_depth must not be negative, got %d", c.Model.MaxDepth)
	}
	if err := c.Hyperparameters().Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Hyperparameters used for startup training.
func (c *Config) Hyperparameters() lifecycle.Hyperparameters {
	hp := lifecycle.Hyperparameters{
		NEstimators: c.Model.NEstimators,
		RandomState: c.Model.RandomState,
	}
	if c.Model.MaxDepth > 0 {
		d := c.Model.MaxDepth
		hp.MaxDepth = &d
	}
	return hp
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
