package config

import (
	"dirwatch/internal/filter"
	"dirwatch/internal/util/logger/sl"
	"dirwatch/internal/watcher"
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

var (
	ErrConfigNotFound  = errors.New("config file does not exist")
	ErrEmptyPath       = errors.New("watch path is empty")
	ErrInvalidPath     = errors.New("watch path is not a directory")
	ErrInvalidEnv      = errors.New("unknown env")
	ErrInvalidLogLevel = errors.New("unknown log level")
	ErrInvalidBackend  = errors.New("unknown watch backend")
)

// Config is resolved once at startup and not changed afterwards.
// Recursion is on unless NoRecursive is set, mirroring --no-recursive.
type Config struct {
	Env         string   `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel    string   `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Path        string   `yaml:"path" env:"DIRWATCH_PATH"`
	NoRecursive bool     `yaml:"no_recursive" env:"DIRWATCH_NO_RECURSIVE"`
	Ignore      []string `yaml:"ignore" env:"DIRWATCH_IGNORE" env-separator:","`
	ShowIgnored bool     `yaml:"show_ignored" env:"DIRWATCH_SHOW_IGNORED"`
	Backend     string   `yaml:"backend" env:"DIRWATCH_BACKEND" env-default:"auto"`
}

// Load reads configPath when given, then the environment.
// Priority: env > file > default.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("cannot read env: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Recursive() bool {
	return !c.NoRecursive
}

func (c *Config) WatchOptions() watcher.WatchOptions {
	return watcher.WatchOptions{
		Path:      c.Path,
		Recursive: c.Recursive(),
	}
}

// Validate checks everything that must hold before watching starts,
// including that every ignore pattern compiles.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEnv, c.Env)
	}

	if _, err := sl.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	switch c.Backend {
	case "", watcher.BackendAuto, watcher.BackendFSNotify, watcher.BackendInotify:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}

	if c.Path == "" {
		return ErrEmptyPath
	}
	info, err := os.Stat(c.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidPath, c.Path)
	}

	if _, err := filter.New(c.Ignore); err != nil {
		return err
	}

	return nil
}
