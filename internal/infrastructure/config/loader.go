package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/opsai/assets"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/pkg/filesystem"
	"github.com/doeshing/opsai/internal/ports"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "OPSAI_CONFIG"

// FileLoader loads YAML configuration from ~/.opsai/config.yaml (overridable via OPSAI_CONFIG).
type FileLoader struct {
	overridePath string
	envFiles     []string
	getenv       func(string) string
}

// NewFileLoader builds a new loader. An empty path falls back to
// OPSAI_CONFIG and then the default location.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path, envFiles: []string{".env"}, getenv: os.Getenv}
}

// WithEnvFiles replaces the dotenv files read before the config.
func (l *FileLoader) WithEnvFiles(files ...string) *FileLoader {
	l.envFiles = files
	return l
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	if err := l.loadEnv(); err != nil {
		return domain.Config{}, err
	}

	path := l.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := writeDefault(path); err != nil {
				return domain.Config{}, err
			}
			return Defaults()
		}
		return domain.Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return hydrateDefaults(cfg), nil
}

// Path returns the file Load reads.
func (l *FileLoader) Path() string {
	if l.overridePath != "" {
		return filesystem.ExpandPath(l.overridePath)
	}
	if custom := l.getenv(EnvConfigPath); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filepath.Join(filesystem.AppDir(), "config.yaml")
}

// loadEnv reads dotenv files without overriding variables already set.
func (l *FileLoader) loadEnv() error {
	for _, file := range l.envFiles {
		err := godotenv.Load(file)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// Defaults returns the embedded default configuration.
func Defaults() (domain.Config, error) {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("embedded config: %w", err)
	}
	return hydrateDefaults(cfg), nil
}

// Save writes cfg to path with owner-only permissions.
func Save(path string, cfg domain.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return err
	}
	return os.WriteFile(path, raw, domain.SecureFilePermissions)
}

func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return err
	}
	return os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions)
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8080"
	}
	if cfg.Server.ActionsPerSecond <= 0 {
		cfg.Server.ActionsPerSecond = 5
	}
	if cfg.Server.ActionBurst <= 0 {
		cfg.Server.ActionBurst = 10
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(filesystem.AppDir(), "opsai.db")
	}
	if cfg.Inventory.ServersFile == "" {
		cfg.Inventory.ServersFile = filepath.Join(filesystem.AppDir(), "servers.yaml")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	return cfg
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
