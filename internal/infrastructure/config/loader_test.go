package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/opsai/assets"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	loader := NewFileLoader(path).WithEnvFiles()

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, assets.DefaultConfigYAML, raw)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, []string{"openai", "gemini", "groq", "ollama"}, cfg.ProviderOrder())
	assert.Equal(t, 6, cfg.ReconnectAttempts())
}

func TestLoadHydratesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":9000\"\nexecution:\n  reconnect_attempts: 2\n"), 0o600))

	cfg, err := NewFileLoader(path).WithEnvFiles().Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 2, cfg.ReconnectAttempts())
	assert.Equal(t, 5.0, cfg.Server.ActionsPerSecond)
	assert.Equal(t, "1", cfg.ConfigFormatVersion)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Storage.Path)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o600))

	_, err := NewFileLoader(path).WithEnvFiles().Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestPathPrefersOverrideThenEnv(t *testing.T) {
	loader := NewFileLoader("")
	loader.getenv = func(key string) string {
		if key == EnvConfigPath {
			return "/etc/opsai/config.yaml"
		}
		return ""
	}
	assert.Equal(t, "/etc/opsai/config.yaml", loader.Path())

	loader.overridePath = "/tmp/opsai.yaml"
	assert.Equal(t, "/tmp/opsai.yaml", loader.Path())

	loader = NewFileLoader("")
	loader.getenv = func(string) string { return "" }
	assert.Equal(t, "config.yaml", filepath.Base(loader.Path()))
	assert.Equal(t, ".opsai", filepath.Base(filepath.Dir(loader.Path())))
}

func TestLoadReadsDotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OPSAI_TEST_DOTENV_KEY=from-dotenv\n"), 0o600))
	t.Setenv("OPSAI_TEST_DOTENV_KEY", "")
	require.NoError(t, os.Unsetenv("OPSAI_TEST_DOTENV_KEY"))

	_, err := NewFileLoader(filepath.Join(dir, "config.yaml")).WithEnvFiles(envFile).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", os.Getenv("OPSAI_TEST_DOTENV_KEY"))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Defaults()
	require.NoError(t, err)
	require.NoError(t, cfg.SetPreferredProvider("groq"))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := NewFileLoader(path).WithEnvFiles().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "groq", loaded.AI.Provider)
	assert.Len(t, loaded.AI.Models, 4)
}
