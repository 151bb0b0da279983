package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabaseConfig(), cfg.Database)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "Bot.toml"))
	require.NoError(t, err)
	assert.Equal(t, "data/", cfg.Database.Directory)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Bot.toml")
	content := `
[database]
type = "vault"
directory = "/srv/principality"
remote_timeout = "5s"
vault_token = "hvs.test"
vault_mount = "kv"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "vault", cfg.Database.Type)
	assert.Equal(t, "/srv/principality", cfg.Database.Directory)
	assert.Equal(t, 5*time.Second, cfg.Database.RemoteTimeout)
	assert.Equal(t, "hvs.test", cfg.Database.Token("vault"))
	assert.Equal(t, "kv", cfg.Database.VaultMount)
	// Untouched keys keep their defaults.
	assert.Equal(t, "us-east-1", cfg.Database.S3Region)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Bot.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\ndirectory = \"from-file\"\n"), 0644))

	t.Setenv("PRINCIPALITY_DATABASE_DIRECTORY", "from-env")
	t.Setenv("PRINCIPALITY_DATABASE_S3_TOKEN", "AKID:SECRET")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Database.Directory)
	assert.Equal(t, "AKID:SECRET", cfg.Database.Token("S3"))
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Bot.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database\ndirectory = "), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestDatabaseConfig_TokenUnknownService(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	cfg.VaultToken = "x"
	assert.Empty(t, cfg.Token("deta"))
}
