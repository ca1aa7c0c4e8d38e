package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultBindAddr(t *testing.T) {
	path := writeConfig(t, "hostname: node1.example.com\nprivate_key_path: /etc/osp/key.pem\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultBindAddr, cfg.BindAddr)
	assert.Equal(t, "node1.example.com", cfg.Hostname)
	assert.Equal(t, "/etc/osp/key.pem", cfg.PrivateKeyPath)
}

func TestLoadHonorsExplicitBindAddr(t *testing.T) {
	path := writeConfig(t, "bind_addr: 0.0.0.0:9000\nhostname: node1.example.com\nprivate_key_path: /etc/osp/key.pem\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.BindAddr)
}

func TestLoadRejectsMissingHostname(t *testing.T) {
	path := writeConfig(t, "private_key_path: /etc/osp/key.pem\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingHostname)
}

func TestLoadRejectsMissingPrivateKeyPath(t *testing.T) {
	path := writeConfig(t, "hostname: node1.example.com\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingPrivateKeyPath)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
