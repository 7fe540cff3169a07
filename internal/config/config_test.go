package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.LeaseTTL)
	require.False(t, cfg.NoColor)
}

func TestLoadParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("lease_ttl: 5m\nno_color: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.LeaseTTL)
	require.True(t, cfg.NoColor)
}

func TestLoadEnvOverridesLeaseTTL(t *testing.T) {
	t.Setenv("LODESTAR_LEASE_TTL", "90s")
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.LeaseTTL)
}
