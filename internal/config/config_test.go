package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "funcmatch.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.NeighBSim.Depth)
	assert.Contains(t, cfg.Extractor.SkipSections, ".plt")
}

func TestLoadConfig_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: eval.db
log:
  level: debug
  format: json
firmup:
  max_steps: 0
neighbsim:
  depth: 2
`), 0o644))

	t.Setenv("FUNCMATCH_WORKERS", "8")
	t.Setenv("FUNCMATCH_DB", "override.db")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "override.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 0, cfg.FirmUP.MaxSteps)
	assert.Equal(t, 2, cfg.NeighBSim.Depth)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("neighbsim:\n  depth: 0\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)

	t.Setenv("FUNCMATCH_WORKERS", "many")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
