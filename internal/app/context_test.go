package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/config"
)

func TestOpenWithDefaultCatalog(t *testing.T) {
	a, err := Open(Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Registry.Get("elevate_to_lawyer")
	require.NoError(t, err)
	assert.Equal(t, len(config.Default().ActionTypes), len(a.Registry.List()))
}

func TestLoadCatalogPrefersExplicitPath(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.yml")
	data, err := config.Default().Export()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(custom, data, 0o644))

	cfg, err := LoadCatalog(dir, custom)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ActionTypes)

	_, err = LoadCatalog(dir, filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
}

func TestOpenRejectsCatalogWithoutPipelineActions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(`action_types:
  - {code: only_one, name: Only, required_role: agent}
`), 0o644))

	_, err := Open(Options{Workspace: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevate_to_lawyer")
}
