package neodb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "neodb.toml")
	contents := `
data_dir = "` + dir + `"
legacy_folder = "/opt/osu"
songs_folder = "Songs"
legacy_database_enabled = true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "/opt/osu", cfg.LegacyFolder)
	assert.True(t, cfg.LegacyDatabaseEnabled)
	assert.Equal(t, "/opt/osu/scores.db", cfg.PathFor(KindLegacyScores))
}

func TestLoadConfigRequiresDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neodb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`legacy_folder = "/opt/osu"`), 0o644))

	// the default data dir survives an absent key; an explicit empty value
	// is rejected
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.DataDir)

	require.NoError(t, os.WriteFile(path, []byte(`data_dir = ""`), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
