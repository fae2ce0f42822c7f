package neodb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// PackageName brands the native database filenames.
const PackageName = "neodb"

// Current on-disk versions. Bump MapsDBVersion when the native map layout
// changes, ScoresDBVersion for the score layout. Readers refuse anything
// newer and back up anything older.
const (
	MapsDBVersion   uint32 = 20260202
	ScoresDBVersion uint32 = 20240725
)

// Config carries the values that affect the engine's behavior: where its own
// data lives, where the legacy client lives, where songs are, and whether the
// legacy database read path is enabled at all.
type Config struct {
	DataDir string `toml:"data_dir"`

	// LegacyFolder is the external third-party client directory the legacy
	// databases are read from.
	LegacyFolder string `toml:"legacy_folder"`

	// SongsFolder is the songs directory, either absolute or relative to
	// LegacyFolder. Defaults to "Songs".
	SongsFolder string `toml:"songs_folder"`

	// LegacyDatabaseEnabled gates the whole legacy-database read path. When
	// false the raw folder scanner is used instead.
	LegacyDatabaseEnabled bool `toml:"legacy_database_enabled"`
}

// DefaultConfig returns a config rooted at dataDir with the legacy read path
// enabled.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:               dataDir,
		SongsFolder:           "Songs",
		LegacyDatabaseEnabled: true,
	}
}

// LoadConfig decodes a TOML config file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig(".")
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: data_dir must be set", ErrBadConfig)
	}
	return cfg, nil
}

// normalizedLegacyFolder returns the legacy client directory with a trailing
// separator, or "" when unconfigured.
func (c *Config) normalizedLegacyFolder() string {
	dir := c.LegacyFolder
	if dir == "" {
		return ""
	}
	if !strings.HasSuffix(dir, "/") && !strings.HasSuffix(dir, string(os.PathSeparator)) {
		dir += string(os.PathSeparator)
	}
	return dir
}

// ResolvedSongsFolder returns the songs directory with a trailing separator.
// A relative songs folder is a subfolder of the legacy client directory.
func (c *Config) ResolvedSongsFolder() string {
	songs := c.SongsFolder
	if songs == "" {
		songs = "Songs"
	}
	if !filepath.IsAbs(songs) {
		songs = c.normalizedLegacyFolder() + songs
	}
	if !strings.HasSuffix(songs, "/") && !strings.HasSuffix(songs, string(os.PathSeparator)) {
		songs += string(os.PathSeparator)
	}
	return songs
}

// ReplaysDir is where compressed replay blobs are written.
func (c *Config) ReplaysDir() string {
	return filepath.Join(c.DataDir, "replays")
}

// MapsDir is where natively mastered beatmap sets live, one folder per set id.
func (c *Config) MapsDir() string {
	return filepath.Join(c.DataDir, "maps")
}
