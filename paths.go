package neodb

import (
	"path/filepath"

	"github.com/neomodnet/neodb/bytebuf"
)

// DatabaseKind enumerates every database file the engine knows how to read.
type DatabaseKind uint8

const (
	KindInvalid DatabaseKind = iota

	// native formats, under the data directory
	KindNativeScores
	KindNativeMaps
	KindCollections

	// imported third-party scores dropped into the data directory; covers
	// both auto-detected legacy score variants
	KindImportedScores

	// legacy client formats, under the configured external directory
	KindLegacyScores
	KindLegacyCollections
	KindLegacyMaps
)

// versions that pin a scores.db header to the older imported variant
var importedScoreVersions = []uint32{20210106, 20210108, 20210110}

// PathFor returns the canonical path of a database kind. Legacy kinds resolve
// under the external client directory; an unconfigured legacy folder yields
// paths that simply fail to open later.
func (c *Config) PathFor(kind DatabaseKind) string {
	switch kind {
	case KindNativeScores:
		return filepath.Join(c.DataDir, PackageName+"_scores.db")
	case KindNativeMaps:
		return filepath.Join(c.DataDir, PackageName+"_maps.db")
	case KindCollections:
		return filepath.Join(c.DataDir, "collections.db")
	case KindImportedScores:
		return filepath.Join(c.DataDir, "scores.db")
	case KindLegacyScores:
		return c.normalizedLegacyFolder() + "scores.db"
	case KindLegacyCollections:
		// note the missing plural
		return c.normalizedLegacyFolder() + "collection.db"
	case KindLegacyMaps:
		return c.normalizedLegacyFolder() + "osu!.db"
	default:
		return ""
	}
}

// KindOf classifies an arbitrary file for import. Filename matches settle
// the collection formats and the native scores file; a file named scores.db
// needs header heuristics because three distinct formats share that name.
// Classification either fully succeeds or returns KindInvalid; the file is
// never left half-read for the caller.
func (c *Config) KindOf(path string) DatabaseKind {
	switch filepath.Base(path) {
	case "collection.db":
		return KindLegacyCollections
	case "collections.db":
		return KindCollections
	case PackageName + "_scores.db", "neosu_scores.db":
		return KindNativeScores
	case "scores.db":
		return sniffScoresDB(path)
	}
	return KindInvalid
}

// sniffScoresDB distinguishes the two scores.db families. The old imported
// variant is identified by its exact version numbers. Otherwise the first
// inspectable score decides: the newer imported variant stores a 64-bit unix
// timestamp whose high 32 bits are zero until 2106, while the legacy client
// stores a hash string there, whose characters at that offset are never zero.
// Files with no beatmaps or no scores are unclassifiable.
func sniffScoresDB(path string) DatabaseKind {
	r := bytebuf.NewReader(path)
	version := r.ReadU32()
	if !r.Good() || version == 0 {
		return KindInvalid
	}

	for _, v := range importedScoreVersions {
		if version == v {
			return KindImportedScores
		}
	}

	numBeatmaps := r.ReadU32()
	for i := uint32(0); i < numBeatmaps; i++ {
		_ = r.ReadHashChars()
		numScores := r.ReadU32()
		if !r.Good() {
			return KindInvalid
		}
		if numScores == 0 {
			continue
		}

		r.Skip(1) // gamemode
		r.Skip(4) // score version
		r.Skip(4) // low half of the timestamp
		timestampCheck := r.ReadU32()
		if !r.Good() {
			return KindInvalid
		}
		if timestampCheck == 0 {
			return KindImportedScores
		}
		return KindLegacyScores
	}

	return KindInvalid
}
