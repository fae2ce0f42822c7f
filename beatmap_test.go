package neodb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOsuFile = `osu file format v14

[General]
AudioFilename: song.mp3
PreviewTime: 32100
StackLeniency: 0.7

[Metadata]
Title:Test Song
TitleUnicode:テストソング
Artist:Test Artist
ArtistUnicode:テスト
Creator:mapper
Version:Insane
Source:somewhere
Tags:one two three
BeatmapID:123456
BeatmapSetID:654321

[Difficulty]
HPDrainRate:5.5
CircleSize:4
OverallDifficulty:8
ApproachRate:9.2
SliderMultiplier:1.7

[Events]
//Background and Video events
0,0,"background.jpg",0,0

[TimingPoints]
200,300,4,2,0,60,1,0

[HitObjects]
256,192,1000,1,0
`

func writeOsuFile(t *testing.T, folder, name, contents string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(folder, 0o755))
	path := filepath.Join(folder, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDifficultyMetadata(t *testing.T) {
	folder := t.TempDir()
	path := writeOsuFile(t, folder, "chart.osu", testOsuFile)

	diff, err := loadDifficultyMetadata(path, folder, OriginLegacy)
	require.NoError(t, err)

	assert.Equal(t, "Test Song", diff.Title)
	assert.Equal(t, "テストソング", diff.TitleUnicode)
	assert.Equal(t, "Test Artist", diff.Artist)
	assert.Equal(t, "mapper", diff.Creator)
	assert.Equal(t, "Insane", diff.DifficultyName)
	assert.Equal(t, "somewhere", diff.Source)
	assert.Equal(t, "one two three", diff.Tags)
	assert.Equal(t, "song.mp3", diff.AudioFileName)
	assert.Equal(t, "background.jpg", diff.BackgroundImageFileName)
	assert.Equal(t, int32(123456), diff.ID)
	assert.Equal(t, int32(654321), diff.SetID)
	assert.Equal(t, uint32(32100), diff.PreviewTime)
	assert.Equal(t, float32(0.7), diff.StackLeniency)
	assert.Equal(t, float32(9.2), diff.AR)
	assert.Equal(t, float32(4), diff.CS)
	assert.Equal(t, float32(5.5), diff.HP)
	assert.Equal(t, float32(8), diff.OD)
	assert.Equal(t, 1.7, diff.SliderMultiplier)

	wantHash, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, wantHash, diff.MD5)

	// BPM is not part of the metadata-only parse
	assert.Equal(t, int32(-1), diff.MinBPM)
}

func TestLoadDifficultyMetadataRejectsEmpty(t *testing.T) {
	folder := t.TempDir()
	path := writeOsuFile(t, folder, "empty.osu", "osu file format v14\n\n[HitObjects]\n")

	_, err := loadDifficultyMetadata(path, folder, OriginLegacy)
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestLoadRawBeatmapSet(t *testing.T) {
	folder := t.TempDir()
	writeOsuFile(t, folder, "a.osu", testOsuFile)
	writeOsuFile(t, folder, "b.osu", testOsuFile+"\n")
	writeOsuFile(t, folder, "readme.txt", "not a chart")

	set, err := loadRawBeatmapSet(folder, OriginLegacy, nil)
	require.NoError(t, err)
	assert.Len(t, set.Difficulties, 2)
	assert.Equal(t, int32(654321), set.SetID)
	for _, diff := range set.Difficulties {
		assert.Equal(t, int32(654321), diff.SetID)
	}
}

func TestLoadRawBeatmapSetEmptyFolder(t *testing.T) {
	_, err := loadRawBeatmapSet(t.TempDir(), OriginLegacy, nil)
	assert.ErrorIs(t, err, ErrEmptyFolder)
}

func TestCalculateBPM(t *testing.T) {
	points := []timingPoint{
		{msPerBeat: 500, offset: 0, uninherited: true},     // 120 bpm for 10s
		{msPerBeat: -100, offset: 4000, uninherited: false}, // inherited, ignored
		{msPerBeat: 333.333, offset: 10000, uninherited: true}, // 180 bpm for 2s
		{msPerBeat: 0, offset: 12000, uninherited: true},    // degenerate, ignored
	}
	info := calculateBPM(points)
	assert.Equal(t, int32(120), info.min)
	assert.Equal(t, int32(180), info.max)
	assert.Equal(t, int32(120), info.mostCommon)

	empty := calculateBPM(nil)
	assert.Equal(t, unknownBPM(), empty)
}

// songsConfig builds a config whose songs folder is an absolute directory
// with the legacy database path disabled, forcing the raw scanner.
func songsConfig(t *testing.T) (*Config, string) {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	songs := t.TempDir()
	cfg.SongsFolder = songs
	cfg.LegacyDatabaseEnabled = false
	return cfg, songs
}

func makeSongFolder(t *testing.T, songs, name string, setID string) {
	t.Helper()
	contents := testOsuFile
	if setID != "" {
		contents = ""
		for _, line := range []string{
			"osu file format v14", "",
			"[Metadata]",
			"Title:" + name,
			"Artist:Someone",
			"Creator:someone else",
			"Version:Normal",
			"BeatmapSetID:" + setID, "",
			"[HitObjects]",
		} {
			contents += line + "\n"
		}
	}
	writeOsuFile(t, filepath.Join(songs, name), "chart.osu", contents)
}

func TestRawScannerFullLoad(t *testing.T) {
	cfg, songs := songsConfig(t)
	makeSongFolder(t, songs, "111 first", "111")
	makeSongFolder(t, songs, "222 second", "222")

	d := newLoadedDatabase(t, cfg)
	defer d.Close()

	assert.Len(t, d.BeatmapSets(), 2)
	checkCatalogConsistency(t, d)
}

func TestRawScannerIncrementalRescan(t *testing.T) {
	cfg, songs := songsConfig(t)
	makeSongFolder(t, songs, "111 first", "111")

	rec := &recordingNotifier{}
	d, err := New(&Options{Config: cfg, Logger: zap.NewNop().Sugar(), Notifier: rec})
	require.NoError(t, err)
	defer d.Close()

	loadAndWait(t, d)
	require.Len(t, d.BeatmapSets(), 1)

	// a new folder appears; the rescan only processes the difference
	makeSongFolder(t, songs, "333 third", "333")
	loadAndWait(t, d)

	assert.Len(t, d.BeatmapSets(), 2)
	assert.True(t, d.FoundChanges())
	assert.Contains(t, rec.Notes(), "Adding 1 new beatmap.")
	checkCatalogConsistency(t, d)

	// nothing new: catalog untouched, changes flag cleared
	loadAndWait(t, d)
	assert.Len(t, d.BeatmapSets(), 2)
	assert.False(t, d.FoundChanges())
	assert.Contains(t, rec.Notes(), "No new beatmaps detected.")
}

func TestAddBeatmapSetDeduplicates(t *testing.T) {
	cfg, songs := songsConfig(t)
	makeSongFolder(t, songs, "111 first", "111")

	d := newLoadedDatabase(t, cfg)
	defer d.Close()
	require.Len(t, d.BeatmapSets(), 1)

	// the same folder again: every difficulty is a duplicate
	again := d.AddBeatmapSet(filepath.Join(songs, "111 first")+"/", -1, OriginLegacy)
	assert.Nil(t, again)
	assert.Len(t, d.BeatmapSets(), 1)
	checkCatalogConsistency(t, d)
}

func TestAddBeatmapSetKeepsExistingSetID(t *testing.T) {
	cfg, songs := songsConfig(t)
	makeSongFolder(t, songs, "no-id folder", "") // testOsuFile carries set id 654321

	d := newLoadedDatabase(t, cfg)
	defer d.Close()
	require.Len(t, d.BeatmapSets(), 1)
	require.Equal(t, int32(654321), d.BeatmapSets()[0].SetID)

	// re-adding the same difficulties with an override id while the set
	// already has a valid id keeps the catalog unchanged
	again := d.AddBeatmapSet(filepath.Join(songs, "no-id folder")+"/", 654321, OriginLegacy)
	assert.Nil(t, again)
	checkCatalogConsistency(t, d)
}
