package neodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStarIndexOfLayout(t *testing.T) {
	// nomod at 1.0x: combo row 0, bucket (1.0-0.7)/0.05 = 6
	assert.Equal(t, 6, starIndexOf(0, 1.0))
	// first and last bucket of the nomod row
	assert.Equal(t, 0, starIndexOf(0, 0.70))
	assert.Equal(t, NumStarSpeeds-1, starIndexOf(0, 2.00))
	// second combo row starts one full row later
	assert.Equal(t, NumStarSpeeds, starIndexOf(ModEasy, 0.70))
}

func TestStarIndexOfIgnoresUnratedFlags(t *testing.T) {
	// flags outside the rated subset don't change the slot
	assert.Equal(t, starIndexOf(0, 1.0), starIndexOf(ModHidden|ModNoFail, 1.0))
	assert.Equal(t, starIndexOf(ModHardRock, 1.0), starIndexOf(ModHardRock|ModFlashlight, 1.0))
}

func TestStarIndexOfInvalid(t *testing.T) {
	// unrated combo
	assert.Equal(t, invalidStarIndex, starIndexOf(ModEasy|ModHardRock, 1.0))
	// off-grid speeds
	assert.Equal(t, invalidStarIndex, starIndexOf(0, 0.60))
	assert.Equal(t, invalidStarIndex, starIndexOf(0, 2.10))
	assert.Equal(t, invalidStarIndex, starIndexOf(0, 1.03))
}

func TestStarRatingLookup(t *testing.T) {
	d := newTestDatabase(t, testConfig(t))
	defer d.Close()

	var hash MD5Hash
	hash[0] = 0x42

	grid := &StarGrid{}
	for i := range grid {
		grid[i] = float32(i)
	}
	d.starMtx.Lock()
	d.starRatings[hash] = grid
	d.starMtx.Unlock()

	rapid.Check(t, func(t *rapid.T) {
		comboIdx := rapid.IntRange(0, NumStarModCombos-1).Draw(t, "combo")
		bucket := rapid.IntRange(0, NumStarSpeeds-1).Draw(t, "bucket")
		speed := starSpeedMin + float32(bucket)*starSpeedStep

		flags := starModCombos[comboIdx]
		want := grid[comboIdx*NumStarSpeeds+bucket]
		assert.Equal(t, want, d.StarRating(hash, flags, speed))
	})

	// absent hash and invalid ruleset both yield 0
	var other MD5Hash
	other[0] = 0x43
	assert.Equal(t, float32(0), d.StarRating(other, 0, 1.0))
	assert.Equal(t, float32(0), d.StarRating(hash, 0, 0.12))
}

func TestStarGridDimensionsFitHeader(t *testing.T) {
	// both dimensions are persisted as single bytes
	require.Less(t, NumStarSpeeds, 256)
	require.Less(t, NumStarModCombos, 256)
	require.Equal(t, NumPrecalcRatings, NumStarSpeeds*NumStarModCombos)
}
