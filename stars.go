package neodb

import (
	"math"
)

// Precomputed star ratings are stored as one fixed grid per difficulty,
// covering the cartesian product of discrete speed multipliers and the mod
// combinations that change a map's geometry. The grid layout (speeds ×
// combos) is part of the on-disk format; stored star data whose dimensions
// differ from these constants is skipped wholesale and recomputed, never
// migrated.
const (
	starSpeedMin  float32 = 0.70
	starSpeedStep float32 = 0.05
	NumStarSpeeds         = 27 // 0.70 .. 2.00
)

// starModCombos enumerates the rated mod combinations. Order is part of the
// on-disk layout.
var starModCombos = [...]ModFlags{
	0,
	ModEasy,
	ModHardRock,
	ModTouchDevice,
	ModEasy | ModTouchDevice,
	ModHardRock | ModTouchDevice,
}

const NumStarModCombos = len(starModCombos)

// NumPrecalcRatings is the number of entries in one star grid.
const NumPrecalcRatings = NumStarSpeeds * NumStarModCombos

// StarGrid holds every precomputed rating for one difficulty, indexed by
// starIndexOf.
type StarGrid [NumPrecalcRatings]float32

const invalidStarIndex = -1

// starIndexOf maps a ruleset to its grid slot: the rating-relevant subset of
// the flags selects the combo row, the speed multiplier snaps to its bucket.
// Returns invalidStarIndex for unrated combinations or off-grid speeds.
func starIndexOf(flags ModFlags, speed float32) int {
	combo := flags & (ModEasy | ModHardRock | ModTouchDevice)
	comboIdx := invalidStarIndex
	for i, c := range starModCombos {
		if c == combo {
			comboIdx = i
			break
		}
	}
	if comboIdx == invalidStarIndex {
		return invalidStarIndex
	}

	bucket := math.Round(float64((speed - starSpeedMin) / starSpeedStep))
	if bucket < 0 || bucket >= NumStarSpeeds {
		return invalidStarIndex
	}
	// reject speeds that sit between buckets
	snapped := starSpeedMin + float32(bucket)*starSpeedStep
	if math.Abs(float64(speed-snapped)) > 0.001 {
		return invalidStarIndex
	}

	return comboIdx*NumStarSpeeds + int(bucket)
}

// StarRating returns the precomputed rating for (hash, flags, speed), or 0
// when the map has no stored grid or the ruleset has no slot.
func (d *Database) StarRating(hash MD5Hash, flags ModFlags, speed float32) float32 {
	idx := starIndexOf(flags, speed)
	if idx == invalidStarIndex {
		return 0
	}

	d.starMtx.RLock()
	defer d.starMtx.RUnlock()
	if grid, ok := d.starRatings[hash]; ok {
		return grid[idx]
	}
	return 0
}
