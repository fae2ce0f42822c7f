package neodb

import (
	"math"
	"sort"
)

// PlayerStats is the aggregated profile derived from a player's stored
// best-pp scores.
type PlayerStats struct {
	Name               string
	PP                 float64
	Accuracy           float64
	Level              int
	PercentToNextLevel float64
	TotalScore         uint64
}

// PlayerPPScores is the per-map best-pp selection for one player, sorted by
// pp ascending so index weighting can run back to front.
type PlayerPPScores struct {
	Scores     []Score
	TotalScore uint64
}

// maxStatsLevel caps the level search during stats aggregation.
const maxStatsLevel = 120

// GetPlayerPPScores picks, for every map, the single highest-pp score set by
// the player. Scores set with relax or autopilot are excluded unless
// includeRelaxAutopilot is set. Empty until loading has finished.
func (d *Database) GetPlayerPPScores(playerName string, includeRelaxAutopilot bool) PlayerPPScores {
	var ps PlayerPPScores
	if !d.IsFinished() {
		return ps
	}

	d.scoresMtx.RLock()
	for _, list := range d.scores {
		if len(list) == 0 {
			continue
		}

		best := -1
		bestPP := -1.0
		for i := range list {
			sc := &list[i]
			if sc.PlayerName != playerName {
				continue
			}
			if !includeRelaxAutopilot && sc.Mods.Flags&(ModRelax|ModAutopilot) != 0 {
				continue
			}

			ps.TotalScore += sc.Score
			if pp := sc.PP(); pp > bestPP || bestPP < 0 {
				bestPP = pp
				best = i
			}
		}
		if best >= 0 {
			ps.Scores = append(ps.Scores, list[best])
		}
	}
	d.scoresMtx.RUnlock()

	sort.Slice(ps.Scores, func(i, j int) bool {
		return SortScoreByPP(&ps.Scores[j], &ps.Scores[i])
	})

	return ps
}

// CalculatePlayerStats aggregates total pp, weighted accuracy, level and
// total score for a player. Results are cached; the cache is refreshed when
// the score set changed or a background recomputation finished.
func (d *Database) CalculatePlayerStats(playerName string) PlayerStats {
	d.statsMtx.Lock()
	defer d.statsMtx.Unlock()

	if playerName == d.prevPlayerStats.Name && !d.scoresChanged.Load() {
		return d.prevPlayerStats
	}

	ps := d.GetPlayerPPScores(playerName, false)

	// delay caching until scores are actually loaded
	if len(ps.Scores) > 0 || d.IsFinished() {
		d.scoresChanged.Store(false)
	}

	// a score outweighed by n better scores carries weight 0.95^n; total
	// accuracy is weighted the same way
	pp := 0.0
	acc := 0.0
	for i := range ps.Scores {
		weight := WeightForIndex(len(ps.Scores) - 1 - i)
		pp += ps.Scores[i].PP() * weight
		acc += ps.Scores[i].Accuracy() * weight
	}

	pp += BonusPPForNumScores(len(ps.Scores))

	if len(ps.Scores) > 0 {
		acc /= 20.0 * (1.0 - WeightForIndex(len(ps.Scores)))
	}

	d.prevPlayerStats.Name = playerName
	d.prevPlayerStats.PP = pp
	d.prevPlayerStats.Accuracy = acc

	if ps.TotalScore != d.prevPlayerStats.TotalScore {
		level := LevelForScore(ps.TotalScore, maxStatsLevel)
		d.prevPlayerStats.Level = level

		requiredCurrent := RequiredScoreForLevel(level)
		requiredNext := RequiredScoreForLevel(level + 1)
		if requiredNext > requiredCurrent {
			d.prevPlayerStats.PercentToNextLevel =
				float64(ps.TotalScore-requiredCurrent) / float64(requiredNext-requiredCurrent)
		}
	}
	d.prevPlayerStats.TotalScore = ps.TotalScore

	return d.prevPlayerStats
}

// InvalidateStatsCache forces the next stats call to recompute. Called by
// the recomputation collaborator when a batch finishes.
func (d *Database) InvalidateStatsCache() { d.scoresChanged.Store(true) }

// WeightForIndex is the 0.95^i score weighting.
func WeightForIndex(i int) float64 { return math.Pow(0.95, float64(i)) }

// BonusPPForNumScores is the profile bonus for the number of ranked scores,
// saturating at 1000.
func BonusPPForNumScores(numScores int) float64 {
	return (417.0 - 1.0/3.0) * (1.0 - math.Pow(0.995, math.Min(1000, float64(numScores))))
}

// RequiredScoreForLevel returns the total score needed to reach a level.
// Below level 100 the curve is cubic with an exponential correction term;
// above it is linear.
func RequiredScoreForLevel(level int) uint64 {
	if level <= 100 {
		if level > 1 {
			l := float64(level)
			return uint64(math.Floor(
				5000.0/3.0*(4*math.Pow(l, 3)-3*math.Pow(l, 2)-l) +
					math.Floor(1.25*math.Pow(1.8, float64(level-60)))))
		}
		return 1
	}
	return 26_931_190_829 + 100_000_000_000*uint64(level-100)
}

// LevelForScore returns the level a total score sits at. maxLevel <= 0 means
// unbounded.
func LevelForScore(score uint64, maxLevel int) int {
	for i := 0; ; i++ {
		if maxLevel > 0 && i >= maxLevel {
			return i
		}
		if score < RequiredScoreForLevel(i) {
			return i - 1
		}
	}
}
