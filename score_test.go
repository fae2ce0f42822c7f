package neodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCalculateAccuracy(t *testing.T) {
	assert.Equal(t, 1.0, CalculateAccuracy(100, 0, 0, 0))
	assert.Equal(t, 0.0, CalculateAccuracy(0, 0, 0, 0))
	assert.Equal(t, 0.0, CalculateAccuracy(0, 0, 0, 10))
	// 300*1 + 100*1 over 300*2
	assert.InDelta(t, 400.0/600.0, CalculateAccuracy(1, 1, 0, 0), 1e-12)
}

func TestCalculateGrade(t *testing.T) {
	perfect := Score{Num300s: 100}
	assert.Equal(t, GradeX, perfect.CalculateGrade())

	perfectHidden := Score{Num300s: 100, Mods: Mods{Flags: ModHidden}}
	assert.Equal(t, GradeXH, perfectHidden.CalculateGrade())

	s := Score{Num300s: 95, Num100s: 5}
	assert.Equal(t, GradeS, s.CalculateGrade())

	sFlash := Score{Num300s: 95, Num100s: 5, Mods: Mods{Flags: ModFlashlight}}
	assert.Equal(t, GradeSH, sFlash.CalculateGrade())

	a := Score{Num300s: 85, Num100s: 15}
	assert.Equal(t, GradeA, a.CalculateGrade())

	d := Score{Num300s: 30, Num100s: 20, Num50s: 20, NumMisses: 30}
	assert.Equal(t, GradeD, d.CalculateGrade())

	empty := Score{}
	assert.Equal(t, GradeNone, empty.CalculateGrade())
}

func TestSortOrdersPrimaryKeys(t *testing.T) {
	a := Score{Score: 100, ComboMax: 50, UnixTimestamp: 10, NumMisses: 3, PPv2Score: 5, Num300s: 10}
	b := Score{Score: 200, ComboMax: 40, UnixTimestamp: 20, NumMisses: 1, PPv2Score: 3, Num300s: 9, Num100s: 1}

	assert.True(t, SortScoreByScore(&b, &a))
	assert.False(t, SortScoreByScore(&a, &b))

	assert.True(t, SortScoreByCombo(&a, &b))
	assert.True(t, SortScoreByDate(&b, &a))
	assert.True(t, SortScoreByMisses(&b, &a))
	assert.True(t, SortScoreByPP(&a, &b))
	assert.True(t, SortScoreByAccuracy(&b, &a))
}

func TestSortTieBreakChain(t *testing.T) {
	// same primary key (score), ties broken by timestamp then player id
	a := Score{Score: 100, UnixTimestamp: 10, PlayerID: 7}
	b := Score{Score: 100, UnixTimestamp: 10, PlayerID: 9}
	assert.True(t, SortScoreByScore(&b, &a))
	assert.False(t, SortScoreByScore(&a, &b))

	// fully equal scores compare false both ways (strict weak order)
	assert.False(t, SortScoreByScore(&a, &a))
	assert.False(t, SortScoreByCombo(&a, &a))
	assert.False(t, SortScoreByDate(&a, &a))
	assert.False(t, SortScoreByMisses(&a, &a))
	assert.False(t, SortScoreByAccuracy(&a, &a))
	assert.False(t, SortScoreByPP(&a, &a))
}

func TestSortScoresInPlaceDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		scores := make([]Score, n)
		for i := range scores {
			scores[i] = Score{
				Score:         rapid.Uint64Range(0, 1000).Draw(t, "score"),
				UnixTimestamp: rapid.Uint64Range(0, 1000).Draw(t, "ts"),
				PlayerID:      int32(rapid.IntRange(0, 50).Draw(t, "pid")),
				ComboMax:      rapid.IntRange(0, 500).Draw(t, "combo"),
			}
		}

		first := append([]Score(nil), scores...)
		second := append([]Score(nil), scores...)
		SortScoresInPlace(first, "By combo")
		SortScoresInPlace(second, "By combo")
		assert.Equal(t, first, second)

		for i := 1; i < len(first); i++ {
			assert.False(t, SortScoreByCombo(&first[i], &first[i-1]),
				"result not sorted at %d", i)
		}
	})
}

func TestSortScoresInPlaceUnknownNameFallsBack(t *testing.T) {
	scores := []Score{{PPv2Score: 1}, {PPv2Score: 9}, {PPv2Score: 4}}
	SortScoresInPlace(scores, "By vibes")
	assert.Equal(t, float32(9), scores[0].PPv2Score)
	assert.Equal(t, float32(4), scores[1].PPv2Score)
	assert.Equal(t, float32(1), scores[2].PPv2Score)
}

func TestHasPossibleReplay(t *testing.T) {
	native := Score{Client: "neodb-win64"}
	imported := Score{Client: "mcosu-20190226"}
	assert.True(t, native.HasPossibleReplay())
	assert.False(t, imported.HasPossibleReplay())
}

func TestScoreEqualIgnoresReplay(t *testing.T) {
	a := Score{UnixTimestamp: 5, PlayerName: "x", Score: 100}
	b := a
	b.Replay = []byte{1, 2, 3}
	assert.True(t, a.Equal(&b))

	b.Score = 101
	assert.False(t, a.Equal(&b))
}
