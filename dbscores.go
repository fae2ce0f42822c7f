package neodb

import (
	"fmt"

	"github.com/neomodnet/neodb/bytebuf"
)

// scoreDBMagic prefixes the native score database, not length-prefixed.
var scoreDBMagic = []byte("NEOSC")

// The legacy formats store timestamps in a tick epoch: ticks since year 1 at
// ten million ticks per second.
const (
	ticksPerSecond   = 10_000_000
	unixEpochTicks   = 621_355_968_000_000_000
	replayEpochTicks = 504_911_232_000_000_000
)

// ticksToUnix converts a tick-epoch timestamp to unix seconds. Values small
// enough to be implausible as ticks are treated as already-unix.
func ticksToUnix(ticks int64) int64 {
	if ticks > 1_000_000_000_000_000 {
		return (ticks - unixEpochTicks) / ticksPerSecond
	}
	return ticks
}

// loadScores reads a native score database.
func (d *Database) loadScores(path string) {
	r := bytebuf.NewReader(path)
	defer func() { d.bytesProcessed += uint64(r.TotalSize()) }()
	if r.TotalSize() == 0 {
		return
	}

	magic := r.ReadBytes(len(scoreDBMagic))
	if !r.Good() || string(magic) != string(scoreDBMagic) {
		d.notifier.AddToast("Failed to load " + PackageName + "_scores.db!")
		return
	}

	version := r.ReadU32()
	if version > ScoresDBVersion {
		d.log.Warnw("score database is newer than this client, not loading",
			"path", path, "version", version, "max", ScoresDBVersion)
		return
	}
	if version < ScoresDBVersion {
		// reading from an older version: back up just in case
		backup := backupPath(path, version)
		if err := copyFile(path, backup); err == nil {
			d.log.Infow("older score database backed up", "version", version, "backup", backup)
		}
	}

	numBeatmaps := r.ReadU32()
	numScores := r.ReadU32()

	loaded := uint32(0)
	for b := uint32(0); b < numBeatmaps && r.Good(); b++ {
		beatmapHash := r.ReadHashChars()
		perMap := r.ReadU32()

		for s := uint32(0); s < perMap && r.Good(); s++ {
			var sc Score
			sc.Mods = unpackMods(r)
			sc.Score = r.ReadU64()
			sc.SpinnerBonus = r.ReadU64()
			sc.UnixTimestamp = r.ReadU64()
			sc.PlayerID = r.ReadI32()
			sc.PlayerName = r.ReadString()
			sc.Grade = ScoreGrade(r.ReadU8())

			sc.Client = r.ReadString()
			sc.Server = r.ReadString()
			sc.ForeignScoreID = r.ReadI64()
			sc.ForeignReplayTS = r.ReadU64()

			sc.Num300s = int(r.ReadU16())
			sc.Num100s = int(r.ReadU16())
			sc.Num50s = int(r.ReadU16())
			sc.NumGekis = int(r.ReadU16())
			sc.NumKatus = int(r.ReadU16())
			sc.NumMisses = int(r.ReadU16())
			sc.ComboMax = int(r.ReadU16())

			sc.PPv2Version = r.ReadU32()
			sc.PPv2Score = r.ReadF32()
			sc.PPv2TotalStars = r.ReadF32()
			sc.PPv2AimStars = r.ReadF32()
			sc.PPv2SpeedStars = r.ReadF32()

			sc.NumSliderBreaks = int(r.ReadU16())
			sc.UnstableRate = r.ReadF32()
			sc.HitErrorAvgMin = r.ReadF32()
			sc.HitErrorAvgMax = r.ReadF32()
			sc.MaxPossibleCombo = int(r.ReadU32())
			sc.NumHitObjects = int(r.ReadU32())
			sc.NumCircles = int(r.ReadU32())

			if !r.Good() {
				break
			}

			sc.BeatmapHash = beatmapHash
			d.addScoreRaw(sc)
			loaded++
		}

		d.updateProgress(r.Pos())
	}

	if loaded != numScores {
		d.log.Warnw("score database count mismatch", "expected", numScores, "found", loaded)
	}
	d.log.Infow("loaded native scores", "count", loaded)
}

// loadImportedScores reads the scores.db dropped into the data directory.
// Two formats share the filename: the older variant-A client and the newer
// variant-B client; both carry continuous overrides and experimental mods.
// The version number tells them apart.
func (d *Database) loadImportedScores(path string) {
	r := bytebuf.NewReader(path)
	defer func() { d.bytesProcessed += uint64(r.TotalSize()) }()

	version := r.ReadU32()
	if r.TotalSize() == 0 || version == 0 {
		return
	}

	isVariantA := false
	for _, v := range importedScoreVersions {
		if version == v {
			isVariantA = true
			break
		}
	}

	switch {
	case isVariantA:
		d.loadVariantAScores(r, version)
	case version > importedScoreVersions[len(importedScoreVersions)-1]:
		d.loadVariantBScores(r)
	default:
		// older than any known variant
		d.log.Warnw("unrecognized imported score database version", "version", version)
	}
}

// loadVariantBScores reads the newer imported format: per-map score lists
// with a packed legacy flag word, continuous speed/AR/CS/OD/HP overrides and
// the semicolon-separated experimental mods string.
func (d *Database) loadVariantBScores(r *bytebuf.Reader) {
	imported := 0
	numBeatmaps := r.ReadU32()
	for b := uint32(0); b < numBeatmaps && r.Good(); b++ {
		d.updateProgress(r.Pos())

		hash := r.ReadHashChars()
		numScores := r.ReadU32()

		for s := uint32(0); s < numScores && r.Good(); s++ {
			r.Skip(1) // gamemode, always 0
			r.Skip(4) // score version

			var sc Score
			sc.UnixTimestamp = r.ReadU64()
			sc.PlayerName = r.ReadString()
			sc.Num300s = int(r.ReadU16())
			sc.Num100s = int(r.ReadU16())
			sc.Num50s = int(r.ReadU16())
			sc.NumGekis = int(r.ReadU16())
			sc.NumKatus = int(r.ReadU16())
			sc.NumMisses = int(r.ReadU16())
			sc.Score = r.ReadU64()
			sc.ComboMax = int(r.ReadU16())
			sc.Mods = ModsFromLegacy(LegacyFlags(r.ReadU32()))
			sc.NumSliderBreaks = int(r.ReadU16())
			sc.PPv2Version = 20220902
			sc.PPv2Score = r.ReadF32()
			sc.UnstableRate = r.ReadF32()
			sc.HitErrorAvgMin = r.ReadF32()
			sc.HitErrorAvgMax = r.ReadF32()
			sc.PPv2TotalStars = r.ReadF32()
			sc.PPv2AimStars = r.ReadF32()
			sc.PPv2SpeedStars = r.ReadF32()
			sc.Mods.Speed = r.ReadF32()
			sc.Mods.CSOverride = r.ReadF32()
			sc.Mods.AROverride = r.ReadF32()
			sc.Mods.ODOverride = r.ReadF32()
			sc.Mods.HPOverride = r.ReadF32()
			sc.MaxPossibleCombo = int(r.ReadU32())
			sc.NumHitObjects = int(r.ReadU32())
			sc.NumCircles = int(r.ReadU32())
			sc.ForeignScoreID = int64(r.ReadU32())
			sc.Client = PackageName + "-win64-release-35.10" // actual build unknown
			sc.Server = r.ReadString()

			applyExperimentalMods(&sc.Mods, r.ReadString())

			if !r.Good() {
				break
			}
			if !(sc.Mods.Speed > 0) {
				sc.Mods.Speed = 1
			}

			sc.BeatmapHash = hash
			sc.Perfect = sc.ComboMax >= sc.MaxPossibleCombo
			sc.Grade = sc.CalculateGrade()

			if d.addScoreRaw(sc) {
				imported++
			}
		}
	}
	d.log.Infow("loaded variant-B imported scores", "count", imported)
}

// loadVariantAScores reads the original variant-A format.
func (d *Database) loadVariantAScores(r *bytebuf.Reader, version uint32) {
	imported := 0
	numBeatmaps := r.ReadI32()
	d.log.Infow("variant-A scores", "version", version, "beatmaps", numBeatmaps)

	for b := int32(0); b < numBeatmaps && r.Good(); b++ {
		d.updateProgress(r.Pos())

		hashStr := r.ReadString()
		if len(hashStr) < 32 {
			d.log.Warnw("invalid score entry hash, skipping beatmap", "beatmap", b, "len", len(hashStr))
			continue
		} else if len(hashStr) > 32 {
			d.log.Warnw("corrupt score database entry, stopping", "beatmap", b)
			break
		}
		hash := HashFromString(hashStr)

		numScores := r.ReadI32()
		for s := int32(0); s < numScores && r.Good(); s++ {
			gamemode := r.ReadU8()
			scoreVersion := r.ReadI32()
			unixTimestamp := r.ReadU64()
			playerName := r.ReadString()

			if d.isScoreAlreadyInDB(hash, unixTimestamp, playerName) >= 0 {
				// fixed-width tail: eight u16, one i64, one u32 flag word,
				// twelve f32
				skip := 2*8 + 8 + 4 + 4*12
				if scoreVersion > 20180722 {
					skip += 4 * 3
				}
				r.Skip(skip)
				r.SkipString() // experimental mods
				d.log.Debugw("skipped already-loaded score", "hash", hash)
				continue
			}

			num300s := int(r.ReadU16())
			num100s := int(r.ReadU16())
			num50s := int(r.ReadU16())
			numGekis := int(r.ReadU16())
			numKatus := int(r.ReadU16())
			numMisses := int(r.ReadU16())

			score := r.ReadI64()
			maxCombo := int(r.ReadU16())
			mods := ModsFromLegacy(LegacyFlags(r.ReadU32()))

			numSliderBreaks := int(r.ReadU16())
			pp := r.ReadF32()
			unstableRate := r.ReadF32()
			hitErrorAvgMin := r.ReadF32()
			hitErrorAvgMax := r.ReadF32()
			starsTotal := r.ReadF32()
			starsAim := r.ReadF32()
			starsSpeed := r.ReadF32()
			speedMultiplier := r.ReadF32()
			cs := r.ReadF32()
			ar := r.ReadF32()
			od := r.ReadF32()
			hp := r.ReadF32()

			maxPossibleCombo := -1
			numHitObjects := -1
			numCircles := -1
			if scoreVersion > 20180722 {
				maxPossibleCombo = int(r.ReadI32())
				numHitObjects = int(r.ReadI32())
				numCircles = int(r.ReadI32())
			}

			experimental := r.ReadString()

			if !r.Good() {
				break
			}
			// gamemode filter (standard only); newer score versions reused
			// the gamemode byte as an import flag
			if gamemode != 0 && !(version > 20210103 && scoreVersion > 20190103) {
				continue
			}

			var sc Score
			sc.UnixTimestamp = unixTimestamp
			sc.PlayerName = playerName
			sc.Num300s = num300s
			sc.Num100s = num100s
			sc.Num50s = num50s
			sc.NumGekis = numGekis
			sc.NumKatus = numKatus
			sc.NumMisses = numMisses
			if score > 0 {
				sc.Score = uint64(score)
			}
			sc.ComboMax = maxCombo
			sc.Mods = mods
			sc.NumSliderBreaks = numSliderBreaks
			sc.PPv2Version = 20220902
			sc.PPv2Score = pp
			sc.UnstableRate = unstableRate
			sc.HitErrorAvgMin = hitErrorAvgMin
			sc.HitErrorAvgMax = hitErrorAvgMax
			sc.PPv2TotalStars = starsTotal
			sc.PPv2AimStars = starsAim
			sc.PPv2SpeedStars = starsSpeed
			sc.Mods.Speed = speedMultiplier
			sc.Mods.CSOverride = cs
			sc.Mods.AROverride = ar
			sc.Mods.ODOverride = od
			sc.Mods.HPOverride = hp
			sc.MaxPossibleCombo = maxPossibleCombo
			sc.NumHitObjects = numHitObjects
			sc.NumCircles = numCircles
			applyExperimentalMods(&sc.Mods, experimental)
			if !(sc.Mods.Speed > 0) {
				sc.Mods.Speed = 1
			}

			sc.BeatmapHash = hash
			sc.Perfect = sc.MaxPossibleCombo > 0 && sc.ComboMax >= sc.MaxPossibleCombo
			sc.Grade = sc.CalculateGrade()
			sc.Client = fmt.Sprintf("mcosu-%d", scoreVersion)

			if d.addScoreRaw(sc) {
				imported++
			}
		}
	}
	d.log.Infow("loaded variant-A imported scores", "count", imported)
}

// loadLegacyScores reads the legacy client's scores.db.
func (d *Database) loadLegacyScores(path string) {
	r := bytebuf.NewReader(path)
	defer func() { d.bytesProcessed += uint64(r.TotalSize()) }()

	version := r.ReadU32()
	numBeatmaps := r.ReadU32()
	if r.TotalSize() == 0 || version == 0 {
		return
	}

	d.log.Infow("legacy scores.db", "version", version, "beatmaps", numBeatmaps)

	imported := 0
	for b := uint32(0); b < numBeatmaps && r.Good(); b++ {
		hashStr := r.ReadString()
		if len(hashStr) < 32 {
			d.log.Warnw("invalid score entry hash, skipping beatmap", "beatmap", b, "len", len(hashStr))
			continue
		} else if len(hashStr) > 32 {
			d.log.Warnw("corrupt score database entry, stopping", "beatmap", b)
			break
		}
		hash := HashFromString(hashStr)

		numScores := r.ReadU32()
		for s := uint32(0); s < numScores && r.Good(); s++ {
			var sc Score

			gamemode := r.ReadU8()
			scoreVersion := r.ReadU32()
			sc.Client = fmt.Sprintf("peppy-%d", scoreVersion)
			sc.Server = "ppy.sh"

			r.SkipString() // beatmap hash, already known
			sc.PlayerName = r.ReadString()
			r.SkipString() // replay hash, unused

			sc.Num300s = int(r.ReadU16())
			sc.Num100s = int(r.ReadU16())
			sc.Num50s = int(r.ReadU16())
			sc.NumGekis = int(r.ReadU16())
			sc.NumKatus = int(r.ReadU16())
			sc.NumMisses = int(r.ReadU16())

			if score := r.ReadI32(); score > 0 {
				sc.Score = uint64(score)
			}

			sc.ComboMax = int(r.ReadU16())
			sc.Perfect = r.ReadU8() != 0
			sc.Mods = ModsFromLegacy(LegacyFlags(r.ReadU32()))

			r.SkipString() // hp graph

			fullTicks := r.ReadU64()
			sc.UnixTimestamp = uint64(ticksToUnix(int64(fullTicks)))
			sc.ForeignReplayTS = fullTicks - replayEpochTicks

			// always -1, but consume properly just in case
			if oldReplaySize := r.ReadI32(); oldReplaySize > 0 {
				r.Skip(int(oldReplaySize))
			}

			switch {
			case scoreVersion >= 20131110:
				sc.ForeignScoreID = r.ReadI64()
			case scoreVersion >= 20121008:
				sc.ForeignScoreID = int64(r.ReadI32())
			}

			if sc.Mods.Has(ModTarget) {
				r.Skip(8) // total accuracy
			}

			if !r.Good() {
				break
			}

			if gamemode == 0 && sc.ForeignScoreID != 0 {
				sc.BeatmapHash = hash
				sc.Grade = sc.CalculateGrade()
				if d.addScoreRaw(sc) {
					imported++
				}
			}
		}

		d.updateProgress(r.Pos())
	}

	d.log.Infow("loaded legacy scores", "count", imported)
}

// saveScores serializes the native score database and hands it to the write
// facility. Refuses to run while loading, after a cancelled load, or when the
// scores were never loaded (an empty write would wipe the file).
func (d *Database) saveScores() {
	if d.IsLoading() || d.IsCancelled() {
		return
	}
	if !d.scoresLoaded {
		d.log.Warnw("cannot save scores, they were not loaded properly first")
		return
	}

	w := bytebuf.NewWriter()
	w.WriteBytes(scoreDBMagic)
	w.WriteU32(ScoresDBVersion)

	d.scoresMtx.RLock()

	numBeatmaps := uint32(0)
	numScores := uint32(0)
	for _, list := range d.scores {
		if len(list) > 0 {
			numBeatmaps++
			numScores += uint32(len(list))
		}
	}
	w.WriteU32(numBeatmaps)
	w.WriteU32(numScores)

	for hash, list := range d.scores {
		if len(list) == 0 {
			continue
		}

		w.WriteHashChars(hash)
		w.WriteU32(uint32(len(list)))

		for i := range list {
			sc := &list[i]

			packMods(w, sc.Mods)
			w.WriteU64(sc.Score)
			w.WriteU64(sc.SpinnerBonus)
			w.WriteU64(sc.UnixTimestamp)
			w.WriteI32(sc.PlayerID)
			w.WriteString(sc.PlayerName)
			w.WriteU8(uint8(sc.Grade))

			w.WriteString(sc.Client)
			w.WriteString(sc.Server)
			w.WriteI64(sc.ForeignScoreID)
			w.WriteU64(sc.ForeignReplayTS)

			w.WriteU16(uint16(sc.Num300s))
			w.WriteU16(uint16(sc.Num100s))
			w.WriteU16(uint16(sc.Num50s))
			w.WriteU16(uint16(sc.NumGekis))
			w.WriteU16(uint16(sc.NumKatus))
			w.WriteU16(uint16(sc.NumMisses))
			w.WriteU16(uint16(sc.ComboMax))

			w.WriteU32(sc.PPv2Version)
			w.WriteF32(sc.PPv2Score)
			w.WriteF32(sc.PPv2TotalStars)
			w.WriteF32(sc.PPv2AimStars)
			w.WriteF32(sc.PPv2SpeedStars)

			w.WriteU16(uint16(sc.NumSliderBreaks))
			w.WriteF32(sc.UnstableRate)
			w.WriteF32(sc.HitErrorAvgMin)
			w.WriteF32(sc.HitErrorAvgMax)
			w.WriteU32(uint32(sc.MaxPossibleCombo))
			w.WriteU32(uint32(sc.NumHitObjects))
			w.WriteU32(uint32(sc.NumCircles))
		}
	}

	d.scoresMtx.RUnlock()

	path := d.cfg.PathFor(KindNativeScores)
	d.writeDatabaseFile(path, w.Bytes(), func(ok bool) {
		if ok {
			d.log.Infow("saved scores", "count", numScores, "path", path)
		}
	})
}
