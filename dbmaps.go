package neodb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/neomodnet/neodb/bytebuf"
	"github.com/samber/lo"
)

// legacyMapsMaxVersion caps how new a legacy map database may be. Anything
// above it is structurally unknown and skipped wholesale.
const legacyMapsMaxVersion = MapsDBVersion

// loadMaps runs both map passes: the native database first, then the legacy
// one. The staged sets are published by the caller once the remaining load
// phases are through.
func (d *Database) loadMaps() {
	started := time.Now()
	numNative, numOverrides := d.loadNativeMaps()
	numLegacy := d.loadLegacyMaps()

	d.log.Infow("map loading finished",
		"elapsed", time.Since(started),
		"native", numNative, "legacy", numLegacy, "overrides", numOverrides,
		"loudnessPending", len(d.loudnessToCalc))
}

// loadNativeMaps reads the native map database into the staging container,
// plus the overrides and star-rating sections.
func (d *Database) loadNativeMaps() (numDiffs, numOverrides int) {
	path := d.databaseFiles[KindNativeMaps]
	r := bytebuf.NewReader(path)
	defer func() { d.bytesProcessed += uint64(r.TotalSize()) }()
	if r.TotalSize() == 0 {
		d.nativeMapsLoaded = true
		return
	}

	version := r.ReadU32()
	if version > MapsDBVersion {
		// refused entirely; also keep the save path away from the file so
		// a newer client's data cannot be overwritten with downgraded data
		d.notifier.AddToast(fmt.Sprintf(
			"%s_maps.db version unknown (%d), maps will not load.", PackageName, version))
		d.log.Warnw("native map database is newer than this client, not loading",
			"path", path, "version", version, "max", MapsDBVersion)
		return
	}
	d.nativeMapsLoaded = true
	if version < MapsDBVersion {
		// reading from an older version: back up just in case
		backup := backupPath(path, version)
		if err := copyFile(path, backup); err == nil {
			d.log.Infow("older map database backed up", "version", version, "backup", backup)
		}
	}

	numSets := r.ReadU32()
	for i := uint32(0); i < numSets && r.Good(); i++ {
		if d.loadInterrupted.Load() {
			break
		}
		d.updateProgress(r.Pos())

		setID := r.ReadI32()
		numInSet := r.ReadU16()

		// Sets with id -1 were saved with the id missing from the chart
		// files; their folder cannot be derived, so their bytes are
		// consumed but the entries are dropped.
		if setID == -1 {
			for j := uint16(0); j < numInSet && r.Good(); j++ {
				skipNativeDifficulty(r, version)
			}
			continue
		}

		folder := filepath.Join(d.cfg.MapsDir(), strconv.Itoa(int(setID))) + string(os.PathSeparator)
		set := &BeatmapSet{SetID: setID, Folder: folder, Origin: OriginNative}
		cancelled := false

		for j := uint16(0); j < numInSet && r.Good(); j++ {
			if d.loadInterrupted.Load() {
				// clean up partially staged difficulties of this set
				d.diffMtx.Lock()
				for _, diff := range set.Difficulties {
					delete(d.difficulties, diff.MD5)
					d.loudnessToCalc = removeDiff(d.loudnessToCalc, diff)
				}
				d.diffMtx.Unlock()
				cancelled = true
				break
			}

			diff := d.readNativeDifficulty(r, version, setID, folder)
			if diff == nil {
				continue
			}

			d.diffMtx.Lock()
			d.difficulties[diff.MD5] = diff
			d.diffMtx.Unlock()
			set.Difficulties = append(set.Difficulties, diff)
			numDiffs++
		}

		if !cancelled && len(set.Difficulties) > 0 {
			d.stagingSets = append(d.stagingSets, set)
		}
	}

	// a cancelled read stopped mid-file; the trailing sections would be
	// decoded from misaligned bytes
	if d.loadInterrupted.Load() {
		return
	}

	if version >= 20240812 && r.Good() {
		numOverrides = d.readOverridesSection(r, version)
	}
	if version >= 20260202 && r.Good() {
		d.readStarSection(r)
	}
	return
}

// skipNativeDifficulty consumes one difficulty record without keeping it.
func skipNativeDifficulty(r *bytebuf.Reader, version uint32) {
	r.SkipString() // osu filename
	r.Skip(4)      // map id
	r.SkipString() // title
	r.SkipString() // audio filename
	r.Skip(4 + 4)  // length, stack leniency
	r.SkipString() // artist
	r.SkipString() // creator
	r.SkipString() // difficulty name
	r.SkipString() // source
	r.SkipString() // tags
	if version >= 20260202 {
		r.Skip(bytebuf.HashSize)
	} else {
		r.SkipString()
	}
	// AR CS HP OD, slider multiplier, preview, last modification, offsets,
	// object counts, nomod stars
	r.Skip(4*4 + 8 + 4 + 8 + 2*2 + 2*3 + 8)
	if version >= 20251209 {
		r.Skip(4 * 3) // bpm triple
	}
	if version < 20240812 {
		numTimingPoints := r.ReadU32()
		r.Skip(nativeTimingPointSize * int(numTimingPoints))
	}
	if version >= 20240703 {
		r.Skip(1) // draw background
	}
	if version >= 20240812 {
		r.Skip(4) // loudness
	}
	if version >= 20250801 {
		r.SkipString()
		r.SkipString()
	}
	if version >= 20251009 {
		r.SkipString()
	}
	if version >= 20251225 {
		r.Skip(4) // ppv2 version
	}
}

// readNativeDifficulty decodes one difficulty record with all version gates
// applied. Returns nil for unusable records (the bytes are still consumed).
func (d *Database) readNativeDifficulty(r *bytebuf.Reader, version uint32, setID int32, folder string) *Difficulty {
	diff := &Difficulty{
		SetID:          setID,
		FolderPath:     folder,
		MinBPM:         -1,
		MaxBPM:         -1,
		MostCommonBPM:  -1,
		DrawBackground: true,
		Origin:         OriginNative,
	}

	osuFileName := r.ReadString()
	diff.ID = r.ReadI32()
	diff.Title = r.ReadString()
	diff.AudioFileName = r.ReadString()
	diff.LengthMS = r.ReadI32()
	diff.StackLeniency = r.ReadF32()
	diff.Artist = r.ReadString()
	diff.Creator = r.ReadString()
	diff.DifficultyName = r.ReadString()
	diff.Source = r.ReadString()
	diff.Tags = r.ReadString()

	if version >= 20260202 {
		diff.MD5 = MD5Hash(r.ReadHashDigest())
	} else {
		diff.MD5 = MD5Hash(r.ReadHashChars())
	}

	diff.AR = r.ReadF32()
	diff.CS = r.ReadF32()
	diff.HP = r.ReadF32()
	diff.OD = r.ReadF32()
	diff.SliderMultiplier = r.ReadF64()
	diff.PreviewTime = r.ReadU32()

	// older files stored the modification time in tick form; it was only
	// ever used for sorting, so it is fixed up here instead of migrated
	diff.LastModificationTime = ticksToUnix(r.ReadI64())

	diff.LocalOffset = r.ReadI16()
	diff.OnlineOffset = r.ReadI16()
	diff.NumCircles = r.ReadU16()
	diff.NumSliders = r.ReadU16()
	diff.NumSpinners = r.ReadU16()
	diff.StarsNomod = r.ReadF64()

	// the BPM triple only exists past this version; older entries keep the
	// -1 sentinels and are recomputed
	if version >= 20251209 {
		diff.MinBPM = r.ReadI32()
		diff.MaxBPM = r.ReadI32()
		diff.MostCommonBPM = r.ReadI32()
	}

	if version < 20240812 {
		numTimingPoints := r.ReadU32()
		r.Skip(nativeTimingPointSize * int(numTimingPoints))
	}

	if version >= 20240703 {
		diff.DrawBackground = r.ReadU8() != 0
	}

	var loudness float32
	if version >= 20240812 {
		loudness = r.ReadF32()
	}

	diff.TitleUnicode = diff.Title
	diff.ArtistUnicode = diff.Artist
	if version >= 20250801 {
		diff.TitleUnicode = r.ReadString()
		diff.ArtistUnicode = r.ReadString()
	}
	if version >= 20251009 {
		diff.BackgroundImageFileName = r.ReadString()
	}
	if version >= 20251225 {
		diff.PPv2Version = r.ReadU32()
	}

	if !r.Good() {
		return nil
	}

	// some bleeding-edge saves stored the folder itself as the filename;
	// re-resolve from the chart files by map id
	if osuFileName == "" || osuFileName == folder {
		if fixed := findOsuFileByID(folder, diff.ID); fixed != "" {
			osuFileName = fixed
			d.log.Debugw("fixed up chart filename", "file", osuFileName, "id", diff.ID)
		}
	}
	diff.FilePath = filepath.Join(folder, osuFileName)

	// entries saved with a missing hash get it recomputed from disk
	if diff.MD5.IsSuspicious() {
		diff.MD5 = d.recalcMD5(diff.FilePath)
		if diff.MD5.IsSuspicious() {
			return nil
		}
	}

	if loudness == 0 {
		d.loudnessToCalc = append(d.loudnessToCalc, diff)
	} else {
		diff.Loudness = loudness
	}

	return diff
}

// findOsuFileByID scans a set folder for the .osu file whose BeatmapID
// matches.
func findOsuFileByID(folder string, mapID int32) string {
	if mapID == -1 {
		return ""
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".osu") {
			continue
		}
		diff, err := loadDifficultyMetadata(filepath.Join(folder, e.Name()), folder, OriginNative)
		if err == nil && diff.ID == mapID {
			return e.Name()
		}
	}
	return ""
}

// readOverridesSection reads the per-map override entries.
func (d *Database) readOverridesSection(r *bytebuf.Reader, version uint32) int {
	numOverrides := r.ReadU32()

	d.overridesMtx.Lock()
	defer d.overridesMtx.Unlock()

	for i := uint32(0); i < numOverrides && r.Good(); i++ {
		var hash MD5Hash
		if version >= 20260202 {
			hash = MD5Hash(r.ReadHashDigest())
		} else {
			hash = MD5Hash(r.ReadHashChars())
		}

		var over MapOverrides
		over.LocalOffset = r.ReadI16()
		over.OnlineOffset = r.ReadI16()
		over.StarRating = r.ReadF32()
		over.Loudness = r.ReadF32()

		if version >= 20251209 {
			over.MinBPM = r.ReadI32()
			over.MaxBPM = r.ReadI32()
			over.AvgBPM = r.ReadI32()
		} else {
			// sentinel values, recomputed when the map is next imported
			over.MinBPM, over.MaxBPM, over.AvgBPM = -1, -1, -1
		}

		over.DrawBackground = r.ReadU8() != 0
		if version >= 20251009 {
			over.BackgroundImageFileName = r.ReadString()
		}
		if version >= 20251225 {
			over.PPv2Version = r.ReadU32()
		}

		if r.Good() {
			d.overrides[hash] = over
		}
	}
	return len(d.overrides)
}

// readStarSection reads the precomputed star-rating grids. A stored layout
// that differs from the compiled-in grid is skipped (and recomputed later),
// never migrated.
func (d *Database) readStarSection(r *bytebuf.Reader) {
	storedSpeeds := int(r.ReadU8())
	storedCombos := int(r.ReadU8())
	numEntries := r.ReadU32()
	storedRatings := storedSpeeds * storedCombos

	if storedSpeeds != NumStarSpeeds || storedCombos != NumStarModCombos {
		d.log.Warnw("star rating layout changed, skipping stored data",
			"storedSpeeds", storedSpeeds, "storedCombos", storedCombos,
			"speeds", NumStarSpeeds, "combos", NumStarModCombos)
		for i := uint32(0); i < numEntries && r.Good(); i++ {
			r.Skip(bytebuf.HashSize + 4*storedRatings)
		}
		return
	}

	d.starMtx.Lock()
	defer d.starMtx.Unlock()
	for i := uint32(0); i < numEntries && r.Good(); i++ {
		hash := MD5Hash(r.ReadHashDigest())
		grid := &StarGrid{}
		for j := 0; j < NumPrecalcRatings; j++ {
			grid[j] = r.ReadF32()
		}
		if r.Good() {
			d.starRatings[hash] = grid
		}
	}
}

// loadLegacyMaps reads the legacy client's map database. Difficulties are
// grouped into sets by set id; sets with invalid ids are regrouped by
// title|artist text. Stored overrides win over the read-only source fields.
func (d *Database) loadLegacyMaps() int {
	if d.needsRawLoad {
		return 0
	}

	path := d.databaseFiles[KindLegacyMaps]
	r := bytebuf.NewReader(path)
	defer func() { d.bytesProcessed += uint64(r.TotalSize()) }()

	var version uint32
	if r.Good() && r.TotalSize() > 0 {
		version = r.ReadU32()
	}
	if version == 0 {
		d.log.Debugw("not loading legacy map database", "path", path, "error", r.Err())
		return 0
	}

	folderCount := r.ReadU32()
	r.Skip(1) // account unlocked
	r.Skip(8) // unlock timestamp
	playerName := r.ReadString()
	numBeatmaps := r.ReadU32()

	d.log.Infow("legacy map database header",
		"version", version, "folderCount", folderCount,
		"playerName", playerName, "numBeatmaps", numBeatmaps)

	if version > legacyMapsMaxVersion {
		d.notifier.AddToast(fmt.Sprintf(
			"osu!.db version unknown (%d), legacy maps will not get loaded.", version))
		return 0
	}

	songsFolder := d.cfg.ResolvedSongsFolder()

	type legacySet struct {
		setID int32
		diffs []*Difficulty
	}
	var groups []legacySet
	setIDToIndex := map[int32]int{}

	loaded := 0
	for i := uint32(0); i < numBeatmaps && r.Good(); i++ {
		if d.loadInterrupted.Load() {
			break
		}
		d.updateProgress(r.Pos())

		diff, ok := d.readLegacyBeatmap(r, version, songsFolder)
		if !ok {
			continue
		}

		if idx, exists := setIDToIndex[diff.SetID]; exists {
			dup := lo.ContainsBy(groups[idx].diffs, func(existing *Difficulty) bool {
				return existing.MD5 == diff.MD5
			})
			if dup {
				continue
			}
			groups[idx].diffs = append(groups[idx].diffs, diff)
		} else {
			setIDToIndex[diff.SetID] = len(groups)
			groups = append(groups, legacySet{setID: diff.SetID, diffs: []*Difficulty{diff}})
		}

		d.diffMtx.Lock()
		d.difficulties[diff.MD5] = diff
		d.diffMtx.Unlock()
		loaded++
	}

	// build the sets; on cancellation every not-yet-built difficulty is
	// pulled back out of the index
	for gi := range groups {
		if d.loadInterrupted.Load() {
			d.diffMtx.Lock()
			for _, g := range groups[gi:] {
				for _, diff := range g.diffs {
					delete(d.difficulties, diff.MD5)
					d.loudnessToCalc = removeDiff(d.loudnessToCalc, diff)
				}
			}
			d.diffMtx.Unlock()
			break
		}

		g := groups[gi]
		if len(g.diffs) == 0 {
			continue
		}

		if g.setID > 0 {
			d.stagingSets = append(d.stagingSets, &BeatmapSet{
				SetID:        g.setID,
				Folder:       g.diffs[0].FolderPath,
				Difficulties: g.diffs,
				Origin:       OriginLegacy,
			})
			continue
		}

		// invalid set id: regroup its difficulties by title|artist
		byTitleArtist := map[string][]*Difficulty{}
		var order []string
		for _, diff := range g.diffs {
			key := diff.Title + "|" + diff.Artist
			if _, seen := byTitleArtist[key]; !seen {
				order = append(order, key)
			}
			byTitleArtist[key] = append(byTitleArtist[key], diff)
		}
		for _, key := range order {
			diffs := byTitleArtist[key]
			d.stagingSets = append(d.stagingSets, &BeatmapSet{
				SetID:        g.setID,
				Folder:       diffs[0].FolderPath,
				Difficulties: diffs,
				Origin:       OriginLegacy,
			})
		}
	}

	return loaded
}

// readLegacyBeatmap decodes one legacy map entry. Returns ok=false for
// entries that were consumed but are not usable (wrong mode, empty
// metadata, unreadable).
func (d *Database) readLegacyBeatmap(r *bytebuf.Reader, version uint32, songsFolder string) (*Difficulty, bool) {
	// this int was only present in a window of legacy versions
	if version >= 20160408 && version < 20191106 {
		r.Skip(4) // size in bytes of the entry
	}

	artist := strings.TrimSpace(r.ReadString())
	artistUnicode := r.ReadString()
	title := strings.TrimSpace(r.ReadString())
	titleUnicode := r.ReadString()
	creator := strings.TrimSpace(r.ReadString())
	difficultyName := strings.TrimSpace(r.ReadString())
	audioFileName := r.ReadString()

	md5hash := MD5Hash(r.ReadHashChars())

	override, haveOverride := d.lookupOverride(md5hash)

	osuFileName := r.ReadString()
	r.Skip(1) // ranked status
	numCircles := r.ReadU16()
	numSliders := r.ReadU16()
	numSpinners := r.ReadU16()
	lastModification := ticksToUnix(r.ReadI64())

	var ar, cs, hp, od float32
	if version < 20140609 {
		ar = float32(r.ReadU8())
		cs = float32(r.ReadU8())
		hp = float32(r.ReadU8())
		od = float32(r.ReadU8())
	} else {
		ar = r.ReadF32()
		cs = r.ReadF32()
		hp = r.ReadF32()
		od = r.ReadF32()
	}

	sliderMultiplier := r.ReadF64()

	nomodStars := d.readLegacyStarRatings(r, version)

	r.Skip(4) // drain time, seconds
	duration := r.ReadI32()
	if duration < 0 {
		duration = 0
	}
	previewTime := r.ReadI32()

	bpm := unknownBPM()
	numTimingPoints := r.ReadU32()
	if haveOverride && override.MinBPM != -1 {
		// cached values are only trusted when they are not the sentinel
		r.Skip(legacyTimingPointSize * int(numTimingPoints))
		bpm = bpmInfo{min: override.MinBPM, max: override.MaxBPM, mostCommon: override.AvgBPM}
	} else if numTimingPoints > 0 {
		points := make([]timingPoint, 0, numTimingPoints)
		for t := uint32(0); t < numTimingPoints && r.Good(); t++ {
			p := timingPoint{
				msPerBeat:   r.ReadF64(),
				offset:      r.ReadF64(),
				uninherited: r.ReadU8() != 0,
			}
			points = append(points, p)
		}
		if r.Good() {
			bpm = calculateBPM(points)
		}
	}

	// documented as unsigned in several places, but -1 does occur
	beatmapID := r.ReadI32()
	beatmapSetID := r.ReadI32()
	r.Skip(4)     // thread id
	r.Skip(4 * 1) // four u8 grades
	localOffset := r.ReadU16()
	stackLeniency := r.ReadF32()
	mode := r.ReadU8()

	source := strings.TrimSpace(r.ReadString())
	tags := strings.TrimSpace(r.ReadString())
	onlineOffset := r.ReadU16()
	r.SkipString() // song title font
	r.Skip(1)      // unplayed
	r.Skip(8)      // last time played
	r.Skip(1)      // is osz2

	// some entries carry stray whitespace in their folder path, which
	// breaks path lookups downstream
	folderPath := strings.TrimSpace(r.ReadString())

	r.Skip(8) // last online check
	r.Skip(5) // ignore sounds/skin, disable storyboard/video, visual override
	if version < 20140609 {
		r.Skip(2) // unknown
	}
	r.Skip(4) // last edit time
	r.Skip(1) // mania scroll speed

	if !r.Good() {
		return nil, false
	}

	// corrupt entries show up with every metadata field empty
	if artist == "" && title == "" && creator == "" && difficultyName == "" {
		return nil, false
	}
	if mode != 0 {
		return nil, false
	}

	// nested beatmap paths are stored with backslashes
	folderPath = strings.ReplaceAll(folderPath, "\\", "/")
	beatmapFolder := songsFolder + folderPath + "/"
	fullFilePath := beatmapFolder + osuFileName

	if md5hash.IsSuspicious() {
		md5hash = d.recalcMD5(fullFilePath)
		if md5hash.IsSuspicious() {
			return nil, false
		}
	}

	// legacy fallback for invalid set ids: first path segment is usually
	// the numeric set id
	if beatmapSetID < 1 && folderPath != "" {
		candidate, _, _ := strings.Cut(folderPath, "/")
		if candidate != "" && candidate[0] >= '0' && candidate[0] <= '9' {
			if v, err := strconv.ParseInt(candidate, 10, 32); err == nil {
				beatmapSetID = int32(v)
			} else {
				beatmapSetID = -1
			}
		}
	}

	diff := &Difficulty{
		FilePath:       fullFilePath,
		FolderPath:     beatmapFolder,
		MD5:            md5hash,
		ID:             beatmapID,
		SetID:          beatmapSetID,
		Title:          title,
		TitleUnicode:   titleUnicode,
		Artist:         artist,
		ArtistUnicode:  artistUnicode,
		Creator:        creator,
		DifficultyName: difficultyName,
		Source:         source,
		Tags:           tags,
		AudioFileName:  audioFileName,
		LengthMS:       duration,
		StackLeniency:  stackLeniency,
		AR:             ar,
		CS:             cs,
		HP:             hp,
		OD:             od,

		SliderMultiplier: sliderMultiplier,
		NumCircles:       numCircles,
		NumSliders:       numSliders,
		NumSpinners:      numSpinners,
		MinBPM:           bpm.min,
		MaxBPM:           bpm.max,
		MostCommonBPM:    bpm.mostCommon,
		DrawBackground:   true,
		Origin:           OriginLegacy,
	}
	if previewTime > 0 {
		diff.PreviewTime = uint32(previewTime)
	}
	diff.LastModificationTime = lastModification

	loudnessFound := false
	if haveOverride {
		diff.LocalOffset = override.LocalOffset
		diff.OnlineOffset = override.OnlineOffset
		diff.StarsNomod = float64(override.StarRating)
		diff.PPv2Version = override.PPv2Version
		diff.Loudness = override.Loudness
		diff.DrawBackground = override.DrawBackground
		diff.BackgroundImageFileName = override.BackgroundImageFileName
		loudnessFound = override.Loudness != 0
	} else {
		if nomodStars <= 0 {
			nomodStars = -nomodStars
		}
		diff.LocalOffset = int16(localOffset)
		diff.OnlineOffset = int16(onlineOffset)
		diff.StarsNomod = nomodStars
	}

	if !loudnessFound {
		d.loudnessToCalc = append(d.loudnessToCalc, diff)
	}

	return diff, true
}

// readLegacyStarRatings consumes the four per-mode star-rating subsections
// and extracts the nomod standard rating. The rating field switched from f64
// to f32 in 20250108.
func (d *Database) readLegacyStarRatings(r *bytebuf.Reader, version uint32) float64 {
	if version < 20140609 {
		return 0
	}

	ratingSize := 8
	if version >= 20250108 {
		ratingSize = 4
	}

	var nomod float64
	numStandard := r.ReadU32()
	for s := uint32(0); s < numStandard && r.Good(); s++ {
		r.Skip(1) // int tag
		mods := r.ReadU32()
		r.Skip(1) // value tag
		if mods == 0 && nomod == 0 {
			if ratingSize == 8 {
				nomod = r.ReadF64()
			} else {
				nomod = float64(r.ReadF32())
			}
		} else {
			r.Skip(ratingSize)
		}
	}

	// the other modes only matter for consuming the right byte count
	perEntry := 1 + 4 + 1 + ratingSize
	for m := 0; m < 3; m++ {
		numEntries := r.ReadU32()
		r.Skip(perEntry * int(numEntries))
	}

	return nomod
}

func (d *Database) lookupOverride(hash MD5Hash) (MapOverrides, bool) {
	d.overridesMtx.RLock()
	defer d.overridesMtx.RUnlock()
	over, ok := d.overrides[hash]
	return over, ok
}

// publishSets moves the staged sets into the live container and links each
// difficulty to its star-rating grid.
func (d *Database) publishSets() {
	d.beatmapSets = d.stagingSets
	d.stagingSets = nil

	d.starMtx.RLock()
	d.diffMtx.Lock()
	for hash, diff := range d.difficulties {
		if grid, ok := d.starRatings[hash]; ok {
			diff.starRatings = grid
		}
	}
	d.diffMtx.Unlock()
	d.starMtx.RUnlock()
}

func removeDiff(list []*Difficulty, diff *Difficulty) []*Difficulty {
	for i, cur := range list {
		if cur == diff {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// saveMaps serializes the native map database: natively mastered sets, then
// the override entries, then the star-rating grids. Never runs mid-load or
// after a cancelled load.
func (d *Database) saveMaps() {
	if len(d.beatmapSets) == 0 || d.IsLoading() || d.IsCancelled() {
		return
	}
	if !d.nativeMapsLoaded {
		d.log.Warnw("cannot save maps, they were not loaded properly first")
		return
	}

	started := time.Now()

	// collect native sets, dropping duplicate folder entries that the
	// scanner/AddBeatmapSet paths can produce
	nativeSets := lo.Filter(d.beatmapSets, func(set *BeatmapSet, _ int) bool {
		return set.Origin == OriginNative
	})
	nativeSets = lo.UniqBy(nativeSets, func(set *BeatmapSet) string { return set.Folder })

	w := bytebuf.NewWriter()
	w.WriteU32(MapsDBVersion)
	w.WriteU32(uint32(len(nativeSets)))

	numDiffsSaved := 0
	for _, set := range nativeSets {
		w.WriteI32(set.SetID)
		w.WriteU16(uint16(len(set.Difficulties)))

		for _, diff := range set.Difficulties {
			w.WriteString(filepath.Base(diff.FilePath))
			w.WriteI32(diff.ID)
			w.WriteString(diff.Title)
			w.WriteString(diff.AudioFileName)
			w.WriteI32(diff.LengthMS)
			w.WriteF32(diff.StackLeniency)
			w.WriteString(diff.Artist)
			w.WriteString(diff.Creator)
			w.WriteString(diff.DifficultyName)
			w.WriteString(diff.Source)
			w.WriteString(diff.Tags)
			w.WriteHashDigest(diff.MD5)
			w.WriteF32(diff.AR)
			w.WriteF32(diff.CS)
			w.WriteF32(diff.HP)
			w.WriteF32(diff.OD)
			w.WriteF64(diff.SliderMultiplier)
			w.WriteU32(diff.PreviewTime)
			w.WriteI64(diff.LastModificationTime)
			w.WriteI16(diff.LocalOffset)
			w.WriteI16(diff.OnlineOffset)
			w.WriteU16(diff.NumCircles)
			w.WriteU16(diff.NumSliders)
			w.WriteU16(diff.NumSpinners)
			w.WriteF64(diff.StarsNomod)
			w.WriteI32(diff.MinBPM)
			w.WriteI32(diff.MaxBPM)
			w.WriteI32(diff.MostCommonBPM)
			if diff.DrawBackground {
				w.WriteU8(1)
			} else {
				w.WriteU8(0)
			}
			w.WriteF32(diff.Loudness)
			w.WriteString(diff.TitleUnicode)
			w.WriteString(diff.ArtistUnicode)
			w.WriteString(diff.BackgroundImageFileName)
			w.WriteU32(diff.PPv2Version)

			numDiffsSaved++
		}
	}

	// fold finished loudness values of legacy maps into the overrides;
	// the recomputation path skips UpdateOverrides for performance
	d.overridesMtx.Lock()
	for _, diff := range d.loudnessToCalc {
		if diff.Origin != OriginLegacy || diff.Loudness == 0 {
			continue
		}
		d.overrides[diff.MD5] = diff.Overrides()
	}
	d.overridesMtx.Unlock()

	// suspicious hashes are dropped so a bad read can never poison the file
	d.overridesMtx.RLock()
	realOverrides := lo.OmitBy(d.overrides, func(hash MD5Hash, _ MapOverrides) bool {
		return hash.IsSuspicious()
	})
	d.overridesMtx.RUnlock()

	w.WriteU32(uint32(len(realOverrides)))
	for hash, over := range realOverrides {
		w.WriteHashDigest(hash)
		w.WriteI16(over.LocalOffset)
		w.WriteI16(over.OnlineOffset)
		w.WriteF32(over.StarRating)
		w.WriteF32(over.Loudness)
		w.WriteI32(over.MinBPM)
		w.WriteI32(over.MaxBPM)
		w.WriteI32(over.AvgBPM)
		if over.DrawBackground {
			w.WriteU8(1)
		} else {
			w.WriteU8(0)
		}
		w.WriteString(over.BackgroundImageFileName)
		w.WriteU32(over.PPv2Version)
	}

	// star ratings, with the layout header so dimension changes are
	// detectable without a version bump
	d.starMtx.RLock()
	w.WriteU8(uint8(NumStarSpeeds))
	w.WriteU8(uint8(NumStarModCombos))
	w.WriteU32(uint32(len(d.starRatings)))
	numStarEntries := 0
	for hash, grid := range d.starRatings {
		w.WriteHashDigest(hash)
		for _, rating := range grid {
			w.WriteF32(rating)
		}
		numStarEntries++
	}
	d.starMtx.RUnlock()

	path := d.cfg.PathFor(KindNativeMaps)
	d.writeDatabaseFile(path, w.Bytes(), func(ok bool) {
		if ok {
			d.log.Infow("saved maps",
				"diffs", numDiffsSaved, "overrides", len(realOverrides),
				"starEntries", numStarEntries, "elapsed", time.Since(started))
		}
	})
}
