// Package neodb implements the beatmap / score / overrides database engine:
// it unifies the native databases, the auto-detected legacy formats and raw
// on-disk beatmap folders into one in-memory catalog, keeps that catalog
// consistent under background loading, incremental rescans, imports and
// saves, and persists it back across version migrations.
package neodb

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"
)

// Database is the catalog engine. One instance owns every index; external
// callers receive non-owning lookups, never the containers themselves.
//
// Four independent reader/writer locks cover the four indexes. Whenever more
// than one must be held, acquire in the order
// scores → overrides → star ratings → difficulties.
type Database struct {
	cfg      *Config
	log      *zap.SugaredLogger
	notifier Notifier
	browser  Browser

	// pool runs the short-lived save and replay-compression tasks.
	pool *pond.WorkerPool

	// writeMtx serializes database file writes between the caller thread
	// and pooled save tasks.
	writeMtx sync.Mutex

	scoresMtx     sync.RWMutex
	scores        map[MD5Hash][]Score
	scoresChanged atomic.Bool

	overridesMtx sync.RWMutex
	overrides    map[MD5Hash]MapOverrides

	starMtx     sync.RWMutex
	starRatings map[MD5Hash]*StarGrid

	diffMtx      sync.RWMutex
	difficulties map[MD5Hash]*Difficulty

	// beatmapSets owns every loaded set; read by the main thread only while
	// not loading. stagingSets is the loader's private buffer, published in
	// one move at the end of the loader run or when it is cancelled.
	beatmapSets []*BeatmapSet
	stagingSets []*BeatmapSet

	// loudnessToCalc queues difficulties whose loudness has not been
	// computed yet for the external recomputation collaborator.
	loudnessToCalc []*Difficulty

	loadInterrupted atomic.Bool
	loadingProgress uatomic.Float64
	bytesProcessed  uint64 // loader goroutine only
	totalBytes      uint64 // loader goroutine only

	databaseFiles     map[DatabaseKind]string
	externalDatabases []externalDatabase

	externMtx           sync.Mutex
	externPathsToImport []string
	// copy taken at load start so more can be queued without racing the loader
	externPathsAsyncCopy []string

	collectionsMtx sync.Mutex
	collections    []Collection

	statsMtx        sync.Mutex
	prevPlayerStats PlayerStats

	scoreSortMethod string

	loaderDone chan struct{}

	isFirstLoad      bool
	deltaLoad        bool
	lastLoadWasRaw   bool
	rawFoundChanges  atomic.Bool
	needsRawLoad     bool
	nativeMapsLoaded bool
	scoresLoaded     bool

	// raw folder scanner state; written by the loader before scheduling,
	// then owned by the main-thread Update loop
	rawLoadScheduled  atomic.Bool
	rawLoadSongFolder string
	rawLoadFolders    []string
	rawLoadedFolders  []string
	curRawLoadIdx     int
	numBeatmapsToLoad int
	importStarted     time.Time
}

type externalDatabase struct {
	kind DatabaseKind
	path string
}

// Options configures a Database. Logger is required; Notifier and Browser
// default to no-ops.
type Options struct {
	Config   *Config
	Logger   *zap.SugaredLogger
	Notifier Notifier
	Browser  Browser
}

// New constructs the engine. It performs the old-brand file migration and the
// score-file readability check, but does not start loading; call Load.
func New(opts *Options) (*Database, error) {
	if opts == nil || opts.Config == nil || opts.Logger == nil {
		return nil, ErrBadConfig
	}

	d := &Database{
		cfg:             opts.Config,
		log:             opts.Logger,
		notifier:        opts.Notifier,
		browser:         opts.Browser,
		pool:            pond.New(4, 64),
		scores:          map[MD5Hash][]Score{},
		overrides:       map[MD5Hash]MapOverrides{},
		starRatings:     map[MD5Hash]*StarGrid{},
		difficulties:    map[MD5Hash]*Difficulty{},
		scoreSortMethod: "By pp",
		isFirstLoad:     true,
	}
	if d.notifier == nil {
		d.notifier = nopNotifier{}
	}
	if d.browser == nil {
		d.browser = nopBrowser{}
	}
	d.scoresChanged.Store(true)
	d.rawFoundChanges.Store(true)

	d.migrateOldBrand()
	d.backupUnreadableScoreFile()

	return d, nil
}

// Close cancels any in-flight load and drains the save pool.
func (d *Database) Close() {
	d.Cancel()
	d.waitLoader()
	d.pool.StopAndWait()
}

// Progress returns the load progress in [0, 1].
func (d *Database) Progress() float64 { return d.loadingProgress.Load() }

// IsCancelled reports whether the current or last load was interrupted.
func (d *Database) IsCancelled() bool { return d.loadInterrupted.Load() }

// IsLoading reports whether a load is in flight.
func (d *Database) IsLoading() bool {
	p := d.Progress()
	return p > 0 && p < 1
}

// IsFinished reports whether the last load has ended, either completed or
// cancelled (Cancel sets the progress to 1).
func (d *Database) IsFinished() bool { return d.Progress() >= 1 }

// FoundChanges reports whether the last raw rescan discovered new folders.
func (d *Database) FoundChanges() bool { return d.rawFoundChanges.Load() }

// Cancel requests cooperative cancellation of an in-flight load. The loader
// stops at its next granularity point and cleans up partial state.
func (d *Database) Cancel() {
	d.loadInterrupted.Store(true)
	d.loadingProgress.Store(1) // force finished
	d.rawFoundChanges.Store(true)
}

// Save persists collections, maps and scores. Never saves while a load is in
// progress or was cancelled.
func (d *Database) Save() {
	d.saveCollections()
	d.saveMaps()
	d.saveScores()
}

// SetScoreSortMethod selects the sort order applied to per-map score lists.
// Unknown names fall back to "By pp".
func (d *Database) SetScoreSortMethod(name string) {
	d.scoreSortMethod = name
}

// BeatmapDifficultyByHash returns the difficulty for a content hash, or nil
// if absent. Returns nil for every lookup while a load is in flight.
func (d *Database) BeatmapDifficultyByHash(hash MD5Hash) *Difficulty {
	if d.IsLoading() {
		d.log.Debugw("lookup during load refused", "progress", d.Progress())
		return nil
	}
	d.diffMtx.RLock()
	defer d.diffMtx.RUnlock()
	return d.difficulties[hash]
}

// BeatmapDifficultyByID finds a difficulty by its numeric map id via linear
// scan; id lookups are rare enough that no index is kept.
func (d *Database) BeatmapDifficultyByID(mapID int32) *Difficulty {
	if d.IsLoading() {
		return nil
	}
	d.diffMtx.RLock()
	defer d.diffMtx.RUnlock()
	for _, diff := range d.difficulties {
		if diff.ID == mapID {
			return diff
		}
	}
	return nil
}

// BeatmapSetByID finds a set by id via linear scan; nil during load.
func (d *Database) BeatmapSetByID(setID int32) *BeatmapSet {
	if d.IsLoading() {
		return nil
	}
	for _, set := range d.beatmapSets {
		if set.SetID == setID {
			return set
		}
	}
	return nil
}

// BeatmapSets returns the live set container. Owned by the engine; callers
// must not mutate it and must not hold it across a reload.
func (d *Database) BeatmapSets() []*BeatmapSet { return d.beatmapSets }

// ScoresFor returns a copy of the score list for a map.
func (d *Database) ScoresFor(hash MD5Hash) []Score {
	d.scoresMtx.RLock()
	defer d.scoresMtx.RUnlock()
	list := d.scores[hash]
	out := make([]Score, len(list))
	copy(out, list)
	return out
}

// AddPathToImport queues an externally dropped database file; it is sniffed
// and imported during the next load.
func (d *Database) AddPathToImport(path string) {
	d.externMtx.Lock()
	d.externPathsToImport = append(d.externPathsToImport, path)
	d.externMtx.Unlock()
}

// isScoreAlreadyInDB returns the position of an existing score with the same
// (map hash, timestamp, player name), or -1. This key is not a full identity
// but lets imports skip duplicate entries early.
func (d *Database) isScoreAlreadyInDB(hash MD5Hash, unixTimestamp uint64, playerName string) int {
	d.scoresMtx.RLock()
	defer d.scoresMtx.RUnlock()

	for i := range d.scores[hash] {
		sc := &d.scores[hash][i]
		if sc.UnixTimestamp == unixTimestamp && sc.PlayerName == playerName {
			return i
		}
	}
	return -1
}

// addScoreRaw inserts a score, deduplicating on (hash, timestamp, player).
// An existing entry without a possible replay is overwritten by an incoming
// duplicate that has one; any other duplicate is dropped. The read lock is
// released between the duplicate check and the exclusive insert, so the
// check is repeated under the write lock.
func (d *Database) addScoreRaw(score Score) bool {
	if !(score.Mods.Speed > 0) {
		score.Mods.Speed = 1
	}

	overwrite := false
	if pos := d.isScoreAlreadyInDB(score.BeatmapHash, score.UnixTimestamp, score.PlayerName); pos >= 0 {
		if !score.HasPossibleReplay() {
			return false
		}
		d.scoresMtx.RLock()
		overwrite = !d.scores[score.BeatmapHash][pos].HasPossibleReplay()
		d.scoresMtx.RUnlock()
		if !overwrite {
			return false
		}
	}

	d.scoresMtx.Lock()
	defer d.scoresMtx.Unlock()

	// re-check: another writer may have raced us between lock drops
	for i := range d.scores[score.BeatmapHash] {
		sc := &d.scores[score.BeatmapHash][i]
		if sc.UnixTimestamp == score.UnixTimestamp && sc.PlayerName == score.PlayerName {
			if overwrite || (score.HasPossibleReplay() && !sc.HasPossibleReplay()) {
				d.scores[score.BeatmapHash][i] = score
				return true
			}
			return false
		}
	}

	d.scores[score.BeatmapHash] = append(d.scores[score.BeatmapHash], score)
	return true
}

// AddScore records a newly finished score. Returns whether it was actually
// added (false for duplicates). On success the map's score list is re-sorted
// and an asynchronous save of the compressed replay and the score database is
// queued.
func (d *Database) AddScore(score Score) bool {
	if score.BeatmapHash.IsSuspicious() {
		return false
	}

	added := d.addScoreRaw(score)
	if !added {
		return false
	}

	d.sortScores(score.BeatmapHash)
	d.scoresChanged.Store(true)

	replay := score.Replay
	timestamp := score.UnixTimestamp
	d.pool.Submit(func() {
		d.saveReplayBlob(timestamp, replay)
		d.saveScores()
	})

	return true
}

// DeleteScore removes every stored score equal to the given one.
func (d *Database) DeleteScore(score Score) {
	if score.BeatmapHash.IsSuspicious() {
		return
	}

	d.scoresMtx.Lock()
	defer d.scoresMtx.Unlock()

	list := d.scores[score.BeatmapHash]
	kept := list[:0]
	for i := range list {
		if !list[i].Equal(&score) {
			kept = append(kept, list[i])
		}
	}
	if len(kept) != len(list) {
		d.scores[score.BeatmapHash] = kept
		d.scoresChanged.Store(true)
	}
}

// sortScores re-sorts one map's score list under the selected order.
func (d *Database) sortScores(hash MD5Hash) {
	d.scoresMtx.Lock()
	defer d.scoresMtx.Unlock()
	if list, ok := d.scores[hash]; ok {
		SortScoresInPlace(list, d.scoreSortMethod)
	}
}

// AddBeatmapSet parses a beatmap folder and attaches it to the live catalog.
// Difficulties already present in the hash index are dropped from the new
// set; if a duplicate carries a usable set id while the existing set has
// none, the existing set adopts the id. Returns nil when every difficulty
// was a duplicate or the folder had nothing to load.
func (d *Database) AddBeatmapSet(folder string, setIDOverride int32, origin BeatmapOrigin) *BeatmapSet {
	set, err := loadRawBeatmapSet(folder, origin, d.log)
	if err != nil {
		d.log.Debugw("could not load beatmap folder", "folder", folder, "error", err)
		return nil
	}

	if setIDOverride != -1 {
		set.SetID = setIDOverride
		for _, diff := range set.Difficulties {
			diff.SetID = setIDOverride
		}
	}

	d.diffMtx.Lock()
	kept := set.Difficulties[:0]
	for _, diff := range set.Difficulties {
		existing, dup := d.difficulties[diff.MD5]
		if !dup {
			d.difficulties[diff.MD5] = diff
			kept = append(kept, diff)
			continue
		}

		// keep the existing entry, but adopt a real set id if it had none
		if realID := set.SetID; existing.SetID == -1 && realID > 0 {
			d.adoptSetIDLocked(existing, realID)
		}
		d.log.Debugw("skipping duplicate difficulty", "hash", diff.MD5)
	}
	set.Difficulties = kept
	d.diffMtx.Unlock()

	if len(set.Difficulties) == 0 {
		d.log.Debugw("not adding set, only duplicate difficulties", "folder", folder)
		return nil
	}

	d.beatmapSets = append(d.beatmapSets, set)

	// only notify the browser once loading is done; it rebuilds from the
	// set container itself when a load finishes
	if d.IsFinished() {
		d.browser.BeatmapSetAdded(set)
	}

	return set
}

// adoptSetIDLocked updates an existing difficulty's set (found by its current
// set id) to a newly learned id. Caller holds diffMtx.
func (d *Database) adoptSetIDLocked(existing *Difficulty, realID int32) {
	oldID := existing.SetID
	for _, set := range d.beatmapSets {
		if set.SetID != oldID || set.Folder != existing.FolderPath {
			continue
		}
		d.log.Debugw("updating set id", "folder", set.Folder, "old", oldID, "new", realID)
		set.SetID = realID
		for _, diff := range set.Difficulties {
			diff.SetID = realID
		}
		return
	}
	existing.SetID = realID
}

// LoudnessPending returns the difficulties still waiting for loudness
// recomputation. Main thread only, not valid during a load.
func (d *Database) LoudnessPending() []*Difficulty { return d.loudnessToCalc }

// migrateOldBrand copies the previous brand's database files to the current
// names when the current files do not exist yet.
func (d *Database) migrateOldBrand() {
	pairs := [][2]string{
		{d.cfg.PathFor(KindNativeScores), d.cfg.DataDir + "/neosu_scores.db"},
		{d.cfg.PathFor(KindNativeMaps), d.cfg.DataDir + "/neosu_maps.db"},
	}
	for _, p := range pairs {
		current, old := p[0], p[1]
		if fileExists(current) || !fileExists(old) {
			continue
		}
		if err := copyFile(old, current); err != nil {
			d.log.Warnw("database migration failed", "from", old, "to", current, "error", err)
		} else {
			d.log.Infow("migrated database", "from", old, "to", current)
		}
	}
}

// backupUnreadableScoreFile backs up an existing score database that stats
// non-empty but reads back zero bytes, before any save could overwrite it.
func (d *Database) backupUnreadableScoreFile() {
	path := d.cfg.PathFor(KindNativeScores)
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return
	}
	buf, err := os.ReadFile(path)
	if err == nil && len(buf) > 0 {
		return
	}
	backup := backupPath(path, 0)
	if err := copyFile(path, backup); err == nil {
		d.log.Warnw("score database read back empty, backed up", "path", path, "backup", backup)
	}
}

// backupPath derives the timestamped backup name for a stale database file.
func backupPath(path string, oldVersion uint32) string {
	return fmt.Sprintf("%s.%d-%s", path, oldVersion, time.Now().UTC().Format("2006-01-02"))
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeDatabaseFile hands a finished database image to the write facility.
// Success or failure is reported through the callback; there is no
// journaling, failed saves are simply retried on the next save. Callers that
// want the write off the main thread wrap the whole save in a pool task (see
// AddScore).
func (d *Database) writeDatabaseFile(path string, data []byte, callback func(ok bool)) {
	d.writeMtx.Lock()
	err := os.WriteFile(path, data, 0o644)
	d.writeMtx.Unlock()
	if err != nil {
		d.log.Warnw("database write failed", "path", path, "error", err)
	}
	if callback != nil {
		callback(err == nil)
	}
}
