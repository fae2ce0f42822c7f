package neodb

import (
	"os"

	"github.com/neomodnet/neodb/bytebuf"
)

// Load starts the background load sequence: discover files, read native
// scores, read both legacy score variants, read native then legacy maps,
// import externally dropped databases, publish. A cancelled in-flight load
// is waited out before the next one begins.
func (d *Database) Load() {
	d.waitLoader()

	d.loadInterrupted.Store(false)
	d.loadingProgress.Store(0)
	d.rawLoadScheduled.Store(false)

	d.startLoader()
}

func (d *Database) startLoader() {
	songsFolder := d.cfg.ResolvedSongsFolder()
	songsExists := directoryExists(songsFolder)

	// the raw scanner is the fallback when the legacy map database is
	// unusable or disabled
	d.needsRawLoad = songsExists &&
		(!d.cfg.LegacyDatabaseEnabled || !isLegacyMapsReadable(d.cfg.PathFor(KindLegacyMaps)))

	// a full load happens on the first load since construction, or whenever
	// a map database needs re-reading; otherwise only newly appeared song
	// folders are scanned and existing entries stay untouched
	d.deltaLoad = !d.isFirstLoad && d.needsRawLoad && d.lastLoadWasRaw

	if !d.deltaLoad {
		d.loudnessToCalc = nil
		d.diffMtx.Lock()
		d.difficulties = map[MD5Hash]*Difficulty{}
		d.diffMtx.Unlock()
		d.stagingSets = nil
		d.beatmapSets = nil
		d.nativeMapsLoaded = false
		d.scoresLoaded = false
		d.rawLoadedFolders = nil
	}

	// take a copy so more paths can be queued while the loader runs; the
	// copy is only cleared once the imports actually happened
	d.externMtx.Lock()
	d.externPathsAsyncCopy = append(d.externPathsAsyncCopy, d.externPathsToImport...)
	d.externPathsToImport = nil
	d.externMtx.Unlock()

	d.loaderDone = make(chan struct{})
	go d.runLoader()
}

func (d *Database) waitLoader() {
	if d.loaderDone != nil {
		<-d.loaderDone
	}
}

func (d *Database) runLoader() {
	defer close(d.loaderDone)
	// a progress update racing the cancel may have overwritten the forced
	// "finished" value; restore it before signalling done
	defer func() {
		if d.loadInterrupted.Load() {
			d.loadingProgress.Store(1)
		}
	}()

	d.log.Debugw("loader start", "delta", d.deltaLoad)

	if !d.deltaLoad {
		d.findDatabases()
		if d.loadInterrupted.Load() {
			return
		}

		d.loadScores(d.databaseFiles[KindNativeScores])
		if d.loadInterrupted.Load() {
			return
		}
		d.loadImportedScores(d.databaseFiles[KindImportedScores])
		if d.loadInterrupted.Load() {
			return
		}
		d.loadLegacyScores(d.databaseFiles[KindLegacyScores])
		d.scoresLoaded = true
		if d.loadInterrupted.Load() {
			return
		}

		d.loadMaps()
		if d.loadInterrupted.Load() {
			// the partially read set was already unstaged; what remains in
			// staging are completely read sets, safe to keep
			d.publishSets()
			return
		}

		if !d.needsRawLoad {
			d.loadCollections()
			if d.loadInterrupted.Load() {
				d.publishSets()
				return
			}
		}

		// databases that were dropped on the main window
		for _, ext := range d.externalDatabases {
			d.importDatabase(ext)
			if d.loadInterrupted.Load() {
				d.publishSets()
				return
			}
		}
		// only clear once they were actually imported
		d.externMtx.Lock()
		d.externPathsAsyncCopy = nil
		d.externMtx.Unlock()
		d.externalDatabases = nil

		d.publishSets()
	}

	if d.needsRawLoad {
		d.scheduleRawLoad()
	} else {
		d.loadingProgress.Store(1)
	}

	d.isFirstLoad = false
	d.lastLoadWasRaw = d.needsRawLoad

	d.log.Debugw("loader done")
}

// findDatabases resolves the canonical path of every database to read plus
// the queued external imports, and sums their sizes for progress reporting.
func (d *Database) findDatabases() {
	d.bytesProcessed = 0
	d.totalBytes = 0
	d.databaseFiles = map[DatabaseKind]string{}
	d.externalDatabases = nil

	d.databaseFiles[KindNativeScores] = d.cfg.PathFor(KindNativeScores)
	d.databaseFiles[KindImportedScores] = d.cfg.PathFor(KindImportedScores)
	d.databaseFiles[KindLegacyScores] = d.cfg.PathFor(KindLegacyScores)
	d.databaseFiles[KindNativeMaps] = d.cfg.PathFor(KindNativeMaps)
	d.databaseFiles[KindCollections] = d.cfg.PathFor(KindCollections)
	d.databaseFiles[KindLegacyCollections] = d.cfg.PathFor(KindLegacyCollections)

	// ignore if explicitly disabled
	if d.cfg.LegacyDatabaseEnabled {
		d.databaseFiles[KindLegacyMaps] = d.cfg.PathFor(KindLegacyMaps)
	}

	d.externMtx.Lock()
	queued := append([]string(nil), d.externPathsAsyncCopy...)
	d.externMtx.Unlock()

	seen := map[externalDatabase]bool{}
	for _, path := range queued {
		kind := d.cfg.KindOf(path)
		if kind == KindInvalid {
			d.log.Warnw("invalid external database", "path", path)
			continue
		}
		ext := externalDatabase{kind: kind, path: path}
		if seen[ext] {
			d.log.Debugw("ignored duplicate external database", "path", path)
			continue
		}
		seen[ext] = true
		d.externalDatabases = append(d.externalDatabases, ext)
		d.log.Debugw("external database queued for import", "path", path, "kind", kind)
	}

	for _, path := range d.databaseFiles {
		if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
			d.totalBytes += uint64(fi.Size())
		}
	}
	for _, ext := range d.externalDatabases {
		if fi, err := os.Stat(ext.path); err == nil && fi.Size() > 0 {
			d.totalBytes += uint64(fi.Size())
		}
	}
}

// importDatabase dispatches one sniffed external database to its reader.
func (d *Database) importDatabase(ext externalDatabase) bool {
	switch ext.kind {
	case KindNativeScores:
		d.loadScores(ext.path)
		return true
	case KindImportedScores:
		d.loadImportedScores(ext.path)
		return true
	case KindLegacyScores:
		d.loadLegacyScores(ext.path)
		return true
	case KindCollections:
		return d.loadCollectionFile(ext.path, false)
	case KindLegacyCollections:
		return d.loadCollectionFile(ext.path, true)
	case KindNativeMaps, KindLegacyMaps:
		d.log.Warnw("importing external map databases is not supported", "path", ext.path)
		return false
	default:
		return false
	}
}

// updateProgress publishes the byte-based progress fraction, clamped so the
// UI can distinguish "started" from "finished".
func (d *Database) updateProgress(pos int64) {
	if d.totalBytes == 0 {
		return
	}
	fraction := float64(d.bytesProcessed+uint64(pos)) / float64(d.totalBytes)
	d.loadingProgress.Store(min(max(fraction, 0.01), 0.99))
}

// isLegacyMapsReadable is the cheap check for size and a nonzero version.
func isLegacyMapsReadable(path string) bool {
	if !fileExists(path) {
		return false
	}
	r := bytebuf.NewReader(path)
	if r.TotalSize() == 0 {
		return false
	}
	return r.ReadU32() > 0 && r.Good()
}

func directoryExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
