package neodb

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/samber/lo"
)

// rawTickBudget bounds how long one Update call may spend scanning folders,
// so the scan never stalls a frame.
const rawTickBudget = 33 * time.Millisecond

// scheduleRawLoad discovers the songs-folder entries to scan. On anything but
// the first load only the set-difference against already-scanned folders is
// processed, so rescans pick up new folders without touching existing
// entries.
func (d *Database) scheduleRawLoad() {
	folder := d.cfg.ResolvedSongsFolder()
	folders := listSubfolders(folder)

	d.rawLoadSongFolder = folder
	d.rawLoadFolders = folders
	d.numBeatmapsToLoad = len(folders)

	if d.deltaLoad {
		// only load the differences
		toLoad, _ := lo.Difference(d.rawLoadFolders, d.rawLoadedFolders)
		d.rawLoadFolders = toLoad
		d.numBeatmapsToLoad = len(toLoad)

		d.log.Infow("incremental rescan", "new", d.numBeatmapsToLoad)

		d.rawFoundChanges.Store(d.numBeatmapsToLoad > 0)
		if d.numBeatmapsToLoad > 0 {
			plural := "s"
			if d.numBeatmapsToLoad == 1 {
				plural = ""
			}
			d.notifier.AddNotification(fmt.Sprintf("Adding %d new beatmap%s.", d.numBeatmapsToLoad, plural))
		} else {
			d.notifier.AddNotification("No new beatmaps detected.")
		}
	}

	d.log.Infow("building beatmap database from raw folders",
		"folder", folder, "count", len(d.rawLoadFolders))

	if len(d.rawLoadFolders) > 0 {
		d.loadingProgress.Store(0)
		d.curRawLoadIdx = 0
		d.importStarted = time.Now()
		d.rawLoadScheduled.Store(true)
	} else {
		d.loadingProgress.Store(1)
	}
}

// Update drives the raw folder scanner. Called once per application tick on
// the main thread; processes as many folders as fit in the frame budget,
// checking cancellation between folders.
func (d *Database) Update() {
	if !d.rawLoadScheduled.Load() {
		return
	}

	deadline := time.Now().Add(rawTickBudget)
	for time.Now().Before(deadline) {
		if d.loadInterrupted.Load() {
			d.rawLoadScheduled.Store(false)
			d.loadingProgress.Store(1)
			break
		}

		if d.curRawLoadIdx < len(d.rawLoadFolders) {
			name := d.rawLoadFolders[d.curRawLoadIdx]
			d.curRawLoadIdx++
			// remembered so future rescans only process new folders
			d.rawLoadedFolders = append(d.rawLoadedFolders, name)

			d.AddBeatmapSet(d.rawLoadSongFolder+name+"/", -1, OriginLegacy)
		}

		if d.numBeatmapsToLoad > 0 {
			d.loadingProgress.Store(float64(d.curRawLoadIdx) / float64(d.numBeatmapsToLoad))
		}

		if d.curRawLoadIdx >= d.numBeatmapsToLoad || d.curRawLoadIdx >= len(d.rawLoadFolders) {
			d.rawLoadFolders = nil
			d.rawLoadScheduled.Store(false)

			d.log.Infow("raw refresh finished",
				"sets", len(d.beatmapSets), "elapsed", time.Since(d.importStarted))

			d.loadCollections()

			// legacy charts store an unconfirmed rating as a negative
			// value; flip them so they display until recomputed
			for _, set := range d.beatmapSets {
				for _, diff := range set.Difficulties {
					if diff.StarsNomod <= 0 {
						diff.StarsNomod = -diff.StarsNomod
					}
				}
			}

			d.loadingProgress.Store(1)
			break
		}
	}
}

// saveReplayBlob compresses and writes one replay next to the databases.
// Runs on the worker pool.
func (d *Database) saveReplayBlob(timestamp uint64, replay []byte) {
	if len(replay) == 0 {
		return
	}

	blob, err := compressReplay(replay)
	if err != nil {
		d.log.Warnw("replay compression failed", "error", err)
		return
	}

	dir := d.cfg.ReplaysDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.log.Warnw("could not create replays directory", "dir", dir, "error", err)
		return
	}

	path := fmt.Sprintf("%s/%d.replay.zst", dir, timestamp)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		d.log.Warnw("failed to save replay", "path", path, "error", err)
		return
	}
	d.log.Debugw("replay saved", "path", path)
}

func listSubfolders(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}
