package neodb

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// BeatmapOrigin tags where a set or difficulty was mastered.
type BeatmapOrigin uint8

const (
	OriginNative BeatmapOrigin = iota
	OriginLegacy
)

// Difficulty is one playable chart. Difficulties are owned exclusively by
// their BeatmapSet; the hash index holds non-owning pointers. The parent set
// is reached through SetID, never a back-pointer.
type Difficulty struct {
	FilePath   string // full path of the .osu file
	FolderPath string

	MD5   MD5Hash
	ID    int32 // -1 when unknown
	SetID int32 // -1 when unknown

	Title           string
	TitleUnicode    string
	Artist          string
	ArtistUnicode   string
	Creator         string
	DifficultyName  string
	Source          string
	Tags            string
	AudioFileName   string
	BackgroundImageFileName string

	LengthMS             int32
	PreviewTime          uint32
	LastModificationTime int64 // unix seconds

	StackLeniency    float32
	AR, CS, HP, OD   float32
	SliderMultiplier float64

	NumCircles  uint16
	NumSliders  uint16
	NumSpinners uint16

	MinBPM        int32
	MaxBPM        int32
	MostCommonBPM int32

	StarsNomod float64
	Loudness   float32 // 0 = not computed yet

	LocalOffset    int16
	OnlineOffset   int16
	DrawBackground bool
	PPv2Version    uint32

	Origin BeatmapOrigin

	// starRatings points into the star-rating table; linked at publish time.
	starRatings *StarGrid
}

// BeatmapSet groups the difficulties of one song. It owns its difficulties.
type BeatmapSet struct {
	SetID        int32
	Folder       string
	Difficulties []*Difficulty
	Origin       BeatmapOrigin
}

// timingPoint is the legacy timing-point record used for BPM estimation.
type timingPoint struct {
	msPerBeat   float64
	offset      float64
	uninherited bool
}

// legacyTimingPointSize is the stored size of one timing point in the legacy
// map database.
const legacyTimingPointSize = 17

// nativeTimingPointSize is the stored size of one timing point in
// pre-20240812 native map files; consumed but never parsed.
const nativeTimingPointSize = 19

// bpmInfo is the (min, max, most common) BPM triple computed from timing
// points. -1 means unknown.
type bpmInfo struct {
	min, max, mostCommon int32
}

func unknownBPM() bpmInfo { return bpmInfo{min: -1, max: -1, mostCommon: -1} }

// calculateBPM estimates the BPM triple from uninherited timing points. The
// most common BPM is the one active for the longest stretch, measured to the
// next uninherited point (the last one extends to the map end, approximated
// by the final point's offset).
func calculateBPM(points []timingPoint) bpmInfo {
	info := unknownBPM()

	type span struct {
		bpm      int32
		duration float64
	}
	var spans []span
	var lastOffset float64
	for _, p := range points {
		if p.offset > lastOffset {
			lastOffset = p.offset
		}
	}

	for i, p := range points {
		if !p.uninherited || p.msPerBeat <= 0 {
			continue
		}
		bpm := int32(60000.0/p.msPerBeat + 0.5)
		if info.min == -1 || bpm < info.min {
			info.min = bpm
		}
		if info.max == -1 || bpm > info.max {
			info.max = bpm
		}

		end := lastOffset
		for j := i + 1; j < len(points); j++ {
			if points[j].uninherited {
				end = points[j].offset
				break
			}
		}
		spans = append(spans, span{bpm: bpm, duration: end - p.offset})
	}

	if len(spans) == 0 {
		return info
	}

	byBPM := map[int32]float64{}
	for _, s := range spans {
		byBPM[s.bpm] += s.duration
	}
	best := spans[0].bpm
	for bpm, dur := range byBPM {
		if dur > byBPM[best] || (dur == byBPM[best] && bpm < best) {
			best = bpm
		}
	}
	info.mostCommon = best
	return info
}

// loadDifficultyMetadata parses the metadata sections of a single .osu file.
// Gameplay data (hit objects, timing) is deliberately not parsed; raw-loaded
// difficulties get their counts and BPM filled by later recomputation.
func loadDifficultyMetadata(osuPath, folderPath string, origin BeatmapOrigin) (*Difficulty, error) {
	f, err := os.Open(osuPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	diff := &Difficulty{
		FilePath:       osuPath,
		FolderPath:     folderPath,
		ID:             -1,
		SetID:          -1,
		MinBPM:         -1,
		MaxBPM:         -1,
		MostCommonBPM:  -1,
		DrawBackground: true,
		Origin:         origin,
	}

	section := ""
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			section = line
			if section == "[TimingPoints]" || section == "[HitObjects]" {
				// metadata-only parse
				break
			}
			continue
		}

		switch section {
		case "[General]":
			if key, val, ok := splitKeyValue(line); ok {
				switch key {
				case "AudioFilename":
					diff.AudioFileName = val
				case "PreviewTime":
					if v, err := strconv.ParseInt(val, 10, 64); err == nil && v > 0 {
						diff.PreviewTime = uint32(v)
					}
				case "StackLeniency":
					if v, err := strconv.ParseFloat(val, 32); err == nil {
						diff.StackLeniency = float32(v)
					}
				}
			}
		case "[Metadata]":
			if key, val, ok := splitKeyValue(line); ok {
				switch key {
				case "Title":
					diff.Title = val
				case "TitleUnicode":
					diff.TitleUnicode = val
				case "Artist":
					diff.Artist = val
				case "ArtistUnicode":
					diff.ArtistUnicode = val
				case "Creator":
					diff.Creator = val
				case "Version":
					diff.DifficultyName = val
				case "Source":
					diff.Source = val
				case "Tags":
					diff.Tags = val
				case "BeatmapID":
					if v, err := strconv.ParseInt(val, 10, 32); err == nil {
						diff.ID = int32(v)
					}
				case "BeatmapSetID":
					if v, err := strconv.ParseInt(val, 10, 32); err == nil {
						diff.SetID = int32(v)
					}
				}
			}
		case "[Difficulty]":
			if key, val, ok := splitKeyValue(line); ok {
				v, err := strconv.ParseFloat(val, 64)
				if err != nil {
					continue
				}
				switch key {
				case "ApproachRate":
					diff.AR = float32(v)
				case "CircleSize":
					diff.CS = float32(v)
				case "HPDrainRate":
					diff.HP = float32(v)
				case "OverallDifficulty":
					diff.OD = float32(v)
				case "SliderMultiplier":
					diff.SliderMultiplier = v
				}
			}
		case "[Events]":
			// background line: 0,0,"bg.jpg",0,0
			if diff.BackgroundImageFileName == "" && (strings.HasPrefix(line, "0,0,") || strings.HasPrefix(line, "Background,")) {
				parts := strings.SplitN(line, ",", 4)
				if len(parts) >= 3 {
					diff.BackgroundImageFileName = strings.Trim(parts[2], "\"")
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if diff.Title == "" && diff.Artist == "" && diff.Creator == "" && diff.DifficultyName == "" {
		return nil, ErrCorruptEntry
	}

	if h, err := HashFile(osuPath); err == nil {
		diff.MD5 = h
	}
	if fi, err := os.Stat(osuPath); err == nil {
		diff.LastModificationTime = fi.ModTime().Unix()
	}

	return diff, nil
}

func splitKeyValue(line string) (key, val string, ok bool) {
	key, val, ok = strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(val), true
}

// loadRawBeatmapSet reads every .osu file in folder into a fresh set. The set
// id is taken from the first difficulty that knows it.
func loadRawBeatmapSet(folder string, origin BeatmapOrigin, log interface {
	Debugw(msg string, kv ...any)
}) (*BeatmapSet, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".osu") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	set := &BeatmapSet{SetID: -1, Folder: folder, Origin: origin}
	var lastErr error
	for _, name := range names {
		diff, err := loadDifficultyMetadata(filepath.Join(folder, name), folder, origin)
		if err != nil {
			lastErr = err
			if log != nil {
				log.Debugw("could not load difficulty metadata", "file", name, "error", err)
			}
			continue
		}
		set.Difficulties = append(set.Difficulties, diff)
	}

	if len(set.Difficulties) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrEmptyFolder
	}

	for _, diff := range set.Difficulties {
		if diff.SetID > 0 {
			set.SetID = diff.SetID
			break
		}
	}
	for _, diff := range set.Difficulties {
		diff.SetID = set.SetID
	}

	return set, nil
}
