package neodb

// MapOverrides are the per-map adjustments layered on top of read-only
// legacy data: everything the user can edit about an imported map without
// owning its database entry. Keyed by content hash in the override index.
// A BPM of -1 means "not computed yet, recompute on next load".
type MapOverrides struct {
	LocalOffset             int16
	OnlineOffset            int16
	StarRating              float32
	Loudness                float32
	MinBPM                  int32
	MaxBPM                  int32
	AvgBPM                  int32
	DrawBackground          bool
	BackgroundImageFileName string
	PPv2Version             uint32
}

// Overrides snapshots a difficulty's editable fields for the override index.
func (diff *Difficulty) Overrides() MapOverrides {
	return MapOverrides{
		LocalOffset:             diff.LocalOffset,
		OnlineOffset:            diff.OnlineOffset,
		StarRating:              float32(diff.StarsNomod),
		Loudness:                diff.Loudness,
		MinBPM:                  diff.MinBPM,
		MaxBPM:                  diff.MaxBPM,
		AvgBPM:                  diff.MostCommonBPM,
		DrawBackground:          diff.DrawBackground,
		BackgroundImageFileName: diff.BackgroundImageFileName,
		PPv2Version:             diff.PPv2Version,
	}
}

// UpdateOverrides stores the current editable fields of a legacy-imported
// difficulty so they survive the next load of the read-only source database.
func (d *Database) UpdateOverrides(diff *Difficulty) {
	if diff == nil || diff.Origin != OriginLegacy {
		return
	}
	d.overridesMtx.Lock()
	d.overrides[diff.MD5] = diff.Overrides()
	d.overridesMtx.Unlock()
}
