package neodb

import (
	"strings"

	"github.com/neomodnet/neodb/bytebuf"
)

// ModFlags selects gameplay modifiers. Combined with the continuous overrides
// in Mods it produces an effective ruleset for a play.
type ModFlags uint64

const (
	ModNoFail ModFlags = 1 << iota
	ModEasy
	ModTouchDevice
	ModHidden
	ModHardRock
	ModSuddenDeath
	ModRelax
	ModFlashlight
	ModSpunOut
	ModAutopilot
	ModPerfect
	ModNightcore
	ModTarget
	ModScoreV2

	// experimental mods, imported from legacy score databases
	ModFPoSuStrafing
	ModWobble1
	ModWobble2
	ModARWobble
	ModTimewarp
	ModARTimewarp
	ModMinimize
	ModFadingCursor
	ModFPS
	ModJigsaw1
	ModJigsaw2
	ModFullAlternate
	ModReverseSliders
	ModNo50s
	ModNo100s
	ModMing3012
	ModHalfWindow
	ModMillhioref
	ModMafham
	ModStrictTracking
	ModMirrorHorizontal
	ModMirrorVertical
	ModShirone
	ModApproachDifferent
)

// Mods is the full ruleset a score was set with: the flag bitset plus the
// continuous overrides. Override fields use -1 for "not overridden"; Speed is
// always > 0 (1 = normal).
type Mods struct {
	Flags      ModFlags
	Speed      float32
	AROverride float32
	CSOverride float32
	ODOverride float32
	HPOverride float32
}

// DefaultMods returns a nomod ruleset.
func DefaultMods() Mods {
	return Mods{Speed: 1, AROverride: -1, CSOverride: -1, ODOverride: -1, HPOverride: -1}
}

func (m Mods) Has(f ModFlags) bool { return m.Flags&f == f }

// packMods emits a Mods block: flag word, speed, then the four overrides.
func packMods(w *bytebuf.Writer, m Mods) {
	w.WriteU64(uint64(m.Flags))
	w.WriteF32(m.Speed)
	w.WriteF32(m.AROverride)
	w.WriteF32(m.CSOverride)
	w.WriteF32(m.ODOverride)
	w.WriteF32(m.HPOverride)
}

// unpackMods reads a Mods block written by packMods. Speed is clamped back to
// 1 if the stored value is unusable.
func unpackMods(r *bytebuf.Reader) Mods {
	var m Mods
	m.Flags = ModFlags(r.ReadU64())
	m.Speed = r.ReadF32()
	m.AROverride = r.ReadF32()
	m.CSOverride = r.ReadF32()
	m.ODOverride = r.ReadF32()
	m.HPOverride = r.ReadF32()
	if !(m.Speed > 0) {
		m.Speed = 1
	}
	return m
}

// LegacyFlags is the packed mod word of the legacy score formats.
type LegacyFlags uint32

const (
	LegacyNoFail      LegacyFlags = 1
	LegacyEasy        LegacyFlags = 2
	LegacyTouchDevice LegacyFlags = 4
	LegacyHidden      LegacyFlags = 8
	LegacyHardRock    LegacyFlags = 16
	LegacySuddenDeath LegacyFlags = 32
	LegacyDoubleTime  LegacyFlags = 64
	LegacyRelax       LegacyFlags = 128
	LegacyHalfTime    LegacyFlags = 256
	LegacyNightcore   LegacyFlags = 512
	LegacyFlashlight  LegacyFlags = 1024
	LegacyAutoplay    LegacyFlags = 2048
	LegacySpunOut     LegacyFlags = 4096
	LegacyAutopilot   LegacyFlags = 8192
	LegacyPerfect     LegacyFlags = 16384
	LegacyTarget      LegacyFlags = 8388608
	LegacyScoreV2     LegacyFlags = 536870912
)

// legacyFlagTable maps each legacy bit onto the engine's own flag.
var legacyFlagTable = []struct {
	legacy LegacyFlags
	flag   ModFlags
}{
	{LegacyNoFail, ModNoFail},
	{LegacyEasy, ModEasy},
	{LegacyTouchDevice, ModTouchDevice},
	{LegacyHidden, ModHidden},
	{LegacyHardRock, ModHardRock},
	{LegacySuddenDeath, ModSuddenDeath},
	{LegacyRelax, ModRelax},
	{LegacyNightcore, ModNightcore},
	{LegacyFlashlight, ModFlashlight},
	{LegacySpunOut, ModSpunOut},
	{LegacyAutopilot, ModAutopilot},
	{LegacyPerfect, ModPerfect},
	{LegacyTarget, ModTarget},
	{LegacyScoreV2, ModScoreV2},
}

// ModsFromLegacy converts a legacy flag word. Double time and half time have
// no flag equivalent here; they become the continuous speed multiplier.
// Nightcore keeps its flag and also sets the speed multiplier.
func ModsFromLegacy(l LegacyFlags) Mods {
	m := DefaultMods()
	for _, e := range legacyFlagTable {
		if l&e.legacy != 0 {
			m.Flags |= e.flag
		}
	}
	switch {
	case l&(LegacyDoubleTime|LegacyNightcore) != 0:
		m.Speed = 1.5
	case l&LegacyHalfTime != 0:
		m.Speed = 0.75
	}
	return m
}

// experimentalModTable is part of the on-disk contract of the imported score
// format: the "experimental mods" field is a semicolon-separated list of
// these exact setting names. Do not rename entries.
var experimentalModTable = []struct {
	name string
	flag ModFlags
}{
	{"fposu_mod_strafing", ModFPoSuStrafing},
	{"osu_mod_wobble", ModWobble1},
	{"osu_mod_wobble2", ModWobble2},
	{"osu_mod_arwobble", ModARWobble},
	{"osu_mod_timewarp", ModTimewarp},
	{"osu_mod_artimewarp", ModARTimewarp},
	{"osu_mod_minimize", ModMinimize},
	{"osu_mod_fadingcursor", ModFadingCursor},
	{"osu_mod_fps", ModFPS},
	{"osu_mod_jigsaw1", ModJigsaw1},
	{"osu_mod_jigsaw2", ModJigsaw2},
	{"osu_mod_fullalternate", ModFullAlternate},
	{"osu_mod_reverse_sliders", ModReverseSliders},
	{"osu_mod_no50s", ModNo50s},
	{"osu_mod_no100s", ModNo100s},
	{"osu_mod_ming3012", ModMing3012},
	{"osu_mod_halfwindow", ModHalfWindow},
	{"osu_mod_millhioref", ModMillhioref},
	{"osu_mod_mafham", ModMafham},
	{"osu_mod_strict_tracking", ModStrictTracking},
	{"osu_playfield_mirror_horizontal", ModMirrorHorizontal},
	{"osu_playfield_mirror_vertical", ModMirrorVertical},
	{"osu_mod_shirone", ModShirone},
	{"osu_mod_approach_different", ModApproachDifferent},
	{"osu_mod_no_spinners", ModSpunOut},
}

// applyExperimentalMods folds a semicolon-separated experimental-mods string
// into the flag bitset. Unknown names are ignored.
func applyExperimentalMods(m *Mods, list string) {
	for _, name := range strings.Split(list, ";") {
		if name == "" {
			continue
		}
		for _, e := range experimentalModTable {
			if e.name == name {
				m.Flags |= e.flag
				break
			}
		}
	}
}
