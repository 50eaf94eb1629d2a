package cpufeature

// enable.go sequences the XCR0 writes that turn on extended processor
// state, per SPEC_FULL.md §4.5: CR4.OSXSAVE must already be set, and the
// three groups are always written in the order AVX, then AVX-512, then
// AMX, regardless of which subset is actually requested.

// XCR0 bit positions, per the Intel SDM's XSAVE feature table.
const (
	xcr0X87     = 1 << 0
	xcr0SSE     = 1 << 1
	xcr0AVX     = 1 << 2
	xcr0Opmask  = 1 << 5
	xcr0ZMMHi256 = 1 << 6
	xcr0Hi16ZMM = 1 << 7
	xcr0TileCfg = 1 << 17
	xcr0TileData = 1 << 18
)

// CPUState is the collaborator Enable mutates: it reports whether
// CR4.OSXSAVE is currently set and records every XCR0 write attempted,
// letting a test assert both the guard and the write ordering without a
// real CPU.
type CPUState interface {
	CR4OSXSAVE() bool
	WriteXCR0(mask uint64)
}

// Enable writes XCR0 to turn on every extended-state group named in fs,
// in the fixed order `enable_avx → enable_avx512 → enable_amx`. It
// returns ErrOSXSAVENotSet, without writing anything, if fs requests any
// extended state and state.CR4OSXSAVE() is false.
func Enable(fs FeatureSet, state CPUState) error {
	wantsAny := fs.AVX || fs.AVX2 || fs.AVX512F || fs.AMXTile || fs.AMXInt8 || fs.AMXBF16

	if wantsAny && !state.CR4OSXSAVE() {
		return ErrOSXSAVENotSet
	}

	mask := uint64(xcr0X87 | xcr0SSE | xcr0AVX)

	if fs.AVX || fs.AVX2 {
		state.WriteXCR0(mask)
	}

	if fs.AVX512F {
		mask |= xcr0Opmask | xcr0ZMMHi256 | xcr0Hi16ZMM
		state.WriteXCR0(mask)
	}

	if fs.AMXTile || fs.AMXInt8 || fs.AMXBF16 {
		mask |= xcr0TileCfg | xcr0TileData
		state.WriteXCR0(mask)
	}

	return nil
}
