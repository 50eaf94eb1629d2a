// Package cpufeature models CPUID-based feature detection and the
// AVX/AVX-512/AMX enable sequence described in SPEC_FULL.md §4.5: CR4.OSXSAVE
// must be set before any XCR0 write, and the three extended-state groups are
// enabled in a fixed order.
package cpufeature

import "golang.org/x/sys/cpu"

// CPUIDSource issues a CPUID instruction for (leaf, subleaf) and returns the
// four result registers. A real kernel backs this with the actual
// instruction; tests back it with a table of canned responses.
type CPUIDSource interface {
	CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
}

// Bit positions this package reads out of CPUID leaves 1 and 7, named after
// the Intel SDM's own field names.
const (
	leaf1ECXAVX     = 1 << 28
	leaf1ECXOSXSAVE = 1 << 27

	leaf7EBXAVX2    = 1 << 5
	leaf7EBXAVX512F = 1 << 16
	leaf7ECXAMXBF16 = 1 << 22
	leaf7EDXAMXTile = 1 << 24
	leaf7EDXAMXInt8 = 1 << 25
)

// FeatureSet is the subset of extended CPU state this kernel cares about
// enabling: AVX, AVX2, AVX-512 Foundation, and the three AMX extensions.
type FeatureSet struct {
	AVX     bool
	AVX2    bool
	AVX512F bool
	AMXTile bool
	AMXInt8 bool
	AMXBF16 bool

	// OSXSAVE reports whether the CPU *supports* XSAVE/XGETBV (leaf 1, ECX
	// bit 27) — not whether CR4.OSXSAVE has been *set*, which is a
	// separate, software-controlled bit checked by Enable via CPUState.
	OSXSAVE bool
}

// Detect queries src for leaves 1 and 7 and returns the feature set they
// describe.
func Detect(src CPUIDSource) FeatureSet {
	_, _, ecx1, _ := src.CPUID(1, 0)
	_, ebx7, ecx7, edx7 := src.CPUID(7, 0)

	return FeatureSet{
		AVX:     ecx1&leaf1ECXAVX != 0,
		OSXSAVE: ecx1&leaf1ECXOSXSAVE != 0,
		AVX2:    ebx7&leaf7EBXAVX2 != 0,
		AVX512F: ebx7&leaf7EBXAVX512F != 0,
		AMXBF16: ecx7&leaf7ECXAMXBF16 != 0,
		AMXTile: edx7&leaf7EDXAMXTile != 0,
		AMXInt8: edx7&leaf7EDXAMXInt8 != 0,
	}
}

// HostDetect reports the feature set the Go runtime's own startup-time
// CPUID probe observed on the machine actually running this process,
// via golang.org/x/sys/cpu. It has no bearing on the modeled kernel's
// boot sequence (Detect/Enable over a CPUIDSource/CPUState pair do that);
// it exists for host-side tooling that reports what the build machine
// supports. Nothing in this module calls it.
func HostDetect() FeatureSet {
	return FeatureSet{
		AVX:     cpu.X86.HasAVX,
		AVX2:    cpu.X86.HasAVX2,
		AVX512F: cpu.X86.HasAVX512F,
		OSXSAVE: cpu.X86.HasAVX, // x/sys/cpu does not expose OSXSAVE directly; AVX implies it.
	}
}
