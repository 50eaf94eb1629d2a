package cpufeature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/aetherkern/internal/cpufeature"
)

type canned struct {
	leaf1ECX uint32
	leaf7EBX uint32
	leaf7ECX uint32
	leaf7EDX uint32
}

func (c canned) CPUID(leaf, _ uint32) (eax, ebx, ecx, edx uint32) {
	switch leaf {
	case 1:
		return 0, 0, c.leaf1ECX, 0
	case 7:
		return 0, c.leaf7EBX, c.leaf7ECX, c.leaf7EDX
	default:
		return 0, 0, 0, 0
	}
}

func TestDetect(t *testing.T) {
	src := canned{
		leaf1ECX: 1<<28 | 1<<27, // AVX + OSXSAVE-supported
		leaf7EBX: 1<<5 | 1<<16,  // AVX2 + AVX512F
		leaf7EDX: 1 << 24,       // AMX-Tile
	}

	fs := cpufeature.Detect(src)

	assert.True(t, fs.AVX)
	assert.True(t, fs.OSXSAVE)
	assert.True(t, fs.AVX2)
	assert.True(t, fs.AVX512F)
	assert.True(t, fs.AMXTile)
	assert.False(t, fs.AMXInt8)
}

type fakeCPUState struct {
	osxsave bool
	writes  []uint64
}

func (f *fakeCPUState) CR4OSXSAVE() bool    { return f.osxsave }
func (f *fakeCPUState) WriteXCR0(mask uint64) { f.writes = append(f.writes, mask) }

func TestEnable_RejectsWhenOSXSAVEUnset(t *testing.T) {
	state := &fakeCPUState{osxsave: false}
	fs := cpufeature.FeatureSet{AVX: true}

	err := cpufeature.Enable(fs, state)
	assert.ErrorIs(t, err, cpufeature.ErrOSXSAVENotSet)
	assert.Empty(t, state.writes)
}

func TestEnable_OrdersAVXBeforeAVX512BeforeAMX(t *testing.T) {
	state := &fakeCPUState{osxsave: true}
	fs := cpufeature.FeatureSet{AVX: true, AVX512F: true, AMXTile: true}

	require.NoError(t, cpufeature.Enable(fs, state))
	require.Len(t, state.writes, 3)

	assert.Less(t, state.writes[0], state.writes[1])
	assert.Less(t, state.writes[1], state.writes[2])
}

func TestEnable_NoFeaturesRequestedWritesNothing(t *testing.T) {
	state := &fakeCPUState{osxsave: false}

	require.NoError(t, cpufeature.Enable(cpufeature.FeatureSet{}, state))
	assert.Empty(t, state.writes)
}
