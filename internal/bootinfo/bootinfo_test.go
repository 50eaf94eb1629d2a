package bootinfo_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/aetherkern/internal/bootinfo"
)

// buildMultiboot2 assembles a Multiboot2 buffer from a command-line tag, a
// two-region memory map tag, and an end tag.
func buildMultiboot2(t *testing.T) []byte {
	t.Helper()

	var buf []byte

	putU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	putU64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	align8 := func() {
		for len(buf)%8 != 0 {
			buf = append(buf, 0)
		}
	}

	// Header: total_size, reserved -- patched after building the body.
	putU32(0)
	putU32(0)

	// Command-line tag {type=1, size=19, "boot quiet\0"}: 8-byte header plus
	// the 11-byte NUL-terminated string.
	cmdStart := len(buf)
	putU32(1)
	putU32(8 + 11)
	buf = append(buf, []byte("boot quiet\x00")...)
	align8()
	_ = cmdStart

	// Memory-map tag: header + entry_size + entry_version + two 24-byte
	// entries.
	mmStart := len(buf)
	putU32(6)
	mmSizeOff := len(buf)
	putU32(0) // size, patched below
	putU32(24)
	putU32(0)
	putU64(0)
	putU64(0x9FC00)
	putU32(1)
	putU32(0)
	putU64(0x100000)
	putU64(0x3EF00000)
	putU32(1)
	putU32(0)

	mmSize := uint32(len(buf) - mmStart)
	binary.LittleEndian.PutUint32(buf[mmSizeOff:], mmSize)
	align8()

	// End tag {0, 8}.
	putU32(0)
	putU32(8)

	binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)))

	return buf
}

func TestBootInfo_Multiboot2Sample(t *testing.T) {
	buf := buildMultiboot2(t)

	bi := bootinfo.Init(buf)
	require.Equal(t, bootinfo.Multiboot2Protocol, bi.ProtocolType())

	cmdline, ok := bi.CommandLine()
	require.True(t, ok)
	assert.Equal(t, "boot quiet", cmdline)

	it := bi.MemoryMap()

	e1, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(0), uint64(e1.PhysStart))
	assert.Equal(t, uint64(0x9FC00), e1.Size)
	assert.Equal(t, bootinfo.Available, e1.RegionType)

	e2, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(0x100000), uint64(e2.PhysStart))
	assert.Equal(t, uint64(0x3EF00000), e2.Size)
	assert.Equal(t, bootinfo.Available, e2.RegionType)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestBootInfo_TruncatedTagDoesNotCrash(t *testing.T) {
	buf := buildMultiboot2(t)

	// Corrupt the memory-map tag's declared size to overrun the buffer.
	// Locate the tag type==6 and bump its size field wildly.
	for i := 0; i+8 <= len(buf); i += 4 {
		if binary.LittleEndian.Uint32(buf[i:]) == 6 {
			binary.LittleEndian.PutUint32(buf[i+4:], 0xFFFFFF)
			break
		}
	}

	require.NotPanics(t, func() {
		bi := bootinfo.Init(buf)
		_ = bi
	})
}

func TestBootInfo_UnrecognizedBufferFallsBackToUnknown(t *testing.T) {
	buf := make([]byte, 64)

	bi := bootinfo.Init(buf)
	assert.Equal(t, bootinfo.Unknown, bi.ProtocolType())

	it := bi.MemoryMap()
	e, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, bootinfo.Available, e.RegionType)
}

func TestFramebuffer_PixelOffset(t *testing.T) {
	fb := bootinfo.Framebuffer{Pitch: 4096, BPP: 32, Format: bootinfo.RGB}

	off, err := fb.PixelOffset(10, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2*4096+10*4), off)

	bad := bootinfo.Framebuffer{BPP: 15, Format: bootinfo.OtherFormat}
	_, err = bad.PixelOffset(0, 0)
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	toks := bootinfo.Tokenize(`quiet security.level="high mode" -log.level=debug`)
	assert.Equal(t, []string{"quiet", "security.level=high mode", "-log.level=debug"}, toks)
}
