// Package bootinfo unifies Multiboot2 and UEFI firmware handoff behind a
// single contract: a command line, a bootloader name, an optional ACPI RSDP
// and SMBIOS entry point, an optional framebuffer description, and a lazy
// memory-map iterator.
//
// This package simulates a firmware handoff rather than twiddling real
// wires: Init is handed a byte buffer standing in for the physical page
// the bootloader left behind, rather than a raw pointer into kernel
// address space.
package bootinfo

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/log"
)

// ProtocolType discriminates the bootloader handoff protocol.
type ProtocolType int

const (
	Unknown ProtocolType = iota
	Multiboot2Protocol
	UefiProtocol
)

func (p ProtocolType) String() string {
	switch p {
	case Multiboot2Protocol:
		return "multiboot2"
	case UefiProtocol:
		return "uefi"
	default:
		return "unknown"
	}
}

// RegionType is the closed enumeration of memory-map region kinds.
type RegionType int

const (
	Available RegionType = iota
	AcpiReclaimable
	AcpiNvs
	Reserved
	BadMemory
	BootloaderReserved
	KernelAndModules
	Framebuffer
	Other
)

func (r RegionType) String() string {
	switch r {
	case Available:
		return "Available"
	case AcpiReclaimable:
		return "AcpiReclaimable"
	case AcpiNvs:
		return "AcpiNvs"
	case Reserved:
		return "Reserved"
	case BadMemory:
		return "BadMemory"
	case BootloaderReserved:
		return "BootloaderReserved"
	case KernelAndModules:
		return "KernelAndModules"
	case Framebuffer:
		return "Framebuffer"
	default:
		return "Other"
	}
}

// MemoryMapEntry is one non-overlapping region of the physical address
// space.
type MemoryMapEntry struct {
	PhysStart  addr.PhysAddr
	Size       uint64
	RegionType RegionType
}

// ModuleEntry describes a bootloader-loaded module (e.g. an initrd),
// restored from the Multiboot2 "Modules" tag (type 3).
type ModuleEntry struct {
	Start   addr.PhysAddr
	End     addr.PhysAddr
	CmdLine string
}

// PixelFormat is the normalized framebuffer pixel layout.
type PixelFormat int

const (
	RGB PixelFormat = iota
	BGR
	Indexed
	OtherFormat
)

// Framebuffer is the normalized framebuffer description, unified across
// Multiboot2 RGB masks and UEFI GOP pixel formats.
type Framebuffer struct {
	Addr   addr.PhysAddr
	Size   uint64
	Width  uint32
	Height uint32
	Pitch  uint32
	BPP    uint8
	Format PixelFormat
}

// PixelOffset returns the byte offset of pixel (x, y) within the
// framebuffer. It is only meaningful when BPP is a multiple of 8; callers
// must check Format != OtherFormat first, since non-byte-aligned pixel
// formats are represented as OtherFormat and have no well-defined offset.
func (fb Framebuffer) PixelOffset(x, y uint32) (uint64, error) {
	if fb.BPP%8 != 0 {
		return 0, fmt.Errorf("bootinfo: non-byte-aligned pixel format: bpp=%d", fb.BPP)
	}

	return uint64(y)*uint64(fb.Pitch) + uint64(x)*uint64(fb.BPP/8), nil
}

// Errors returned while parsing boot information.
var (
	ErrMalformedHeader     = errors.New("bootinfo: malformed header")
	ErrUnsupportedProtocol = errors.New("bootinfo: unsupported protocol")
	ErrTruncated           = errors.New("bootinfo: truncated buffer")
)

// Uefi sentinel magic
const uefiMagic = 0xE1F5A9B3

// BootInfo is the unified contract exposed to the rest of the kernel,
// regardless of which firmware protocol produced it.
type BootInfo struct {
	protocol    ProtocolType
	cmdline     string
	bootloader  string
	acpiRSDP    *addr.PhysAddr
	smbios      *addr.PhysAddr
	framebuffer *Framebuffer
	regions     []MemoryMapEntry
	modules     []ModuleEntry

	log *log.Logger
}

// Option configures Init.
type Option func(*BootInfo)

// WithLogger overrides the logger used while parsing.
func WithLogger(l *log.Logger) Option {
	return func(bi *BootInfo) { bi.log = l }
}

// Init probes buf for a Multiboot2 header, then a UEFI sentinel, and
// finally collapses to Unknown. It never panics: a malformed or truncated
// buffer degrades to an Unknown BootInfo so the kernel can proceed with a
// minimal built-in memory assumption
func Init(buf []byte, opts ...Option) *BootInfo {
	bi := &BootInfo{protocol: Unknown, log: log.DefaultLogger()}

	for _, opt := range opts {
		opt(bi)
	}

	if err := bi.parseMultiboot2(buf); err == nil {
		bi.protocol = Multiboot2Protocol
		return bi
	} else {
		bi.log.Debug("bootinfo: not multiboot2", "err", err)
	}

	if err := bi.parseUefi(buf); err == nil {
		bi.protocol = UefiProtocol
		return bi
	} else {
		bi.log.Debug("bootinfo: not uefi", "err", err)
	}

	bi.log.Warn("bootinfo: unrecognized handoff, falling back to built-in memory map")
	bi.protocol = Unknown
	bi.regions = builtinMemoryMap()

	return bi
}

// builtinMemoryMap is the minimal assumption the kernel proceeds with when
// the handoff buffer cannot be parsed: one Available region below 1 MiB,
// mirroring real-mode conventional memory.
func builtinMemoryMap() []MemoryMapEntry {
	return []MemoryMapEntry{
		{PhysStart: 0, Size: 0x9FC00, RegionType: Available},
	}
}

// ProtocolType returns which handoff protocol produced this BootInfo.
func (bi *BootInfo) ProtocolType() ProtocolType { return bi.protocol }

// CommandLine returns the kernel command line, if one was supplied.
func (bi *BootInfo) CommandLine() (string, bool) {
	if bi.cmdline == "" {
		return "", false
	}

	return bi.cmdline, true
}

// BootloaderName returns the bootloader's self-reported name, if any.
func (bi *BootInfo) BootloaderName() (string, bool) {
	if bi.bootloader == "" {
		return "", false
	}

	return bi.bootloader, true
}

// AcpiRSDP returns the physical address of the ACPI RSDP, if present.
func (bi *BootInfo) AcpiRSDP() *addr.PhysAddr { return bi.acpiRSDP }

// SmbiosEntry returns the physical address of the SMBIOS entry point, if
// present.
func (bi *BootInfo) SmbiosEntry() *addr.PhysAddr { return bi.smbios }

// FramebufferInfo returns the normalized framebuffer description, if the
// firmware handed one over.
func (bi *BootInfo) FramebufferInfo() *Framebuffer { return bi.framebuffer }

// Modules returns the bootloader-loaded modules (e.g. an initrd).
func (bi *BootInfo) Modules() []ModuleEntry { return bi.modules }

// MemoryMap returns a fresh iterator over the memory-map regions. Regions
// are guaranteed non-overlapping; their ordering by PhysStart is not
// guaranteed.
func (bi *BootInfo) MemoryMap() *MemoryMapIterator {
	return &MemoryMapIterator{entries: bi.regions}
}

// MemoryMapIterator is an explicit, stateful lazy sequence over memory-map
// entries: no coroutine runtime, just a cursor object with a Next method.
type MemoryMapIterator struct {
	entries []MemoryMapEntry
	pos     int
}

// Next advances the iterator and returns the next entry, or false when the
// sequence is exhausted.
func (it *MemoryMapIterator) Next() (MemoryMapEntry, bool) {
	if it.pos >= len(it.entries) {
		return MemoryMapEntry{}, false
	}

	e := it.entries[it.pos]
	it.pos++

	return e, true
}

// le32/le64 read little-endian integers from a byte slice, returning an
// error instead of panicking when the read would overrun buf.
func le32(buf []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(buf) {
		return 0, fmt.Errorf("%w: u32 at %#x", ErrTruncated, off)
	}

	return binary.LittleEndian.Uint32(buf[off:]), nil
}

func le64(buf []byte, off int) (uint64, error) {
	if off < 0 || off+8 > len(buf) {
		return 0, fmt.Errorf("%w: u64 at %#x", ErrTruncated, off)
	}

	return binary.LittleEndian.Uint64(buf[off:]), nil
}

// align8 advances a tag-walk cursor to the next 8-byte boundary, per the
// Multiboot2 "(size + 7) & ~7" rule.
func align8(n int) int {
	return (n + 7) &^ 7
}

// mergeErr accumulates non-fatal diagnostics using go-multierror, so a tag
// walk that survives several recoverable problems can still report all of
// them, not just the first encountered.
func mergeErr(existing error, err error) error {
	return multierror.Append(existing, err)
}
