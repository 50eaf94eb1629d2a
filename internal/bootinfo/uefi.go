package bootinfo

// uefi.go parses a bespoke UefiBootParams structure, a stand-in for a
// real UEFI-to-kernel handoff block.

import (
	"fmt"

	"github.com/smoynes/aetherkern/internal/addr"
)

// UefiBootParams field offsets. Layout:
//
//	magic            u32  @ 0
//	systemTable       u64  @ 8  (8-byte aligned after magic+pad)
//	memoryMapPtr      u64  @ 16
//	memoryMapSize     u64  @ 24
//	descriptorStride  u64  @ 32
//	acpiRSDP          u64  @ 40
//	fbAddr            u64  @ 48
//	fbPitch           u32  @ 56
//	fbWidth           u32  @ 60
//	fbHeight          u32  @ 64
//	fbBPP             u32  @ 68
//	fbFormat          u32  @ 72
//	cmdlinePtr        u64  @ 80
//	cmdlineLen        u64  @ 88
const (
	uefiOffMagic      = 0
	uefiOffSysTable   = 8
	uefiOffMMapPtr    = 16
	uefiOffMMapSize   = 24
	uefiOffMMapStride = 32
	uefiOffRSDP       = 40
	uefiOffFBAddr     = 48
	uefiOffFBPitch    = 56
	uefiOffFBWidth    = 60
	uefiOffFBHeight   = 64
	uefiOffFBBPP      = 68
	uefiOffFBFormat   = 72
	uefiOffCmdPtr     = 80
	uefiOffCmdLen     = 88
	uefiHeaderSize    = 96
)

// EFI memory descriptor types.
const (
	efiReserved            = 0
	efiLoaderCode          = 1
	efiLoaderData          = 2
	efiBootServicesCode    = 3
	efiBootServicesData    = 4
	efiRuntimeServicesCode = 5
	efiRuntimeServicesData = 6
	efiConventionalMemory  = 7
	efiUnusable            = 8
	efiAcpiReclaimMemory   = 9
	efiAcpiNvsMemory       = 10
	efiMmioRegion          = 11
	efiMmioPortSpace       = 12
)

// efiRegionType maps a UEFI memory descriptor type to the unified
// RegionType enumeration.
func efiRegionType(t uint32) RegionType {
	switch t {
	case efiConventionalMemory, efiBootServicesCode, efiBootServicesData:
		return Available
	case efiAcpiReclaimMemory:
		return AcpiReclaimable
	case efiAcpiNvsMemory:
		return AcpiNvs
	case efiUnusable:
		return BadMemory
	case efiLoaderCode, efiLoaderData:
		return BootloaderReserved
	case efiRuntimeServicesCode, efiRuntimeServicesData, efiMmioRegion, efiMmioPortSpace:
		return Reserved
	default:
		return Reserved
	}
}

// efiMemoryDescriptorSize is the fixed portion of an EFI_MEMORY_DESCRIPTOR
// this parser reads: Type, pad, PhysicalStart, VirtualStart, NumberOfPages,
// Attribute (we only need Type, PhysicalStart, NumberOfPages).
const efiMemoryDescriptorSize = 40
const efiPageSize = 4096

// parseUefi probes buf for the UEFI sentinel magic and, on success, reads
// the fixed-layout UefiBootParams structure and walks the firmware-supplied
// EFI memory map.
func (bi *BootInfo) parseUefi(buf []byte) error {
	magic, err := le32(buf, uefiOffMagic)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}

	if magic != uefiMagic {
		return fmt.Errorf("%w: bad uefi magic %#x", ErrUnsupportedProtocol, magic)
	}

	if len(buf) < uefiHeaderSize {
		return fmt.Errorf("%w: uefi header truncated", ErrTruncated)
	}

	mmapPtr, err := le64(buf, uefiOffMMapPtr)
	if err != nil {
		return err
	}

	mmapSize, err := le64(buf, uefiOffMMapSize)
	if err != nil {
		return err
	}

	stride, err := le64(buf, uefiOffMMapStride)
	if err != nil {
		return err
	}

	if stride == 0 {
		stride = efiMemoryDescriptorSize
	}

	rsdp, err := le64(buf, uefiOffRSDP)
	if err != nil {
		return err
	}

	if rsdp != 0 {
		a := addr.PhysAddr(rsdp)
		bi.acpiRSDP = &a
	}

	cmdPtr, err := le64(buf, uefiOffCmdPtr)
	if err != nil {
		return err
	}

	cmdLen, err := le64(buf, uefiOffCmdLen)
	if err != nil {
		return err
	}

	bi.cmdline = readStringAt(buf, int(cmdPtr), int(cmdLen))
	bi.bootloader = "UEFI"

	regions, diag := parseEfiMemoryMap(buf, int(mmapPtr), int(mmapSize), int(stride))
	bi.regions = regions

	if diag != nil {
		bi.log.Warn("bootinfo: uefi memory map walk recovered from errors", "err", diag)
	}

	bi.framebuffer = parseUefiFramebuffer(buf)

	return nil
}

// readStringAt reads a length-prefixed string from an offset that, in this
// in-memory simulation, is relative to the start of buf (a real handoff
// would dereference a raw pointer; here the "pointer" is just an index into
// the same buffer standing in for physical memory).
func readStringAt(buf []byte, off, length int) string {
	if off < 0 || length < 0 || off+length > len(buf) {
		return ""
	}

	return cString(buf[off : off+length])
}

func parseEfiMemoryMap(buf []byte, off, size, stride int) ([]MemoryMapEntry, error) {
	if stride <= 0 || off < 0 || size < 0 || off+size > len(buf) {
		return nil, fmt.Errorf("%w: efi memory map out of range", ErrMalformedHeader)
	}

	var (
		regions []MemoryMapEntry
		diag    error
	)

	for cursor := off; cursor+efiMemoryDescriptorSize <= off+size; cursor += stride {
		typ, err := le32(buf, cursor)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		physStart, err := le64(buf, cursor+8)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		numPages, err := le64(buf, cursor+24)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		regions = append(regions, MemoryMapEntry{
			PhysStart:  addr.PhysAddr(physStart),
			Size:       numPages * efiPageSize,
			RegionType: efiRegionType(typ),
		})
	}

	return regions, diag
}

func parseUefiFramebuffer(buf []byte) *Framebuffer {
	fbAddr, err := le64(buf, uefiOffFBAddr)
	if err != nil || fbAddr == 0 {
		return nil
	}

	pitch, _ := le32(buf, uefiOffFBPitch)
	width, _ := le32(buf, uefiOffFBWidth)
	height, _ := le32(buf, uefiOffFBHeight)
	bpp, _ := le32(buf, uefiOffFBBPP)
	format, _ := le32(buf, uefiOffFBFormat)

	pf := OtherFormat

	if bpp%8 == 0 {
		switch format {
		case 0:
			pf = RGB
		case 1:
			pf = BGR
		default:
			pf = OtherFormat
		}
	}

	return &Framebuffer{
		Addr:   addr.PhysAddr(fbAddr),
		Size:   uint64(pitch) * uint64(height),
		Width:  width,
		Height: height,
		Pitch:  pitch,
		BPP:    uint8(bpp),
		Format: pf,
	}
}
