package bootinfo

// multiboot2.go implements the Multiboot2 tag-walking parser.

import (
	"fmt"

	"github.com/smoynes/aetherkern/internal/addr"
)

const multiboot2HeaderSize = 8 // total_size (u32) + reserved (u32)
const tagHeaderSize = 8        // tag_type (u32) + size (u32)
const minTagSize = 8

// Multiboot2 tag types.
const (
	tagEnd             = 0
	tagCmdLine         = 1
	tagBootLoaderName  = 2
	tagModule          = 3
	tagBasicMemInfo    = 4
	tagBootDev         = 5
	tagMemoryMap       = 6
	tagVBEInfo         = 7
	tagFramebufferInfo = 8
	tagELFSections     = 9
	tagAPMTable        = 10
	tagEFI32SysTable   = 11
	tagEFI64SysTable   = 12
	tagSMBIOSTables    = 13
	tagACPIOldRSDP     = 14
	tagACPINewRSDP     = 15
)

// Multiboot2 memory region types ("types 1-5 map
// directly").
const (
	mbAvailable       = 1
	mbReserved        = 2
	mbAcpiReclaimable = 3
	mbAcpiNvs         = 4
	mbBadMemory       = 5
)

func mbRegionType(t uint32) RegionType {
	switch t {
	case mbAvailable:
		return Available
	case mbAcpiReclaimable:
		return AcpiReclaimable
	case mbAcpiNvs:
		return AcpiNvs
	case mbBadMemory:
		return BadMemory
	case mbReserved:
		return Reserved
	default:
		return Other
	}
}

// parseMultiboot2 probes buf for the Multiboot2 header and, if found, walks
// its tag list. The memory map and module list are stored on bi only when
// it returns nil; the command line, bootloader name, framebuffer, ACPI
// RSDP and SMBIOS pointers are stored as their tags are walked, so they
// can remain set on bi even when it returns an error. Problems inside a
// module, memory-map or framebuffer tag are accumulated via go-multierror
// and logged without aborting the walk; a tag whose declared size
// overruns the buffer ends the walk at that tag.
func (bi *BootInfo) parseMultiboot2(buf []byte) error {
	totalSize, err := le32(buf, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	}

	if totalSize < multiboot2HeaderSize || int(totalSize) > len(buf) {
		return fmt.Errorf("%w: total_size=%#x buf=%d", ErrMalformedHeader, totalSize, len(buf))
	}

	var (
		cursor  = multiboot2HeaderSize
		end     = int(totalSize)
		regions []MemoryMapEntry
		modules []ModuleEntry
		diag    error

		// Loop-bound guard against a malformed table whose tags never
		// terminate: at most total_size/minTagSize steps are possible.
		maxSteps = int(totalSize) / minTagSize
	)

	for step := 0; cursor < end; step++ {
		if step > maxSteps {
			diag = mergeErr(diag, fmt.Errorf("%w: tag walk exceeded bound %d", ErrMalformedHeader, maxSteps))
			break
		}

		if cursor+tagHeaderSize > end {
			diag = mergeErr(diag, fmt.Errorf("%w: tag header overruns buffer at %#x", ErrMalformedHeader, cursor))
			break
		}

		tagType, err := le32(buf, cursor)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		size, err := le32(buf, cursor+4)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		if tagType == tagEnd {
			break
		}

		if size < minTagSize || cursor+int(size) > end {
			diag = mergeErr(diag, fmt.Errorf("%w: tag %d size=%d overruns buffer at %#x", ErrMalformedHeader, tagType, size, cursor))
			break
		}

		payloadStart := cursor + tagHeaderSize
		payloadEnd := cursor + int(size)

		switch tagType {
		case tagCmdLine:
			bi.cmdline = cString(buf[payloadStart:payloadEnd])
		case tagBootLoaderName:
			bi.bootloader = cString(buf[payloadStart:payloadEnd])
		case tagModule:
			mod, err := parseModuleTag(buf, payloadStart, payloadEnd)
			if err != nil {
				diag = mergeErr(diag, err)
			} else {
				modules = append(modules, mod)
			}
		case tagMemoryMap:
			rs, err := parseMemoryMapTag(buf, payloadStart, payloadEnd)
			if err != nil {
				diag = mergeErr(diag, err)
			} else {
				regions = append(regions, rs...)
			}
		case tagFramebufferInfo:
			fb, err := parseFramebufferTag(buf, payloadStart, payloadEnd)
			if err != nil {
				diag = mergeErr(diag, err)
			} else {
				bi.framebuffer = fb
			}
		case tagACPIOldRSDP, tagACPINewRSDP:
			if payloadEnd > payloadStart {
				rsdp := addr.PhysAddr(payloadStart)
				bi.acpiRSDP = &rsdp
			}
		case tagSMBIOSTables:
			if payloadEnd > payloadStart {
				entry := addr.PhysAddr(payloadStart)
				bi.smbios = &entry
			}
		default:
			// Unknown tag types are skipped silently
		}

		cursor = align8(payloadEnd)
	}

	if len(regions) == 0 && diag == nil {
		return fmt.Errorf("%w: no memory map tag found", ErrMalformedHeader)
	}

	bi.regions = regions
	bi.modules = modules

	if diag != nil {
		bi.log.Warn("bootinfo: multiboot2 tag walk recovered from errors", "err", diag)
	}

	return nil
}

func parseModuleTag(buf []byte, start, end int) (ModuleEntry, error) {
	if end-start < 8 {
		return ModuleEntry{}, fmt.Errorf("%w: module tag too short", ErrMalformedHeader)
	}

	modStart, err := le32(buf, start)
	if err != nil {
		return ModuleEntry{}, err
	}

	modEnd, err := le32(buf, start+4)
	if err != nil {
		return ModuleEntry{}, err
	}

	return ModuleEntry{
		Start:   addr.PhysAddr(modStart),
		End:     addr.PhysAddr(modEnd),
		CmdLine: cString(buf[start+8 : end]),
	}, nil
}

// memMapEntrySize is the fixed per-entry size declared by the memory-map
// tag header (base_addr, length, entry_type, reserved = 24 bytes).
const memMapEntrySize = 24

func parseMemoryMapTag(buf []byte, start, end int) ([]MemoryMapEntry, error) {
	if end-start < 8 {
		return nil, fmt.Errorf("%w: memory map tag too short", ErrMalformedHeader)
	}

	entrySize, err := le32(buf, start)
	if err != nil {
		return nil, err
	}

	if entrySize == 0 {
		entrySize = memMapEntrySize
	}

	var (
		regions []MemoryMapEntry
		diag    error
		cursor  = start + 8 // skip entry_size, entry_version
	)

	for cursor+int(entrySize) <= end {
		base, err := le64(buf, cursor)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		length, err := le64(buf, cursor+8)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		typ, err := le32(buf, cursor+16)
		if err != nil {
			diag = mergeErr(diag, err)
			break
		}

		regions = append(regions, MemoryMapEntry{
			PhysStart:  addr.PhysAddr(base),
			Size:       length,
			RegionType: mbRegionType(typ),
		})

		cursor += int(entrySize)
	}

	if diag != nil {
		return regions, diag
	}

	return regions, nil
}

func parseFramebufferTag(buf []byte, start, end int) (*Framebuffer, error) {
	if end-start < 20 {
		return nil, fmt.Errorf("%w: framebuffer tag too short", ErrMalformedHeader)
	}

	fbAddr, err := le64(buf, start)
	if err != nil {
		return nil, err
	}

	pitch, err := le32(buf, start+8)
	if err != nil {
		return nil, err
	}

	width, err := le32(buf, start+12)
	if err != nil {
		return nil, err
	}

	height, err := le32(buf, start+16)
	if err != nil {
		return nil, err
	}

	if end-start < 21 {
		return nil, fmt.Errorf("%w: framebuffer tag missing bpp/type", ErrMalformedHeader)
	}

	bpp := buf[start+20]

	var fbType byte
	if end-start > 21 {
		fbType = buf[start+21]
	}

	format := OtherFormat

	if bpp%8 == 0 {
		switch fbType {
		case 1:
			format = RGB
		case 2:
			format = Indexed
		default:
			format = RGB
		}
	}

	return &Framebuffer{
		Addr:   addr.PhysAddr(fbAddr),
		Size:   uint64(pitch) * uint64(height),
		Width:  width,
		Height: height,
		Pitch:  pitch,
		BPP:    bpp,
		Format: format,
	}, nil
}

// cString trims a byte slice at the first NUL and returns it as a string;
// Multiboot2 command-line and bootloader-name tags are NUL-terminated but
// their declared tag size may include trailing padding.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}
