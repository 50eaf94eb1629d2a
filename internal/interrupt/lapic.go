package interrupt

// lapic.go models the local APIC's MMIO register window: the spurious
// vector register, TPR, LVT masking, and the timer LVT

import "github.com/smoynes/aetherkern/internal/addr"

// MMIO32 is the collaborator a LAPIC reads its register window through: a 4 KiB block of 32-bit registers reached by byte
// offset, standing in for the real uncached MMIO mapping the page-table
// manager installs at kernel-root init.
type MMIO32 interface {
	ReadAt(phys addr.PhysAddr, offset uint32) uint32
	WriteAt(phys addr.PhysAddr, offset uint32, val uint32)
}

// LAPIC register byte offsets within its 4 KiB MMIO window.
const (
	lapicOffsetTPR       = 0x080
	lapicOffsetEOI       = 0x0B0
	lapicOffsetSpurious  = 0x0F0
	lapicOffsetICRLow    = 0x300
	lapicOffsetICRHigh   = 0x310
	lapicOffsetLVTTimer  = 0x320
	lapicOffsetLVTLINT0  = 0x350
	lapicOffsetLVTLINT1  = 0x360
	lapicOffsetLVTError  = 0x370
	lapicOffsetTimerInit = 0x380
	lapicOffsetTimerDiv  = 0x3E0

	lvtMasked       = 1 << 16
	lvtTimerPeriodic = 1 << 17
	spuriousEnable  = 1 << 8
)

// LAPIC is the per-core local APIC, modeled as a register window at a
// fixed physical base (read from IA32_APIC_BASE on real hardware; passed
// in directly here since there is no MSR to read).
type LAPIC struct {
	base addr.PhysAddr
	mmio MMIO32
}

// NewLAPIC performs the local APIC bring-up sequence: spurious vector
// register gets `enable | 0xFF`, TPR is cleared, LINT0/LINT1/error LVTs
// are masked, and the timer LVT is configured for periodic mode at the
// fixed timer vector with the given initial count and divisor.
func NewLAPIC(base addr.PhysAddr, mmio MMIO32, timerInitCount, timerDivisor uint32) *LAPIC {
	l := &LAPIC{base: base, mmio: mmio}

	l.write(lapicOffsetSpurious, spuriousEnable|uint32(VectorSpurious))
	l.write(lapicOffsetTPR, 0)
	l.write(lapicOffsetLVTLINT0, lvtMasked)
	l.write(lapicOffsetLVTLINT1, lvtMasked)
	l.write(lapicOffsetLVTError, lvtMasked)
	l.write(lapicOffsetLVTTimer, lvtTimerPeriodic|uint32(VectorAPICTimer))
	l.write(lapicOffsetTimerDiv, timerDivisor)
	l.write(lapicOffsetTimerInit, timerInitCount)

	return l
}

func (l *LAPIC) write(offset uint32, val uint32) { l.mmio.WriteAt(l.base, offset, val) }
func (l *LAPIC) read(offset uint32) uint32       { return l.mmio.ReadAt(l.base, offset) }

// SendEOI acknowledges the currently in-service APIC-routed interrupt.
func (l *LAPIC) SendEOI() { l.write(lapicOffsetEOI, 0) }

// SendIPI writes the destination and vector into the ICR, the send
// primitive backing both TLB shootdown ( ) and the scheduler's
// send_ipi collaborator surface ( ).
func (l *LAPIC) SendIPI(destAPICID uint32, vector uint8) {
	l.write(lapicOffsetICRHigh, destAPICID<<24)
	l.write(lapicOffsetICRLow, uint32(vector))
}

// TPR returns the current Task Priority Register value.
func (l *LAPIC) TPR() uint32 { return l.read(lapicOffsetTPR) }
