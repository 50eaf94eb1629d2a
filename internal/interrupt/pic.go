package interrupt

// pic.go models the legacy 8259A PIC pair: the ICW1-ICW4 initialization
// sequence, IRQ masking, EOI, and the ISR read used to diagnose a
// spurious interrupt.

import "sync"

// PortIO is the collaborator the PIC (and, indirectly, anything else that
// speaks to legacy I/O ports) goes through instead of real IN/OUT
// instructions.
type PortIO interface {
	OutB(port uint16, val uint8)
	InB(port uint16) uint8
}

// Legacy 8259 I/O ports and initialization command words.
const (
	portPIC1Command = 0x20
	portPIC1Data    = 0x21
	portPIC2Command = 0xA0
	portPIC2Data    = 0xA1
	portDelay       = 0x80 // write-only "slow the bus down" port

	icw1Init   = 0x11 // ICW1: edge-triggered, cascade, ICW4 needed
	icw4Mode86 = 0x01
	ocwReadISR = 0x0B // OCW3: next read of the command port returns ISR
	eoiCommand = 0x20
)

// PIC models the cascaded master/slave 8259A pair after remapping.
type PIC struct {
	mu   sync.Mutex
	io   PortIO
	base uint8 // vector base the master PIC was remapped to (0x20)

	masterMask uint8
	slaveMask  uint8
}

// NewPIC runs the ICW1-ICW4 sequence, remapping the master to vectorBase
// (32 ) and the slave to vectorBase+8, then masks every
// IRQ: the caller unmasks only the lines the kernel currently routes.
func NewPIC(io PortIO, vectorBase uint8) *PIC {
	p := &PIC{io: io, base: vectorBase, masterMask: 0xFF, slaveMask: 0xFF}

	io.OutB(portPIC1Command, icw1Init)
	io.OutB(portDelay, 0)
	io.OutB(portPIC2Command, icw1Init)
	io.OutB(portDelay, 0)

	io.OutB(portPIC1Data, vectorBase)
	io.OutB(portDelay, 0)
	io.OutB(portPIC2Data, vectorBase+8)
	io.OutB(portDelay, 0)

	io.OutB(portPIC1Data, 4) // ICW3: slave attached on master's IRQ2
	io.OutB(portDelay, 0)
	io.OutB(portPIC2Data, 2) // ICW3: slave's cascade identity
	io.OutB(portDelay, 0)

	io.OutB(portPIC1Data, icw4Mode86)
	io.OutB(portDelay, 0)
	io.OutB(portPIC2Data, icw4Mode86)
	io.OutB(portDelay, 0)

	io.OutB(portPIC1Data, p.masterMask)
	io.OutB(portPIC2Data, p.slaveMask)

	return p
}

// SetMask enables (unmasked = false) or disables (masked = true) a single
// legacy IRQ line, 0-15.
func (p *PIC) SetMask(irq uint8, masked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if irq < 8 {
		if masked {
			p.masterMask |= 1 << irq
		} else {
			p.masterMask &^= 1 << irq
		}

		p.io.OutB(portPIC1Data, p.masterMask)

		return
	}

	bit := irq - 8
	if masked {
		p.slaveMask |= 1 << bit
	} else {
		p.slaveMask &^= 1 << bit
	}

	p.io.OutB(portPIC2Data, p.slaveMask)
}

// isr reads the in-service register of the given PIC (master=0, slave=1).
func (p *PIC) isr(slave bool) uint8 {
	cmd := uint16(portPIC1Command)
	if slave {
		cmd = portPIC2Command
	}

	p.io.OutB(cmd, ocwReadISR)

	return p.io.InB(cmd)
}

// IsSpurious reports whether irq (7 or 15) is currently spurious: its
// owning PIC's ISR bit is clear even though the CPU was signalled.
func (p *PIC) IsSpurious(irq uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch irq {
	case 7:
		return p.isr(false)&(1<<7) == 0
	case 15:
		return p.isr(true)&(1<<7) == 0
	default:
		return false
	}
}

// SendEOI acknowledges irq: for a slave IRQ (8-15) it writes EOI to the
// slave and then the master, for a master IRQ only to the master. This
// method does not itself check IsSpurious — the handler dispatch path
// checks first and skips calling SendEOI entirely when IRQ 7 or IRQ 15
// is spurious.
func (p *PIC) SendEOI(irq uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if irq >= 8 {
		p.io.OutB(portPIC2Command, eoiCommand)
	}

	p.io.OutB(portPIC1Command, eoiCommand)
}
