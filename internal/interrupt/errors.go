package interrupt

import "errors"

// Error kinds ("Interrupts: InvalidVector, GateCorruption.
// Policy: invalid vector returns an error; a detected IDT corruption is a
// fatal machine-check-class event.").
var (
	ErrGateAlreadyInstalled = errors.New("interrupt: gate already installed")
	ErrFixedIST             = errors.New("interrupt: fixed IST assignment")
	ErrInvalidVector        = errors.New("interrupt: invalid vector")
	ErrHandlerAlreadyBound  = errors.New("interrupt: handler already bound")
	ErrNoHandler            = errors.New("interrupt: no handler registered")
	ErrGateCorruption       = errors.New("interrupt: IDT gate corruption detected")
	ErrShootdownUnreachable = errors.New("interrupt: target core unreachable")
)
