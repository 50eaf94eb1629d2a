package interrupt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/aetherkern/internal/interrupt"
	"github.com/smoynes/aetherkern/internal/sysid"
)

type fakePortIO struct {
	outs []struct {
		port uint16
		val  uint8
	}
	isrMaster uint8
	isrSlave  uint8
}

func (f *fakePortIO) OutB(port uint16, val uint8) {
	f.outs = append(f.outs, struct {
		port uint16
		val  uint8
	}{port, val})
}

func (f *fakePortIO) InB(port uint16) uint8 {
	switch port {
	case 0x20:
		return f.isrMaster
	case 0xA0:
		return f.isrSlave
	default:
		return 0
	}
}

type fakeClock struct{ tick uint64 }

func (c *fakeClock) ReadTSC() uint64 {
	c.tick++
	return c.tick * 100
}

type fakeFlags struct{ ifSet bool }

func (f *fakeFlags) SetIF(enabled bool) { f.ifSet = enabled }
func (f *fakeFlags) IF() bool           { return f.ifSet }

type fakeIPI struct{ sent []uint8 }

func (f *fakeIPI) SendIPI(_ sysid.CoreID, vector uint8) error {
	f.sent = append(f.sent, vector)
	return nil
}

func newRegistry(t *testing.T) (*interrupt.Registry, *fakePortIO, *fakeClock, *fakeFlags) {
	t.Helper()

	io := &fakePortIO{}
	pic := interrupt.NewPIC(io, interrupt.VectorLegacyIRQBase)
	idt := interrupt.NewIDT()
	clock := &fakeClock{}
	flags := &fakeFlags{}

	reg := interrupt.NewRegistry(idt, pic, nil, clock, flags, &fakeIPI{})

	return reg, io, clock, flags
}

func TestRegistry_DispatchUpdatesStats(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	invoked := 0
	vector := uint8(interrupt.VectorLegacyIRQBase + 1)

	require.NoError(t, reg.Register(vector, 0xDEAD, 0x08, 0, func(uint8) { invoked++ }, false))
	require.NoError(t, reg.Dispatch(vector))
	require.NoError(t, reg.Dispatch(vector))

	assert.Equal(t, 2, invoked)

	stats, ok := reg.Stats(vector)
	require.True(t, ok)
	assert.Equal(t, uint64(2), stats.Invocations)
	assert.NotZero(t, stats.LastLatencyNS)
}

func TestRegistry_DispatchUnregisteredVectorErrors(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	err := reg.Dispatch(100)
	assert.ErrorIs(t, err, interrupt.ErrNoHandler)
}

// Boundary: spurious IRQ on master PIC vector 0x27 (IRQ 7) does not send
// EOI
func TestRegistry_SpuriousMasterIRQSkipsEOI(t *testing.T) {
	reg, io, _, _ := newRegistry(t)

	io.isrMaster = 0 // ISR bit 7 clear: spurious

	vector := uint8(0x27) // IRQ 7
	require.NoError(t, reg.Register(vector, 0xBEEF, 0x08, 0, func(uint8) {}, false))

	before := len(io.outs)
	require.NoError(t, reg.Dispatch(vector))

	for _, o := range io.outs[before:] {
		sentEOI := o.port == 0x20 && o.val == 0x20
		assert.False(t, sentEOI, "must not issue EOI to master PIC for a spurious IRQ 7")
	}
}

func TestRegistry_NonSpuriousLegacyIRQSendsEOI(t *testing.T) {
	reg, io, _, _ := newRegistry(t)

	io.isrMaster = 1 << 7 // ISR bit 7 set: genuinely in service

	vector := uint8(0x27)
	require.NoError(t, reg.Register(vector, 0xBEEF, 0x08, 0, func(uint8) {}, false))

	before := len(io.outs)
	require.NoError(t, reg.Dispatch(vector))

	sawEOI := false

	for _, o := range io.outs[before:] {
		if o.port == 0x20 && o.val == 0x20 {
			sawEOI = true
		}
	}

	assert.True(t, sawEOI)
}

// Idempotence: enable_interrupts() twice leaves IF set and the tracking
// flag true; disable_interrupts() twice leaves IF clear.
func TestRegistry_EnableDisableIdempotent(t *testing.T) {
	reg, _, _, flags := newRegistry(t)

	reg.EnableInterrupts()
	reg.EnableInterrupts()
	assert.True(t, flags.IF())
	assert.True(t, reg.Enabled())

	reg.DisableInterrupts()
	reg.DisableInterrupts()
	assert.False(t, flags.IF())
	assert.False(t, reg.Enabled())
}

func TestRegistry_WithoutInterruptsRestoresPriorState(t *testing.T) {
	reg, _, _, flags := newRegistry(t)

	reg.EnableInterrupts()

	ran := false
	reg.WithoutInterrupts(func() {
		ran = true
		assert.False(t, flags.IF())
	})

	assert.True(t, ran)
	assert.True(t, flags.IF())
}

func TestRegistry_WithoutInterruptsRestoresOnPanic(t *testing.T) {
	reg, _, _, flags := newRegistry(t)

	reg.EnableInterrupts()

	func() {
		defer func() { _ = recover() }()

		reg.WithoutInterrupts(func() {
			panic("boom")
		})
	}()

	assert.True(t, flags.IF())
}

func TestRegistry_RegisterRejectsDuplicateWithoutReplace(t *testing.T) {
	reg, _, _, _ := newRegistry(t)

	vector := uint8(0x30)
	require.NoError(t, reg.Register(vector, 0x1000, 0x08, 0, func(uint8) {}, false))

	err := reg.Register(vector, 0x2000, 0x08, 0, func(uint8) {}, false)
	assert.ErrorIs(t, err, interrupt.ErrHandlerAlreadyBound)
}
