package addr_test

import (
	"errors"
	"testing"

	"github.com/smoynes/aetherkern/internal/addr"
)

func TestVirtAddr_Validate(t *testing.T) {
	cases := []struct {
		name string
		v    addr.VirtAddr
		err  error
	}{
		{"zero", 0, nil},
		{"low canonical", 0x0000_7FFF_FFFF_FFFF, nil},
		{"high canonical", 0xFFFF_8000_0000_0000, nil},
		{"low non-canonical", 0x0000_8000_0000_0000, addr.ErrNonCanonical},
		{"high non-canonical", 0xFFFF_0000_0000_0000, addr.ErrNonCanonical},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.v.Validate()
			if !errors.Is(err, c.err) {
				t.Fatalf("Validate() = %v, want %v", err, c.err)
			}
		})
	}
}

func TestPhysAddr_Validate(t *testing.T) {
	max := addr.PhysAddr(addr.PhysMax)
	if err := max.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	over := addr.PhysAddr(addr.PhysMax + 1)
	if err := over.Validate(); !errors.Is(err, addr.ErrOutOfRange) {
		t.Fatalf("Validate() = %v, want %v", err, addr.ErrOutOfRange)
	}
}

func TestVirtAddr_Index(t *testing.T) {
	v := addr.VirtAddr(0x0000_00C0_0000_1000)

	if got := v.Index(4); got != 1 {
		t.Errorf("pml4 index = %d, want 1", got)
	}

	if got := v.Index(1); got != 1 {
		t.Errorf("pt index = %d, want 1", got)
	}
}

func TestVirtAddr_AlignedTo(t *testing.T) {
	v := addr.VirtAddr(0x0000_0000_C000_0000)
	if !v.AlignedTo(1 << 30) {
		t.Error("expected 1GiB alignment")
	}

	v += 0x1000
	if v.AlignedTo(1 << 21) {
		t.Error("did not expect 2MiB alignment")
	}
}
