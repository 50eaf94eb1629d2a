package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKernel_ExportImportPolicyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)
	k.domains["ops"] = Domain{ID: "ops", AllowedPrivileges: map[Privilege]bool{SecurityManagement: true, FileSystemAccess: true}}

	admin := baseProcess()

	snap := k.ExportPolicy()
	require.Contains(t, snap.Domains, DomainID("ops"))
	require.Contains(t, snap.Roles, RoleID("reader"))

	snap.Model = Mandatory

	err := k.ImportPolicy(admin, snap)
	require.NoError(t, err)

	k.mu.RLock()
	model := k.model
	k.mu.RUnlock()
	require.Equal(t, Mandatory, model)
}

func TestKernel_ImportPolicyRejectsNilStore(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)
	k.domains["ops"] = Domain{ID: "ops", AllowedPrivileges: map[Privilege]bool{SecurityManagement: true}}

	admin := baseProcess()

	err := k.ImportPolicy(admin, PolicySnapshot{})
	require.ErrorIs(t, err, ErrPolicyMisconfigured)

	snap := k.audit.Snapshot()
	require.Equal(t, 95, snap[len(snap)-1].Severity)
}

func TestKernel_ImportPolicyRequiresPrivilege(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	unprivileged := baseProcess()
	err := k.ImportPolicy(unprivileged, k.ExportPolicy())
	require.Error(t, err)
}

type fakeTranslator struct{ m map[uint64]uint64 }

func (f fakeTranslator) Translate(virt uint64) (uint64, bool) {
	phys, ok := f.m[virt]
	return phys, ok
}

type fakeMemory struct{ pages map[uint64][]byte }

func (f fakeMemory) ReadPhys(phys uint64, length int) ([]byte, error) {
	data := f.pages[phys]
	out := make([]byte, length)
	copy(out, data)

	return out, nil
}

func TestIntegrityMonitor_DetectsTamper(t *testing.T) {
	translator := fakeTranslator{m: map[uint64]uint64{0x1000: 0x2000}}
	mem := fakeMemory{pages: map[uint64][]byte{0x2000: []byte("kernel text bytes here!")}}

	mon := NewIntegrityMonitor(translator, mem, SHA256, func(algo HashAlgorithm, data []byte) []byte {
		ck := NewCryptoKernel(NewKeyStore(), NewRNG(nil, nil))
		return ck.Hash(algo, data)
	})

	require.NoError(t, mon.Enroll(MonitoredRegion{Name: "text", Virt: 0x1000, Length: 24}))
	require.Empty(t, mon.Check())

	mem.pages[0x2000] = []byte("TAMPERED kernel bytes!!!")

	violations := mon.Check()
	require.Len(t, violations, 1)
	require.Equal(t, "text", violations[0].Region)
	require.Equal(t, 1, mon.TamperCount())
}
