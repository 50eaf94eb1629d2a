package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestKernel(t *testing.T, clock Clock) *Kernel {
	t.Helper()

	audit := NewAuditRing(0, nil, nil, clock)
	threat := NewThreatDetector(clock, audit)
	k := NewKernel(threat, audit, clock)

	k.AddDomain(Domain{
		ID: "ops",
		AllowedPrivileges: map[Privilege]bool{
			FileSystemAccess: true,
			NetworkAccess:    true,
		},
	})

	k.roles.Set(Role{ID: "reader", Privileges: map[Privilege]bool{FileSystemAccess: true}})

	return k
}

func baseProcess() Process {
	return Process{
		ID:     "proc-1",
		Domain: "ops",
		Label:  Label{Conf: 3, Integ: 3, Compartments: map[string]bool{}, Categories: map[string]bool{}},
		Roles:  []RoleID{"reader"},
	}
}

func baseResource() Resource {
	return Resource{
		ID:    "res-1",
		Label: Label{Conf: 3, Integ: 3, Compartments: map[string]bool{}, Categories: map[string]bool{}},
		ACL: ACL{Entries: []ACE{
			{Effect: Allow, Principal: "proc-1", Permissions: map[Permission]bool{"read": true, "write": true}},
		}},
	}
}

// scenario 4: MAC denies a read when the process's confidentiality level
// is below the resource's, with the literal Japanese reason string.
func TestVerifyAccess_MACDenyInsufficientConfidentiality(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	proc := baseProcess()
	proc.Label.Conf = 1

	res := baseResource()
	res.Label.Conf = 5

	dec := k.VerifyAccess(AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: "read",
		Privilege:  FileSystemAccess,
	})

	require.False(t, dec.Allowed)
	require.Equal(t, "mac", dec.Step)
	require.Equal(t, ReasonInsufficientConfidentiality, dec.Reason)
}

// scenario 5: a capability matches the target and permission, then later
// is presented again past its expiry and is denied.
func TestVerifyAccess_CapabilityMatchThenExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	proc := baseProcess()
	res := baseResource()

	grant := &Capability{
		ID:         "cap-1",
		Target:     "res-1",
		AllowedOps: map[Permission]bool{"read": true},
		ExpiresAt:  clock.Now().Add(time.Minute),
	}

	req := AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: "read",
		Privilege:  FileSystemAccess,
		Model:      CapabilityBased,
		Capability: grant,
	}

	dec := k.VerifyAccess(req)
	require.True(t, dec.Allowed)

	clock.advance(2 * time.Minute)

	dec = k.VerifyAccess(req)
	require.False(t, dec.Allowed)
	require.Equal(t, "capability", dec.Step)
	require.ErrorIs(t, dec.Err, ErrExpiredCapability)
}

// scenario 6: threat level decays from High one step after 15 minutes.
func TestVerifyAccess_ThreatDecayGatesSensitivePrivilege(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	k.domains["ops"] = Domain{
		ID: "ops",
		AllowedPrivileges: map[Privilege]bool{
			SecurityManagement: true,
		},
	}
	k.roles.Set(Role{ID: "reader", Privileges: map[Privilege]bool{SecurityManagement: true}})

	k.threat.SetLevel(ThreatHigh)

	proc := baseProcess()
	res := baseResource()

	dec := k.VerifyAccess(AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: "read",
		Privilege:  SecurityManagement,
	})
	require.False(t, dec.Allowed)
	require.Equal(t, "threat_gate", dec.Step)

	clock.advance(15*time.Minute + time.Second)

	dec = k.VerifyAccess(AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: "read",
		Privilege:  SecurityManagement,
	})
	require.True(t, dec.Allowed)
}

// boundary: an explicit deny ACE wins even when an allow ACE also matches.
func TestVerifyAccess_ACLDenyDominatesAllow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	proc := baseProcess()
	res := baseResource()
	res.ACL.Entries = append(res.ACL.Entries, ACE{
		Effect:      Deny,
		Principal:   "proc-1",
		Permissions: map[Permission]bool{"read": true},
	})

	dec := k.VerifyAccess(AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: "read",
		Privilege:  FileSystemAccess,
	})

	require.False(t, dec.Allowed)
	require.Equal(t, "acl", dec.Step)
	require.Equal(t, ReasonACLExplicitDeny, dec.Reason)
}

// boundary: at SystemMaximum, a trust score below 80 denies before any
// other check runs.
func TestVerifyAccess_ZeroTrustGateBelowThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)
	k.SetSystemLevel(SystemMaximum)
	k.SetTrustScorer(func(Process, map[string]string) int { return 10 })

	dec := k.VerifyAccess(AccessRequest{
		Process:    baseProcess(),
		Resource:   baseResource(),
		Permission: "read",
		Privilege:  FileSystemAccess,
	})

	require.False(t, dec.Allowed)
	require.Equal(t, "zero_trust", dec.Step)
}

func TestVerifyAccess_AllowPathAudited(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	dec := k.VerifyAccess(AccessRequest{
		Process:    baseProcess(),
		Resource:   baseResource(),
		Permission: "read",
		Privilege:  FileSystemAccess,
	})

	require.True(t, dec.Allowed)

	snap := k.audit.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 20, snap[0].Severity)
}

func TestKernel_SetModelRequiresPrivilegeAndAudits(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	k := newTestKernel(t, clock)

	unprivileged := baseProcess()
	err := k.SetModel(unprivileged, Mandatory)
	require.Error(t, err)

	k.domains["ops"] = Domain{
		ID:                "ops",
		AllowedPrivileges: map[Privilege]bool{SecurityManagement: true},
	}

	admin := baseProcess()
	err = k.SetModel(admin, Mandatory)
	require.NoError(t, err)

	snap := k.audit.Snapshot()
	require.NotEmpty(t, snap)
	require.Equal(t, 90, snap[len(snap)-1].Severity)
}
