package kernel

import (
	"testing"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/security"
	"github.com/stretchr/testify/require"
)

func TestNew_AssemblesEverySubsystem(t *testing.T) {
	k, err := New(nil)
	require.NoError(t, err)

	require.NotNil(t, k.Boot)
	require.NotNil(t, k.Paging)
	require.NotNil(t, k.IDT)
	require.NotNil(t, k.PIC)
	require.NotNil(t, k.LAPIC)
	require.NotNil(t, k.IOAPIC)
	require.NotNil(t, k.Vectors)
	require.NotNil(t, k.Security)
	require.NotNil(t, k.Crypto)
	require.NotNil(t, k.Integrity)
}

func TestNew_KernelCodeRegionTranslates(t *testing.T) {
	k, err := New(nil)
	require.NoError(t, err)

	phys, ok := k.Paging.Translate(addr.VirtAddr(0xFFFF_8080_0000_0000))
	require.True(t, ok)
	require.Equal(t, addr.PhysAddr(0x0010_0000), phys)
}

func TestNew_SecurityKernelVerifiesAccess(t *testing.T) {
	k, err := New(nil)
	require.NoError(t, err)

	k.Security.AddDomain(security.Domain{
		ID:                "ops",
		AllowedPrivileges: map[security.Privilege]bool{security.FileSystemAccess: true},
	})

	k.Security.AddRole(security.Role{
		ID:         "reader",
		Privileges: map[security.Privilege]bool{security.FileSystemAccess: true},
	})

	proc := security.Process{
		ID:     "p1",
		Domain: "ops",
		Roles:  []security.RoleID{"reader"},
		Label:  security.Label{Conf: 1, Integ: 1, Compartments: map[string]bool{}, Categories: map[string]bool{}},
	}

	res := security.Resource{
		ID:    "r1",
		Label: security.Label{Conf: 1, Integ: 1, Compartments: map[string]bool{}, Categories: map[string]bool{}},
		ACL: security.ACL{Entries: []security.ACE{
			{Effect: security.Allow, Principal: "p1", Permissions: map[security.Permission]bool{"read": true}},
		}},
	}

	dec := k.Security.VerifyAccess(security.AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: "read",
		Privilege:  security.FileSystemAccess,
	})

	require.True(t, dec.Allowed)
}

func TestNew_CryptoKernelEncryptsAndDecrypts(t *testing.T) {
	k, err := New(nil)
	require.NoError(t, err)

	_, err = k.Crypto.GenerateSymmetricKey("boot-key", security.ChaCha20Poly1305)
	require.NoError(t, err)

	sealed, err := k.Crypto.Encrypt("boot-key", nil, []byte("hello kernel"))
	require.NoError(t, err)

	opened, err := k.Crypto.Decrypt("boot-key", nil, sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("hello kernel"), opened)
}
