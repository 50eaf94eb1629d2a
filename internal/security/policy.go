package security

// policy.go is the policy import/export surface: a serializable
// snapshot of every store a Kernel holds, so policy can be provisioned
// at boot and re-applied from a trusted source without reconstructing
// each store by hand.

import (
	"fmt"

	"github.com/pkg/errors"
)

// PolicySnapshot is the exportable/importable state of a Kernel's
// stores, model selector, and system security level.
type PolicySnapshot struct {
	Model       Model
	SystemLevel SystemSecurityLevel
	Domains     map[DomainID]Domain
	Roles       map[RoleID]Role
	ACLs        map[ResourceID]ACL
	Labels      map[ResourceID]Label
}

// ExportPolicy captures the model, system level, domains, roles, ACLs,
// and labels as a snapshot suitable for persistence or transmission to
// another kernel instance. The capability store is not included.
func (k *Kernel) ExportPolicy() PolicySnapshot {
	k.mu.RLock()
	snap := PolicySnapshot{
		Model:       k.model,
		SystemLevel: k.systemLevel,
		Domains:     make(map[DomainID]Domain, len(k.domains)),
	}
	for id, d := range k.domains {
		snap.Domains[id] = d
	}
	k.mu.RUnlock()

	k.roles.mu.RLock()
	snap.Roles = make(map[RoleID]Role, len(k.roles.m))
	for id, r := range k.roles.m {
		snap.Roles[id] = r
	}
	k.roles.mu.RUnlock()

	k.acls.mu.RLock()
	snap.ACLs = make(map[ResourceID]ACL, len(k.acls.m))
	for id, a := range k.acls.m {
		snap.ACLs[id] = a
	}
	k.acls.mu.RUnlock()

	k.labels.mu.RLock()
	snap.Labels = make(map[ResourceID]Label, len(k.labels.m))
	for id, l := range k.labels.m {
		snap.Labels[id] = l
	}
	k.labels.mu.RUnlock()

	return snap
}

// ImportPolicy requires requester to hold SecurityManagement, then
// replaces the label, role, and ACL stores and the domains, model, and
// system level with snap's, taking one lock at a time in that order. The
// capability store and the threat detector are left as they are. A
// snapshot naming a nil map for any field is rejected as
// ErrPolicyMisconfigured, audited at severity 95, rather than silently
// wiping that store.
func (k *Kernel) ImportPolicy(requester Process, snap PolicySnapshot) error {
	if !k.domainGrants(requester.Domain, SecurityManagement) {
		return fmt.Errorf("%w: ImportPolicy requires SecurityManagement", ErrUnknownPrincipal)
	}

	if snap.Domains == nil || snap.Roles == nil || snap.ACLs == nil || snap.Labels == nil {
		k.audit.Record(AuditRecord{
			Type:     "policy_import_rejected",
			Severity: 95,
			Detail:   map[string]string{"reason": "snapshot has unset store"},
		})

		return errors.WithStack(ErrPolicyMisconfigured)
	}

	k.labels.mu.Lock()
	k.labels.m = copyLabelMap(snap.Labels)
	k.labels.mu.Unlock()

	k.roles.mu.Lock()
	k.roles.m = copyRoleMap(snap.Roles)
	k.roles.mu.Unlock()

	k.acls.mu.Lock()
	k.acls.m = copyACLMap(snap.ACLs)
	k.acls.mu.Unlock()

	k.mu.Lock()
	k.model = snap.Model
	k.systemLevel = snap.SystemLevel
	k.domains = copyDomainMap(snap.Domains)
	k.mu.Unlock()

	k.audit.Record(AuditRecord{Type: "policy_imported", Severity: 90})

	return nil
}

func copyLabelMap(m map[ResourceID]Label) map[ResourceID]Label {
	out := make(map[ResourceID]Label, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func copyRoleMap(m map[RoleID]Role) map[RoleID]Role {
	out := make(map[RoleID]Role, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func copyACLMap(m map[ResourceID]ACL) map[ResourceID]ACL {
	out := make(map[ResourceID]ACL, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func copyDomainMap(m map[DomainID]Domain) map[DomainID]Domain {
	out := make(map[DomainID]Domain, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
