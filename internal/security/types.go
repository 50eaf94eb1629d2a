// Package security implements a hybrid access-control evaluator,
// condition-language predicate engine, two-phase threat detector,
// cryptographic key custody, and bounded audit ring.
package security

import "time"

// Privilege is one of the coarse-grained capabilities a domain or role
// may grant.
type Privilege int

const (
	FileSystemAccess Privilege = iota
	NetworkAccess
	ProcessManagement
	SecurityManagement
	KernelAccess
	HardwareAccess
)

func (p Privilege) String() string {
	switch p {
	case FileSystemAccess:
		return "FileSystemAccess"
	case NetworkAccess:
		return "NetworkAccess"
	case ProcessManagement:
		return "ProcessManagement"
	case SecurityManagement:
		return "SecurityManagement"
	case KernelAccess:
		return "KernelAccess"
	case HardwareAccess:
		return "HardwareAccess"
	default:
		return "Unknown"
	}
}

// sensitivePrivileges is the set gated by the threat-level check, step 7
// of the hybrid pipeline.
var sensitivePrivileges = map[Privilege]bool{
	SecurityManagement: true,
	KernelAccess:        true,
	HardwareAccess:      true,
}

// Model is the access-control model selector. Changing it requires
// SecurityManagement and is audited at severity 90 — enforced by
// Kernel.SetModel.
type Model int

const (
	Discretionary Model = iota
	Mandatory
	RoleBased
	AttributeBased
	CapabilityBased
	Hybrid
)

// SystemSecurityLevel gates the zero-trust pre-check: only at Maximum does
// step 1 of the hybrid pipeline compute and threshold a trust score.
type SystemSecurityLevel int

const (
	SystemNormal SystemSecurityLevel = iota
	SystemElevated
	SystemHigh
	SystemMaximum
)

// Permission is a fine-grained operation on a resource, e.g. "read" or
// "write".
type Permission string

// DomainID names a security domain.
type DomainID string

// Domain is a named bundle of allowed privileges with an optional parent
// for ancestry union's privilege check.
type Domain struct {
	ID                DomainID
	Parent            DomainID
	AllowedPrivileges map[Privilege]bool
}

// Label is the Bell-LaPadula/Biba MAC label: confidentiality and
// integrity levels plus compartment/category sets.
type Label struct {
	Conf         int
	Integ        int
	Compartments map[string]bool
	Categories   map[string]bool
}

// supersetOf reports whether l's compartments and categories are supersets
// of other's: the "process's must be a superset of the resource's" rule
// applied during the MAC check.
func (l Label) supersetOf(other Label) bool {
	for c := range other.Compartments {
		if !l.Compartments[c] {
			return false
		}
	}

	for c := range other.Categories {
		if !l.Categories[c] {
			return false
		}
	}

	return true
}

// RoleID names a role.
type RoleID string

// Role is a named privilege bundle with parent roles for DAG traversal,
// represented as a flat id-keyed map rather than a pointer graph, so a
// cyclic reference between roles is just a cycle in roleGrants's
// visited-set walk instead of a shared-ownership problem.
type Role struct {
	ID         RoleID
	Parents    []RoleID
	Privileges map[Privilege]bool
}

// ACEEffect is an access-control-entry's effect.
type ACEEffect int

const (
	Allow ACEEffect = iota
	Deny
)

// ACE is a single access-control entry: it matches a principal (a process
// ID or a role ID) and a permission set, with an optional condition.
type ACE struct {
	Effect      ACEEffect
	Principal   string
	Permissions map[Permission]bool
	Condition   Predicate
}

// ACL is an ordered-by-no-particular-order set of entries; evaluation
// checks every deny entry before any allow entry step 5.
type ACL struct {
	Entries []ACE
}

// CapabilityID names a capability.
type CapabilityID string

// ResourceID names a resource.
type ResourceID string

// Capability is an unforgeable, expiring grant of a specific set of
// operations on a specific (or any, if Target == "") resource.
type Capability struct {
	ID          CapabilityID
	Target      ResourceID
	AllowedOps  map[Permission]bool
	ExpiresAt   time.Time
	Condition   Predicate
}

// Resource is the object an access request targets.
type Resource struct {
	ID    ResourceID
	Label Label
	ACL   ACL
}

// ProcessID names a process.
type ProcessID string

// Process is the subject of an access request.
type Process struct {
	ID           ProcessID
	Domain       DomainID
	Label        Label
	Roles        []RoleID
	TrustScore   int
	Capabilities []CapabilityID

	// Attestation, if present, feeds the zero-trust pre-check's
	// "cryptographic attestation if present" clause.
	Attestation *AttestationRecord
}

// ThreatLevel is the detector's output
type ThreatLevel int

const (
	ThreatNone ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatNone:
		return "None"
	case ThreatLow:
		return "Low"
	case ThreatMedium:
		return "Medium"
	case ThreatHigh:
		return "High"
	case ThreatCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}
