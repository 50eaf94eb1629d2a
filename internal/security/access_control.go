package security

// access_control.go is a hybrid MAC/RBAC/ACL/capability evaluation
// pipeline: eight short-circuit steps over a (process, domain, privilege,
// resource, context) request, each step's failure producing a Decision
// whose Reason names the offending check.

import (
	"fmt"
	"sync"
)

// Deny-reason strings for a handful of concrete scenarios; everything
// else gets a constructed reason.
const (
	ReasonInsufficientConfidentiality = "機密性レベル不足" // scenario 4: MAC read-confidentiality failure
	ReasonInsufficientIntegrity       = "integrity level insufficient for write"
	ReasonCompartmentMismatch         = "compartment or category not a superset"
	ReasonZeroTrustScoreTooLow        = "zero-trust score below threshold"
	ReasonPrivilegeNotGranted         = "privilege not granted by domain"
	ReasonNoMatchingRole              = "no role grants the requested privilege"
	ReasonACLExplicitDeny             = "explicit deny ACE matched"
	ReasonACLNoMatchingAllow          = "no matching allow ACE"
	ReasonThreatLevelGate             = "threat level at or above High blocks sensitive privileges"
)

// Decision is the outcome of one VerifyAccess call.
type Decision struct {
	Allowed bool
	Reason  string
	Step    string
	Err     error
}

// AccessRequest names everything the hybrid pipeline needs to evaluate a
// single (process, privilege, resource, permission) request.
type AccessRequest struct {
	Process    Process
	Model      Model
	Resource   Resource
	Permission Permission
	Privilege  Privilege
	Capability *Capability
	Context    map[string]string
}

// LabelStore, RoleStore, ACLStore, and CapabilityStore are the backing
// stores for the kernel's policy state, each behind its own reader-writer
// lock that every method takes and releases within the call. Of these,
// Kernel.VerifyAccess reads only the role store; the label, ACL, and
// capability it evaluates come from the AccessRequest, and no fixed
// acquisition order across the stores is enforced.
type LabelStore struct {
	mu sync.RWMutex
	m  map[ResourceID]Label
}

func NewLabelStore() *LabelStore { return &LabelStore{m: make(map[ResourceID]Label)} }

func (s *LabelStore) Set(id ResourceID, l Label) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[id] = l
}

func (s *LabelStore) Get(id ResourceID) (Label, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.m[id]

	return l, ok
}

type RoleStore struct {
	mu sync.RWMutex
	m  map[RoleID]Role
}

func NewRoleStore() *RoleStore { return &RoleStore{m: make(map[RoleID]Role)} }

func (s *RoleStore) Set(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[r.ID] = r
}

func (s *RoleStore) Get(id RoleID) (Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.m[id]

	return r, ok
}

type ACLStore struct {
	mu sync.RWMutex
	m  map[ResourceID]ACL
}

func NewACLStore() *ACLStore { return &ACLStore{m: make(map[ResourceID]ACL)} }

func (s *ACLStore) Set(id ResourceID, acl ACL) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[id] = acl
}

func (s *ACLStore) Get(id ResourceID) (ACL, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.m[id]

	return a, ok
}

type CapabilityStore struct {
	mu sync.RWMutex
	m  map[CapabilityID]Capability
}

func NewCapabilityStore() *CapabilityStore { return &CapabilityStore{m: make(map[CapabilityID]Capability)} }

func (s *CapabilityStore) Set(c Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[c.ID] = c
}

func (s *CapabilityStore) Get(id CapabilityID) (Capability, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.m[id]

	return c, ok
}

// Kernel is the policy-evaluation engine: the model selector, the
// backing stores, the threat detector, and the audit ring.
type Kernel struct {
	mu          sync.RWMutex // guards model and systemLevel
	model       Model
	systemLevel SystemSecurityLevel

	domains map[DomainID]Domain

	labels       *LabelStore
	roles        *RoleStore
	acls         *ACLStore
	capabilities *CapabilityStore

	threat *ThreatDetector
	audit  *AuditRing
	clock  Clock
	zt     *ZeroTrustManager

	trustScorer func(Process, map[string]string) int
}

// NewKernel wires a Kernel over freshly created stores, starting in
// Hybrid mode at SystemNormal. The zero-trust pre-check defaults to
// scoring through zt; SetTrustScorer overrides it for tests.
func NewKernel(threat *ThreatDetector, audit *AuditRing, clock Clock) *Kernel {
	if clock == nil {
		clock = systemClock{}
	}

	zt := NewZeroTrustManager()

	return &Kernel{
		model:        Hybrid,
		systemLevel:  SystemNormal,
		domains:      make(map[DomainID]Domain),
		labels:       NewLabelStore(),
		roles:        NewRoleStore(),
		acls:         NewACLStore(),
		capabilities: NewCapabilityStore(),
		threat:       threat,
		audit:        audit,
		clock:        clock,
		zt:           zt,
		trustScorer:  zt.EvaluateTrust,
	}
}

// SetTrustScorer overrides the zero-trust score function, for tests.
func (k *Kernel) SetTrustScorer(f func(Process, map[string]string) int) { k.trustScorer = f }

// AddDomain registers (or replaces) a domain definition.
func (k *Kernel) AddDomain(d Domain) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.domains[d.ID] = d
}

// AddRole registers (or replaces) a role definition.
func (k *Kernel) AddRole(r Role) { k.roles.Set(r) }

// SetLabel records the MAC label governing resource id.
func (k *Kernel) SetLabel(id ResourceID, l Label) { k.labels.Set(id, l) }

// SetACL records the discretionary ACL governing resource id.
func (k *Kernel) SetACL(id ResourceID, acl ACL) { k.acls.Set(id, acl) }

// AddCapability registers a capability grant in the capability store.
func (k *Kernel) AddCapability(c Capability) { k.capabilities.Set(c) }

// SetModel changes the access-control model. This requires
// SecurityManagement — callers pass the requesting process so the
// privilege can be checked — and is audited at severity 90.
func (k *Kernel) SetModel(requester Process, model Model) error {
	if !k.domainGrants(requester.Domain, SecurityManagement) {
		return fmt.Errorf("%w: SetModel requires SecurityManagement", ErrUnknownPrincipal)
	}

	k.mu.Lock()
	k.model = model
	k.mu.Unlock()

	k.audit.Record(AuditRecord{Type: "model_change", Severity: 90, Detail: map[string]string{"model": fmt.Sprint(model)}})

	return nil
}

func (k *Kernel) domainGrants(id DomainID, priv Privilege) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	seen := make(map[DomainID]bool)

	for id != "" && !seen[id] {
		seen[id] = true

		dom, ok := k.domains[id]
		if !ok {
			return false
		}

		if dom.AllowedPrivileges[priv] {
			return true
		}

		id = dom.Parent
	}

	return false
}

// roleGrants walks the role DAG iteratively with a visited-set guard: a
// naive pointer graph would require shared-ownership cycles, which Go's
// garbage collector handles fine but which complicates snapshotting a
// role hierarchy for policy export.
func (k *Kernel) roleGrants(start []RoleID, priv Privilege) bool {
	visited := make(map[RoleID]bool)
	queue := append([]RoleID{}, start...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if visited[id] {
			continue
		}

		visited[id] = true

		role, ok := k.roles.Get(id)
		if !ok {
			continue
		}

		if role.Privileges[priv] {
			return true
		}

		queue = append(queue, role.Parents...)
	}

	return false
}

func aceMatches(ace ACE, p Process) bool {
	if ace.Principal == string(p.ID) {
		return true
	}

	for _, r := range p.Roles {
		if ace.Principal == string(r) {
			return true
		}
	}

	return false
}

// VerifyAccess runs the eight-step hybrid evaluation pipeline. Every step
// short-circuits on first deny; the returned Decision names the failing
// step. A successful return always means every applicable step passed.
func (k *Kernel) VerifyAccess(req AccessRequest) Decision {
	// The pipeline never holds two locks at once: the role store (step 4)
	// and the threat detector (step 7) each take and release their own
	// lock per call. Labels, the ACL, and the capability are read from req.
	// A policy update that lands between two steps of one evaluation can
	// therefore be observed by the later step only.

	// Step 1: zero-trust pre-check.
	k.mu.RLock()
	level := k.systemLevel
	k.mu.RUnlock()

	if level == SystemMaximum {
		score := k.trustScorer(req.Process, req.Context)
		if score < k.zt.Threshold() {
			return k.deny(req, "zero_trust", ReasonZeroTrustScoreTooLow)
		}
	}

	// Step 2: privilege check.
	if !k.domainGrants(req.Process.Domain, req.Privilege) {
		return k.deny(req, "privilege", ReasonPrivilegeNotGranted)
	}

	// Step 3: MAC check (Bell-LaPadula simple-security + Biba *-property).
	resourceLabel := req.Resource.Label
	processLabel := req.Process.Label

	switch req.Permission {
	case "read":
		if processLabel.Conf < resourceLabel.Conf {
			return k.deny(req, "mac", ReasonInsufficientConfidentiality)
		}
	case "write":
		if processLabel.Integ > resourceLabel.Integ {
			return k.deny(req, "mac", ReasonInsufficientIntegrity)
		}
	}

	if !processLabel.supersetOf(resourceLabel) {
		return k.deny(req, "mac", ReasonCompartmentMismatch)
	}

	// Step 4: RBAC check.
	if !k.roleGrants(req.Process.Roles, req.Privilege) {
		return k.deny(req, "rbac", ReasonNoMatchingRole)
	}

	// Step 5: ACL check — deny dominates, checked before any allow.
	for _, ace := range req.Resource.ACL.Entries {
		if ace.Effect != Deny || !aceMatches(ace, req.Process) {
			continue
		}

		if !ace.Permissions[req.Permission] {
			continue
		}

		return k.denyACL(req)
	}

	matched := false

	for _, ace := range req.Resource.ACL.Entries {
		if ace.Effect != Allow || !aceMatches(ace, req.Process) {
			continue
		}

		if !ace.Permissions[req.Permission] {
			continue
		}

		if ace.Condition != nil && !ace.Condition.Eval(req.Context) {
			continue
		}

		matched = true

		break
	}

	if !matched && len(req.Resource.ACL.Entries) > 0 {
		return k.deny(req, "acl", ReasonACLNoMatchingAllow)
	}

	// Step 6: capability check.
	if req.Model == CapabilityBased || req.Capability != nil {
		if d := k.checkCapability(req); !d.Allowed {
			return d
		}
	}

	// Step 7: threat-level gate.
	if k.threat != nil && k.threat.CurrentLevel() >= ThreatHigh && sensitivePrivileges[req.Privilege] {
		return k.denyThreatGate(req)
	}

	// Step 8: audit (allow path).
	k.audit.Record(AuditRecord{
		Type:     "access_decision",
		Severity: 20,
		Step:     "allow",
		Detail:   map[string]string{"process": string(req.Process.ID), "resource": string(req.Resource.ID)},
	})

	return Decision{Allowed: true}
}

func (k *Kernel) checkCapability(req AccessRequest) Decision {
	grant := req.Capability
	if grant == nil {
		return k.deny(req, "capability", "no capability presented")
	}

	if grant.Target != "" && grant.Target != req.Resource.ID {
		return k.deny(req, "capability", "capability target mismatch")
	}

	if !grant.AllowedOps[req.Permission] {
		return k.deny(req, "capability", "permission not in allowed_ops")
	}

	if !grant.ExpiresAt.IsZero() && !grant.ExpiresAt.After(k.clock.Now()) {
		d := k.deny(req, "capability", "capability expired")
		d.Err = ErrExpiredCapability

		return d
	}

	if grant.Condition != nil && !grant.Condition.Eval(req.Context) {
		d := k.deny(req, "capability", "capability condition failed")
		d.Err = ErrConditionFailed

		return d
	}

	return Decision{Allowed: true}
}

func (k *Kernel) deny(req AccessRequest, step, reason string) Decision {
	k.audit.Record(AuditRecord{
		Type:     "access_decision",
		Severity: 60,
		Step:     step,
		Detail:   map[string]string{"process": string(req.Process.ID), "resource": string(req.Resource.ID), "reason": reason},
	})

	return Decision{Allowed: false, Reason: reason, Step: step}
}

func (k *Kernel) denyACL(req AccessRequest) Decision {
	k.audit.Record(AuditRecord{
		Type:     "access_decision",
		Severity: 75,
		Step:     "acl",
		Detail:   map[string]string{"process": string(req.Process.ID), "resource": string(req.Resource.ID), "reason": ReasonACLExplicitDeny},
	})

	return Decision{Allowed: false, Reason: ReasonACLExplicitDeny, Step: "acl"}
}

func (k *Kernel) denyThreatGate(req AccessRequest) Decision {
	k.audit.Record(AuditRecord{
		Type:     "access_decision",
		Severity: 85,
		Step:     "threat_gate",
		Detail:   map[string]string{"process": string(req.Process.ID), "resource": string(req.Resource.ID), "reason": ReasonThreatLevelGate},
	})

	return Decision{Allowed: false, Reason: ReasonThreatLevelGate, Step: "threat_gate"}
}

// SetSystemLevel changes the system-wide security level gating the
// zero-trust pre-check.
func (k *Kernel) SetSystemLevel(level SystemSecurityLevel) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.systemLevel = level
}
