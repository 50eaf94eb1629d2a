package security

import "errors"

// Error kinds ("Security: Denied(reason), UnknownPrincipal,
// UnknownResource, ExpiredCapability, ConditionFailed, PolicyMisconfigured.
// Policy: all are surfaced as a decision result; PolicyMisconfigured
// additionally generates a severity-95 audit event.").
var (
	ErrUnknownPrincipal  = errors.New("security: unknown principal")
	ErrUnknownResource   = errors.New("security: unknown resource")
	ErrExpiredCapability = errors.New("security: expired capability")
	ErrConditionFailed   = errors.New("security: condition failed")
	ErrPolicyMisconfigured = errors.New("security: policy misconfigured")
)
