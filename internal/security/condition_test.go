package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCondition_NamedPredicateAndComparison(t *testing.T) {
	p := ParseCondition(`mfa_verified && clearance >= "3"`)

	require.True(t, p.Eval(map[string]string{"mfa_verified": "true", "clearance": "5"}))
	require.False(t, p.Eval(map[string]string{"mfa_verified": "false", "clearance": "5"}))
	require.False(t, p.Eval(map[string]string{"mfa_verified": "true", "clearance": "1"}))
}

func TestParseCondition_OrAndNot(t *testing.T) {
	p := ParseCondition(`secure_channel || !emergency_mode`)

	require.True(t, p.Eval(map[string]string{"secure_channel": "true", "emergency_mode": "true"}))
	require.True(t, p.Eval(map[string]string{"secure_channel": "false", "emergency_mode": "false"}))
	require.False(t, p.Eval(map[string]string{"secure_channel": "false", "emergency_mode": "true"}))
}

// Unknown predicates fail closed,'s condition-language rule.
func TestParseCondition_UnknownPredicateFailsClosed(t *testing.T) {
	p := ParseCondition(`totally_unregistered_flag`)

	require.False(t, p.Eval(map[string]string{"totally_unregistered_flag": "true"}))
}
