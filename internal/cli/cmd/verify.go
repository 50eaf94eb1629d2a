package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/smoynes/aetherkern/internal/cli"
	"github.com/smoynes/aetherkern/internal/log"
	"github.com/smoynes/aetherkern/internal/security"
)

// Verify evaluates a single access decision against a small, fixed
// domain/role/ACL fixture and prints the outcome, mirroring the way demo
// ran one fixed program to exercise the machine end to end.
func Verify() cli.Command {
	return new(verify)
}

type verify struct {
	permission string
	deny       bool
}

func (verify) Description() string {
	return "evaluate a security decision against a scripted domain/resource/ACL fixture"
}

func (verify) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
verify [ -permission read|write ] [ -deny ]

Evaluate a fixed access request through the hybrid access-control
pipeline and print the resulting decision. -deny installs a resource ACL
entry that denies the request, to exercise the deny path.`)

	return err
}

func (v *verify) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.StringVar(&v.permission, "permission", "read", "permission to request: read or write")
	fs.BoolVar(&v.deny, "deny", false, "install a deny ACE for the requesting process")

	return fs
}

func (v verify) Run(_ context.Context, args []string, out io.Writer, _ *log.Logger) int {
	audit := security.NewAuditRing(0, nil, nil, nil)
	threat := security.NewThreatDetector(nil, audit)
	kernel := security.NewKernel(threat, audit, nil)

	kernel.AddDomain(security.Domain{
		ID: "ops",
		AllowedPrivileges: map[security.Privilege]bool{
			security.FileSystemAccess: true,
		},
	})

	kernel.AddRole(security.Role{
		ID:         "reader",
		Privileges: map[security.Privilege]bool{security.FileSystemAccess: true},
	})

	entries := []security.ACE{
		{Effect: security.Allow, Principal: "cli-demo", Permissions: map[security.Permission]bool{"read": true, "write": true}},
	}

	if v.deny {
		entries = append(entries, security.ACE{
			Effect:      security.Deny,
			Principal:   "cli-demo",
			Permissions: map[security.Permission]bool{security.Permission(v.permission): true},
		})
	}

	proc := security.Process{
		ID:     "cli-demo",
		Domain: "ops",
		Roles:  []security.RoleID{"reader"},
		Label:  security.Label{Conf: 2, Integ: 2, Compartments: map[string]bool{}, Categories: map[string]bool{}},
	}

	res := security.Resource{
		ID:    "cli-resource",
		Label: security.Label{Conf: 2, Integ: 2, Compartments: map[string]bool{}, Categories: map[string]bool{}},
		ACL:   security.ACL{Entries: entries},
	}

	dec := kernel.VerifyAccess(security.AccessRequest{
		Process:    proc,
		Resource:   res,
		Permission: security.Permission(v.permission),
		Privilege:  security.FileSystemAccess,
	})

	fmt.Fprintf(out, "allowed: %t\n", dec.Allowed)

	if !dec.Allowed {
		fmt.Fprintf(out, "step:    %s\n", dec.Step)
		fmt.Fprintf(out, "reason:  %s\n", dec.Reason)
	}

	return 0
}
