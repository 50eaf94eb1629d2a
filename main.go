// cmd/aether is the command-line tool for this module's boot-info,
// page-table, and security-kernel components.
package main

import (
	"context"
	"os"

	"github.com/smoynes/aetherkern/internal/cli"
	"github.com/smoynes/aetherkern/internal/cli/cmd"
)

var (
	commands = []cli.Command{
		cmd.Boot(),
		cmd.Map(),
		cmd.Verify(),
	}
)

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
