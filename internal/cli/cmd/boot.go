package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/smoynes/aetherkern/internal/bootinfo"
	"github.com/smoynes/aetherkern/internal/cli"
	"github.com/smoynes/aetherkern/internal/log"
)

// Boot parses a synthetic boot-information buffer and prints the
// unified protocol, command line, and memory map it describes, the way
// demo displayed a running machine's register file.
func Boot() cli.Command {
	return new(boot)
}

type boot struct {
	multiboot2 bool
}

func (boot) Description() string {
	return "parse a synthetic boot-info buffer and print the memory map"
}

func (boot) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
boot [ -multiboot2 ]

Parse a boot-information buffer (the bytes of the first argument, or an
empty buffer if no argument is given) and print the resolved protocol,
command line, and memory-map entries. -multiboot2 is accepted but has no
effect on parsing.`)

	return err
}

func (b *boot) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	fs.BoolVar(&b.multiboot2, "multiboot2", false, "accepted; has no effect on parsing")

	return fs
}

func (b boot) Run(_ context.Context, args []string, out io.Writer, logger *log.Logger) int {
	var buf []byte

	if len(args) > 0 {
		buf = []byte(args[0])
	}

	info := bootinfo.Init(buf, bootinfo.WithLogger(logger))

	fmt.Fprintf(out, "protocol:    %s\n", info.ProtocolType())

	if cmdline, ok := info.CommandLine(); ok {
		fmt.Fprintf(out, "cmdline:     %q\n", cmdline)
	}

	if name, ok := info.BootloaderName(); ok {
		fmt.Fprintf(out, "bootloader:  %s\n", name)
	}

	fmt.Fprintln(out, "memory map:")

	it := info.MemoryMap()

	for {
		entry, ok := it.Next()
		if !ok {
			break
		}

		fmt.Fprintf(out, "  %#016x +%#x  %s\n", entry.PhysStart, entry.Size, entry.RegionType)
	}

	return 0
}
