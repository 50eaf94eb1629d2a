package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/cli"
	"github.com/smoynes/aetherkern/internal/frame"
	"github.com/smoynes/aetherkern/internal/log"
	"github.com/smoynes/aetherkern/internal/paging"
)

// Map drives the page-table manager through a fixed scripted sequence of
// map, translate, and unmap calls, printing the result of each step, the
// way demo stepped an LC-3 program and printed register state after every
// cycle. With -i, it instead pauses for a keystroke between steps, the
// way elsie's serial console let a user step the machine one cycle at a
// time.
func Map() cli.Command {
	return new(mapCmd)
}

type mapCmd struct {
	verbose     bool
	interactive bool
}

func (mapCmd) Description() string {
	return "drive the page-table manager through a scripted map/unmap/translate sequence"
}

func (mapCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
map [ -v ] [ -i ]

Map two fixed virtual addresses as 4 KiB pages, translate each one back
to its physical address, then unmap and confirm the translation no
longer resolves. -v prints the manager's stats once, at the end.

-i runs one step per keystroke instead of printing the whole sequence at
once; press q to stop early. It requires stdin to be a real terminal.`)

	return err
}

func (m *mapCmd) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("map", flag.ExitOnError)
	fs.BoolVar(&m.verbose, "v", false, "print manager stats at the end")
	fs.BoolVar(&m.interactive, "i", false, "pause for a keystroke between steps")

	return fs
}

type mapStep struct {
	virt addr.VirtAddr
	phys addr.PhysAddr
	size paging.PageSize
}

func (m mapCmd) Run(_ context.Context, args []string, out io.Writer, logger *log.Logger) int {
	alloc := frame.NewFreeListAllocator(addr.PhysAddr(0x0100_0000), 16<<20)

	mgr, err := paging.NewManager(alloc, paging.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(out, "error: new manager: %s\n", err)
		return 1
	}

	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	steps := []mapStep{
		{virt: addr.VirtAddr(0x0000_1000_0000_0000), phys: addr.PhysAddr(0x0000_0000_0200_0000), size: paging.Size4K},
		{virt: addr.VirtAddr(0x0000_2000_0000_0000), phys: addr.PhysAddr(0x0000_0000_0400_0000), size: paging.Size4K},
	}

	advance, stop := m.stepFunc(out, logger)
	defer stop()

	for _, s := range steps {
		if !advance() {
			fmt.Fprintln(out, "stopped")
			return 0
		}

		if err := mgr.Map(s.virt, s.phys, access, s.size); err != nil {
			fmt.Fprintf(out, "map %#x -> %#x: error: %s\n", s.virt, s.phys, err)
			continue
		}

		fmt.Fprintf(out, "map   %#016x -> %#012x (%d bytes)\n", s.virt, s.phys, s.size)

		phys, ok := mgr.Translate(s.virt)
		fmt.Fprintf(out, "translate %#016x -> %#012x, ok=%t\n", s.virt, phys, ok)
	}

	for _, s := range steps {
		if !advance() {
			fmt.Fprintln(out, "stopped")
			return 0
		}

		if err := mgr.Unmap(s.virt); err != nil {
			fmt.Fprintf(out, "unmap %#x: error: %s\n", s.virt, err)
			continue
		}

		_, ok := mgr.Translate(s.virt)
		fmt.Fprintf(out, "unmap %#016x, now translates=%t\n", s.virt, ok)
	}

	if m.verbose {
		stats := mgr.Stats()
		fmt.Fprintf(out, "stats: tables=%d 4k=%d 2m=%d 1g=%d shootdowns=%d\n",
			stats.TablesAllocated, stats.PagesMapped4K, stats.PagesMapped2M, stats.PagesMapped1G, stats.Shootdowns)
	}

	return 0
}

// stepFunc returns an advance function that blocks for a keystroke
// between steps when interactive mode was requested and stdin is a real
// terminal, and a stop function that restores the terminal and must
// always be deferred. When interactive mode isn't active or isn't
// available, advance always returns true immediately.
func (m mapCmd) stepFunc(out io.Writer, logger *log.Logger) (advance func() bool, stop func()) {
	if !m.interactive {
		return func() bool { return true }, func() {}
	}

	s, err := newStepper(os.Stdin)
	if err != nil {
		if errors.Is(err, ErrNotATerminal) {
			logger.Warn("map: -i ignored, stdin is not a terminal")
		} else {
			logger.Warn("map: -i unavailable", "err", err)
		}

		return func() bool { return true }, func() {}
	}

	fmt.Fprintln(out, "press any key to advance, q to quit")

	advance = func() bool {
		key, err := s.waitKey()
		if err != nil || key == 'q' || key == 'Q' {
			return false
		}

		return true
	}

	return advance, s.restore
}
