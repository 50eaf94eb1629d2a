package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// interactive.go gives a command a "press any key to advance" stepping
// mode, the raw-terminal counterpart to a command that otherwise just
// runs a scripted sequence straight through. It is grounded on elsie's
// serial-console adapter: check stdin is a real terminal, switch it to
// raw mode so a single keystroke is available without waiting on Enter,
// and always restore the saved terminal state before returning.

// ErrNotATerminal is returned when interactive mode is requested but
// stdin is not attached to a terminal (e.g. input is piped or redirected).
var ErrNotATerminal = errors.New("cmd: stdin is not a terminal")

// stepper reads one keystroke at a time from a raw terminal so a
// scripted command can pause between steps instead of printing its
// entire output at once.
type stepper struct {
	in    *os.File
	fd    int
	saved *term.State
}

// newStepper switches in into raw mode. Callers must call restore once
// they are done, even on error paths, to leave the user's shell usable.
func newStepper(in *os.File) (*stepper, error) {
	fd := int(in.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNotATerminal
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("cmd: enter raw mode: %w", err)
	}

	return &stepper{in: in, fd: fd, saved: saved}, nil
}

// restore returns the terminal to the state it was in before newStepper.
func (s *stepper) restore() {
	_ = term.Restore(s.fd, s.saved)
}

// waitKey blocks for a single keystroke and returns it. 'q' and 'Q' are
// reserved by callers to mean "stop early".
func (s *stepper) waitKey() (byte, error) {
	buf := make([]byte, 1)

	if _, err := io.ReadFull(s.in, buf); err != nil {
		return 0, err
	}

	return buf[0], nil
}
