package bootinfo

// cmdline.go tokenizes the kernel command line boot-info exposes and binds
// it to a flag.FlagSet, the same way internal/cli's Command.FlagSet lets
// each sub-command declare its own options. Each kernel component declares
// the flags it cares about (e.g. "security.level") against a FlagSet built
// from this tokenization, rather than bootinfo trying to know every
// component's options itself.

import (
	"flag"
	"strings"
)

// Tokenize splits a kernel command line the way a shell would: whitespace
// separated, with simple single/double-quote grouping so values like
// `security.level="high"` or init paths with spaces survive.
func Tokenize(cmdline string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
	)

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range cmdline {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}

	flush()

	return tokens
}

// BindFlags parses the boot-info command line's tokens into fs, ignoring
// unrecognized flags so independent components can each bind only the
// options they declare against the same command line. fs should be
// constructed with flag.ContinueOnError.
func BindFlags(cmdline string, fs *flag.FlagSet) error {
	tokens := Tokenize(cmdline)

	args := make([]string, 0, len(tokens))

	for _, tok := range tokens {
		if !strings.HasPrefix(tok, "-") {
			continue
		}

		name := strings.TrimLeft(tok, "-")
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}

		if fs.Lookup(name) != nil {
			args = append(args, tok)
		}
	}

	return fs.Parse(args)
}
