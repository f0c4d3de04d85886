package vm

import (
	"fmt"
	"strings"
)

// Describe renders a one-line summary of c for logs and the CLI: type,
// length, sharing count, pending state and attribute names. It does not
// wait on a pending cell and never reads its payload.
func Describe(c *Cell) string {
	if c == nil {
		return "<nil>"
	}
	if c.freed {
		return fmt.Sprintf("<reclaimed %s>", c.typ)
	}

	var b strings.Builder
	switch c.typ {
	case SymbolType:
		fmt.Fprintf(&b, "symbol %s", c.name)
	case CharType:
		if c.na {
			b.WriteString("char NA")
		} else {
			fmt.Fprintf(&b, "char %q", c.name)
		}
	default:
		if c.typ.IsVector() {
			fmt.Fprintf(&b, "%s[%d]", c.typ, c.length)
		} else {
			b.WriteString(c.typ.String())
		}
	}
	fmt.Fprintf(&b, " shared=%d", c.shared)
	if p := c.pending.Load(); p != nil {
		fmt.Fprintf(&b, " pending(%s)", p.task)
		return b.String()
	}
	if c.attrib != nil {
		var names []string
		for a := c.attrib; a != nil; a = a.cdr {
			names = append(names, a.tag.name)
		}
		fmt.Fprintf(&b, " attrs=%s", strings.Join(names, ","))
	}
	return b.String()
}
