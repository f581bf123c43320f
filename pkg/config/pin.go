package config

import (
	"fmt"
	"strings"
)

// Pin is a parsed "[^|~][!]name" pin option.
type Pin struct {
	Name   string
	Invert bool // "!"
	Pull   int  // 1 for "^" pull-up, -1 for "~" pull-down
}

// ParsePin parses desc. Modifiers are only accepted where allowInvert or
// allowPull permit them.
func ParsePin(desc string, allowInvert, allowPull bool) (Pin, error) {
	var p Pin
	rest := strings.TrimSpace(desc)
	if allowPull && rest != "" {
		switch rest[0] {
		case '^':
			p.Pull = 1
		case '~':
			p.Pull = -1
		}
		if p.Pull != 0 {
			rest = strings.TrimSpace(rest[1:])
		}
	}
	if allowInvert && strings.HasPrefix(rest, "!") {
		p.Invert = true
		rest = strings.TrimSpace(rest[1:])
	}
	switch {
	case rest == "":
		return Pin{}, fmt.Errorf("pin %q has no name", desc)
	case strings.ContainsAny(rest, "^~!: \t"):
		return Pin{}, fmt.Errorf("pin %q: unexpected modifier or separator", desc)
	}
	p.Name = rest
	return p, nil
}
