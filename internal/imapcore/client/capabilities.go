package client

import "strings"

// Capabilities is the subset of server CAPABILITY tokens the planner
// and APPEND driver act on (spec.md §3, "capabilities bitset").
type Capabilities int

const (
	CapLiteralPlus Capabilities = 1 << iota
	CapMultiAppend
	CapCondStore
	CapQresync
)

var capNames = []struct {
	bit  Capabilities
	name string
}{
	{CapLiteralPlus, "LITERAL+"},
	{CapMultiAppend, "MULTIAPPEND"},
	{CapCondStore, "CONDSTORE"},
	{CapQresync, "QRESYNC"},
}

func (c Capabilities) String() string {
	var parts []string
	for _, cn := range capNames {
		if c&cn.bit != 0 {
			parts = append(parts, cn.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

func (c Capabilities) Has(bit Capabilities) bool { return c&bit != 0 }

// ParseCapabilities turns a CAPABILITY response's atom list into a
// Capabilities bitset, ignoring any token this core does not act on.
func ParseCapabilities(tokens []string) Capabilities {
	var c Capabilities
	for _, tok := range tokens {
		for _, cn := range capNames {
			if strings.EqualFold(tok, cn.name) {
				c |= cn.bit
			}
		}
	}
	return c
}
