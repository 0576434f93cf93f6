package model

import "strings"

// MailFlags is a bitset of the IMAP system flags, following the
// imap.ListAttrFlag idiom (iota bitset + String) from the teacher
// package imap/imap.go.
type MailFlags int

const (
	FlagAnswered MailFlags = 1 << iota
	FlagFlagged
	FlagDeleted
	FlagSeen
	FlagDraft
	FlagRecent
)

var systemFlagNames = []struct {
	bit  MailFlags
	name string
}{
	{FlagAnswered, `\Answered`},
	{FlagFlagged, `\Flagged`},
	{FlagDeleted, `\Deleted`},
	{FlagSeen, `\Seen`},
	{FlagDraft, `\Draft`},
	{FlagRecent, `\Recent`},
}

func (f MailFlags) String() string {
	var parts []string
	for _, fn := range systemFlagNames {
		if f&fn.bit != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " ")
}

// SystemFlag returns the MailFlags bit for name, and ok=false if name
// is not one of the six system flags (e.g. it is a keyword instead).
func SystemFlag(name string) (flag MailFlags, ok bool) {
	for _, fn := range systemFlagNames {
		if fn.name == name {
			return fn.bit, true
		}
	}
	return 0, false
}

// DirtyType is the four-valued flagchange_dirty_type from spec.md §3.
// It is a tagged enum, not a boolean pair: every transition in
// seqRangeFlagsRef and the FETCH-FLAGS post-processing must match all
// four values explicitly.
type DirtyType int

const (
	// DirtyNO: local model matches server.
	DirtyNO DirtyType = iota
	// DirtyYES: sent STORE, no FETCH FLAGS seen yet.
	DirtyYES
	// DirtyWAITING: got a FETCH FLAGS but more commands are still
	// outstanding; further FETCHes may arrive.
	DirtyWAITING
	// DirtyMAYBE: only one command outstanding, a FETCH already
	// arrived, but it may have been unsolicited and a solicited one
	// may still come.
	DirtyMAYBE
)

func (d DirtyType) String() string {
	switch d {
	case DirtyNO:
		return "NO"
	case DirtyYES:
		return "YES"
	case DirtyWAITING:
		return "WAITING"
	case DirtyMAYBE:
		return "MAYBE"
	default:
		return "DirtyType(?)"
	}
}
