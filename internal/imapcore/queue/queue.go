// Package queue implements the per-client in-flight command list:
// tags, bound sequence ranges, and callbacks (spec.md §4.4).
//
// Grounded on imapserver.Conn's per-connection tag bookkeeping
// (imap/imapserver/imapserver.go), turned around to the client side:
// here the tag is assigned when a command is *sent*, not when one
// arrives.
package queue

import (
	"fmt"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/imap/imapparser"
)

// Callback is invoked by the reply router once a command's tagged
// reply has been fully processed.
type Callback func(ok bool)

// Command is one queued, in-flight IMAP command.
type Command struct {
	Tag      string
	Text     string // the exact command text issued, sans tag and CRLF
	State    catalog.State
	SeqRange []imapparser.SeqRange // bound message set, for MSGSET commands
	Callback Callback
	IssuedAt time.Time // set by Send, used to compute per-state round-trip timing

	// StoreReq is set when State is Store or StoreDel, recovered from
	// Text by the planner at issue time so the router does not need to
	// reparse the command it just wrote (spec.md §4.6 STORE Verification).
	StoreReq *StoreRequest
}

// StoreRequest records enough about an issued STORE to verify the
// server's reply against it.
type StoreRequest struct {
	Mode         imapparser.StoreMode
	Silent       bool
	SystemFlags  int // model.MailFlags bitset of the system flags named
	KeywordBits  []byte
	KeywordIdx   []int
}

// Queue is one client's command queue: a bounded, ordered list of
// in-flight Commands, tags strictly increasing.
type Queue struct {
	MaxLen  int
	nextTag uint64
	cmds    []*Command
}

func New(maxLen int) *Queue {
	return &Queue{MaxLen: maxLen}
}

func (q *Queue) Len() int { return len(q.cmds) }

func (q *Queue) Full() bool { return q.MaxLen > 0 && len(q.cmds) >= q.MaxLen }

// At returns the i'th queued command (0 is the oldest, i.e. the next
// one expected to receive its tagged reply).
func (q *Queue) At(i int) *Command { return q.cmds[i] }

// Commands returns the live queue slice; callers must not retain it
// across a mutating call.
func (q *Queue) Commands() []*Command { return q.cmds }

// HasStateChange reports whether any queued command has the
// StateChange flag set (spec.md P4: at most one at a time, checked by
// the planner before enqueueing a second).
func (q *Queue) HasStateChange() bool {
	for _, c := range q.cmds {
		if catalog.Get(c.State).Flags&catalog.StateChange != 0 {
			return true
		}
	}
	return false
}

// HasMsgSet reports whether any queued command has the MsgSet flag.
func (q *Queue) HasMsgSet() bool {
	for _, c := range q.cmds {
		if catalog.Get(c.State).Flags&catalog.MsgSet != 0 {
			return true
		}
	}
	return false
}

// HasExpunges reports whether any queued command has the Expunges
// flag.
func (q *Queue) HasExpunges() bool {
	for _, c := range q.cmds {
		if catalog.Get(c.State).Flags&catalog.Expunges != 0 {
			return true
		}
	}
	return false
}

// HasSearch reports whether a SEARCH is already pending, enforcing
// the "only one outstanding SEARCH per client" invariant.
func (q *Queue) HasSearch() bool {
	for _, c := range q.cmds {
		if c.State == catalog.Search {
			return true
		}
	}
	return false
}

// Send allocates a new monotonically increasing tag, appends cmd to
// the queue, and returns it with its Tag populated. The caller is
// responsible for actually writing "<tag> <text>\r\n" to the wire; Send
// only manages the in-memory bookkeeping, since wire I/O is an
// external collaborator (spec.md §1).
func (q *Queue) Send(state catalog.State, text string, seqRange []imapparser.SeqRange, cb Callback) *Command {
	entry := catalog.Get(state)
	q.nextTag++
	cmd := &Command{
		Tag:      fmt.Sprintf("%s%d", entry.TagPrefix, q.nextTag),
		Text:     text,
		State:    state,
		SeqRange: seqRange,
		Callback: cb,
		IssuedAt: time.Now(),
	}
	q.cmds = append(q.cmds, cmd)
	return cmd
}

// WireLine formats cmd as it must appear on the wire: "<tag> <text>\r\n".
func (cmd *Command) WireLine() string {
	return cmd.Tag + " " + cmd.Text + "\r\n"
}

// Find returns the queued command with the given tag, or nil.
func (q *Queue) Find(tag string) *Command {
	for _, c := range q.cmds {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Finish removes the command with tag from the queue. It returns the
// removed command, or nil if no such tag was queued (a protocol
// error: an unexpected tagged reply).
func (q *Queue) Finish(tag string) *Command {
	for i, c := range q.cmds {
		if c.Tag == tag {
			q.cmds = append(q.cmds[:i], q.cmds[i+1:]...)
			return c
		}
	}
	return nil
}

// Abort empties the queue without invoking any callbacks, used by
// client_disconnect (spec.md §5): once a connection is gone no further
// reply processing happens for its in-flight commands.
func (q *Queue) Abort() {
	q.cmds = nil
}
