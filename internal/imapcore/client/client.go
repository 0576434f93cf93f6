// Package client defines the per-session Client: the owner of a login
// state, a mailbox View, a lookahead plan, a command queue, and APPEND
// progress (spec.md §3, "Client").
package client

import (
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/model"
	"spilled.ink/internal/imapcore/queue"
)

// Cred is the shared user credential record a Client points to. It is
// owned by whatever credential store created it (internal/imapcore/creds),
// so that many Clients simulating the same mailbox user share one
// record, matching the "pointer to shared user credential record" in
// spec.md §3.
type Cred struct {
	Username string
	Password string
}

// Client is one simulated IMAP session (spec.md §3).
type Client struct {
	Idx int // stable client index in the global client set, 0-based

	Cred *Cred

	LoginState catalog.LoginState
	View       *model.View // nil until a SELECT/EXAMINE completes

	// Plan is the short lookahead buffer of upcoming command states,
	// bounded capacity (spec.md §4.2 typical 3-8).
	Plan []catalog.State

	Queue *queue.Queue

	Capabilities Capabilities

	// APPEND progress (spec.md §4.5).
	AppendUnfinished bool
	AppendSkip       int64 // bytes of the current literal already written
	AppendVSize      int64 // total literal size for the in-progress APPEND

	SeenBye bool

	// LastIssued is the state most recently appended to Plan, used by
	// update_plan's probability_again repetition rule.
	LastIssued catalog.State

	// Mailbox is the name of the currently selected/examined mailbox,
	// "" when not SELECTED.
	Mailbox string

	// idling/idleDoneSent track an in-flight IDLE (spec.md §4.6).
	Idling       bool
	IdleDoneSent bool

	// Checkpointing is set by the checkpoint coordinator while this
	// client must quiesce (spec.md §4.7).
	Checkpointing bool

	CreatedAt time.Time
}

// New returns a Client in the NONAUTH state with an empty queue.
func New(idx int, cred *Cred, maxQueueLen int) *Client {
	return &Client{
		Idx:        idx,
		Cred:       cred,
		LoginState: catalog.NonAuth,
		Queue:      queue.New(maxQueueLen),
		CreatedAt:  time.Now(),
	}
}

// PlanFull reports whether the lookahead buffer is at its configured
// capacity.
func (c *Client) PlanFull(capacity int) bool { return len(c.Plan) >= capacity }

// PlanLast returns the last buffered state and true, or (0, false) if
// Plan is empty.
func (c *Client) PlanLast() (catalog.State, bool) {
	if len(c.Plan) == 0 {
		return 0, false
	}
	return c.Plan[len(c.Plan)-1], true
}

// PopPlan removes and returns the first buffered state.
func (c *Client) PopPlan() catalog.State {
	s := c.Plan[0]
	c.Plan = c.Plan[1:]
	return s
}
