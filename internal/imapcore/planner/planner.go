// Package planner implements the per-client command-planning state
// machine (spec.md §4.2): it keeps a short lookahead buffer of legal
// next states and, subject to queue and message-set gating, emits
// them as wire commands.
package planner

import (
	"fmt"
	"math/rand"
	"strings"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/corelog"
	"spilled.ink/internal/imapcore/queue"
	"spilled.ink/internal/imapcore/stats"
	"spilled.ink/imap/imapparser"
)

// formatSeq renders a single SeqRange the way imapparser.FormatSeqs
// renders a set, since this core only ever binds one range per
// command.
func formatSeq(sr imapparser.SeqRange) string {
	var b strings.Builder
	if err := imapparser.FormatSeqs(&b, []imapparser.SeqRange{sr}); err != nil {
		return fmt.Sprintf("%d:%d", sr.Min, sr.Max)
	}
	return b.String()
}

// Sender is the wire-writing collaborator (spec.md §1: network I/O is
// out of scope for this core). Planner calls Send once it has decided
// to issue a command; the caller is responsible for actually putting
// bytes on a socket.
type Sender interface {
	Send(c *client.Client, cmd *queue.Command) error
	// SendRaw writes a line that is not itself a tagged command, used
	// for the IDLE "DONE" terminator.
	SendRaw(c *client.Client, line string) error
	// Delay is called with the planner's chosen cooperative sleep
	// duration when probability(DELAY) fires; the caller decides how
	// to actually suspend this client (spec.md §4.2).
	Delay(c *client.Client, d int)
}

// QueryBuilder generates command text for SEARCH/SORT/THREAD. These
// query builders are explicitly out of scope in spec.md §1 ("command
// text generation only; response handling stays in scope"); Planner
// ships a trivial default and accepts an override.
type QueryBuilder func(state catalog.State) string

func defaultQueryBuilder(state catalog.State) string {
	switch state {
	case catalog.Search:
		return "SEARCH UNSEEN"
	case catalog.Sort:
		return "SORT (ARRIVAL) UTF-8 ALL"
	case catalog.Thread:
		return "THREAD REFERENCES UTF-8 ALL"
	default:
		return "NOOP"
	}
}

// Planner drives plan_send_more_commands for one World.
type Planner struct {
	World        *stats.World
	Log          corelog.Logger
	QueryBuilder QueryBuilder
	Rand         *rand.Rand

	// MailboxPicker returns the mailbox to SELECT/EXAMINE next, and
	// NewMailboxName returns a fresh name for MCREATE.
	MailboxPicker  func(c *client.Client) string
	NewMailboxName func(c *client.Client) string
}

func New(w *stats.World, log corelog.Logger) *Planner {
	return &Planner{
		World:          w,
		Log:            log,
		QueryBuilder:   defaultQueryBuilder,
		Rand:           rand.New(rand.NewSource(1)),
		MailboxPicker:  func(c *client.Client) string { return "INBOX" },
		NewMailboxName: func(c *client.Client) string { return "Box" },
	}
}

func (p *Planner) doRand(probability int) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 100 {
		return true
	}
	return p.Rand.Intn(100) < probability
}

// legal reports whether state may be planned given c's current login
// state: it may not require a higher login state than c currently
// has, and it may not re-attempt authentication once already
// authenticated (spec.md §4.2).
func (p *Planner) legal(c *client.Client, state catalog.State) bool {
	entry := catalog.Get(state)
	if entry.LoginState > c.LoginState {
		return false
	}
	if (state == catalog.Authenticate || state == catalog.Login) && c.LoginState != catalog.NonAuth {
		return false
	}
	return true
}

func targetLoginState(entry *catalog.Entry) catalog.LoginState {
	switch {
	case entry.Flags&catalog.StateChangeSelected != 0:
		return catalog.Selected
	case entry.Flags&catalog.StateChangeAuth != 0:
		return catalog.Auth
	default:
		return catalog.NonAuth
	}
}

// nextState implements spec.md §4.2's next_state: uniform random pick
// in [LIST, LOGOUT] when random_states is set, otherwise sequential
// advancement, in both cases looping on do_rand(probability) and
// filtering out illegal candidates via legal.
func (p *Planner) nextState(c *client.Client, last catalog.State) catalog.State {
	const maxTries = 2000
	for i := 0; i < maxTries; i++ {
		var candidate catalog.State
		if p.World.Conf.RandomStates {
			span := int(catalog.Logout) - int(catalog.List) + 1
			candidate = catalog.State(int(catalog.List) + p.Rand.Intn(span))
		} else {
			candidate = catalog.NextSequential(last)
			last = candidate
		}
		if !p.legal(c, candidate) {
			continue
		}
		if !p.doRand(catalog.Get(candidate).Probability) {
			continue
		}
		return candidate
	}
	return catalog.Noop
}

// updatePlan extends c.Plan per spec.md §4.2.
func (p *Planner) updatePlan(c *client.Client) {
	if last, ok := c.PlanLast(); ok {
		if last == catalog.Logout {
			return
		}
		if catalog.Get(last).Flags&catalog.StateChange != 0 {
			return
		}
	}
	if c.Queue.HasStateChange() {
		return
	}

	for len(c.Plan) < p.World.Conf.PlanCapacity {
		last := c.LastIssued
		if v, ok := c.PlanLast(); ok {
			last = v
		}

		var candidate catalog.State
		if c.LoginState == catalog.NonAuth {
			if len(c.Plan) != 0 {
				break
			}
			if p.doRand(catalog.Get(catalog.Authenticate).Probability) {
				candidate = catalog.Authenticate
			} else {
				candidate = catalog.Login
			}
		} else {
			if p.legal(c, last) && p.doRand(catalog.Get(last).ProbabilityAgain) {
				candidate = last
			} else {
				candidate = p.nextState(c, last)
			}
		}

		c.Plan = append(c.Plan, candidate)
		if catalog.Get(candidate).Flags&catalog.StateChange != 0 {
			break
		}
	}
}

// queuedLoginStateBlocks implements the first STATECHANGE issue-time
// gate in spec.md §4.2: no queued command's login_state may exceed the
// state change's target, and two SELECTED-requiring commands may not
// overlap across a state change.
func (p *Planner) queuedLoginStateBlocks(c *client.Client, entry *catalog.Entry) bool {
	target := targetLoginState(entry)
	for _, cmd := range c.Queue.Commands() {
		qls := catalog.Get(cmd.State).LoginState
		if qls > target {
			return true
		}
		if target == catalog.Selected && qls == catalog.Selected {
			return true
		}
	}
	return false
}

// satisfiesAcrossChange implements the second STATECHANGE issue-time
// gate: when a STATECHANGE is already queued, any further candidate's
// login_state must be satisfied both now and after that change
// completes.
func (p *Planner) satisfiesAcrossChange(c *client.Client, entry *catalog.Entry) bool {
	if entry.LoginState > c.LoginState {
		return false
	}
	for _, cmd := range c.Queue.Commands() {
		qentry := catalog.Get(cmd.State)
		if qentry.Flags&catalog.StateChange == 0 {
			continue
		}
		if entry.LoginState > targetLoginState(qentry) {
			return false
		}
	}
	return true
}

// Step runs one round of plan_send_more_commands for c: extend the
// plan, then emit legal, unblocked commands until the queue is full,
// pipelining is disallowed, or no legal candidate remains.
//
// view is the client's current model.View (nil when NONAUTH), used to
// bind message sets to FETCH/STORE/COPY candidates.
func (p *Planner) Step(c *client.Client, sender Sender, bind Binder) {
	for !c.Queue.Full() {
		p.updatePlan(c)
		if len(c.Plan) == 0 {
			return
		}
		candidate := c.Plan[0]
		entry := catalog.Get(candidate)

		if c.AppendUnfinished {
			return
		}
		if p.World.Conf.NoPipelining && c.Queue.Len() > 0 {
			return
		}

		if entry.Flags&catalog.StateChange != 0 {
			if c.Queue.HasStateChange() {
				return
			}
			if p.queuedLoginStateBlocks(c, entry) {
				return
			}
		} else if c.Queue.HasStateChange() {
			if !p.satisfiesAcrossChange(c, entry) {
				return
			}
		}

		if entry.Flags&catalog.MsgSet != 0 && (c.Queue.HasExpunges() || c.Queue.HasStateChange()) {
			return
		}

		if candidate == catalog.Search && c.Queue.HasSearch() {
			c.PopPlan()
			continue
		}

		c.PopPlan()
		c.LastIssued = candidate
		p.World.IncCounter(candidate, c.SeenBye)

		if err := p.emit(c, candidate, sender, bind); err != nil {
			p.Log.Error("planner.emit", c.Idx, candidate.String(), err)
			return
		}

		if p.doRand(catalog.Get(catalog.Delay).Probability) {
			sender.Delay(c, p.delayMillis())
		}
	}
}

func (p *Planner) delayMillis() int {
	max := int(p.World.Conf.DelayMsecs.Milliseconds())
	if max <= 0 {
		return 0
	}
	return p.Rand.Intn(max + 1)
}

// Binder supplies the message-set and mailbox context the planner
// needs to build a concrete command for states that depend on view
// contents (FETCH, STORE, COPY, ...). Kept as an interface, not a
// direct model.View dependency, so planner does not need to import
// model for write access beyond what Binder exposes.
type Binder interface {
	AllSeqRange(c *client.Client) (imapparser.SeqRange, bool)
	KeywordBit(c *client.Client, name string) int
}

func (p *Planner) emit(c *client.Client, state catalog.State, sender Sender, bind Binder) error {
	switch state {
	case catalog.Authenticate:
		return p.sendSimple(c, sender, state, "AUTHENTICATE PLAIN", nil)
	case catalog.Login:
		text := fmt.Sprintf("LOGIN %s %s", c.Cred.Username, c.Cred.Password)
		return p.sendSimple(c, sender, state, text, nil)
	case catalog.List:
		return p.sendSimple(c, sender, state, `LIST "" "*"`, nil)
	case catalog.MCreate:
		return p.sendSimple(c, sender, state, fmt.Sprintf("CREATE %s", p.NewMailboxName(c)), nil)
	case catalog.MDelete:
		return p.sendSimple(c, sender, state, fmt.Sprintf("DELETE %s", p.NewMailboxName(c)), nil)
	case catalog.Status:
		mbox := p.MailboxPicker(c)
		text := fmt.Sprintf("STATUS %s (MESSAGES UIDNEXT UIDVALIDITY UNSEEN)", mbox)
		return p.sendSimple(c, sender, state, text, nil)
	case catalog.Select:
		mbox := p.MailboxPicker(c)
		c.Mailbox = mbox
		return p.sendSimple(c, sender, state, fmt.Sprintf("SELECT %s", mbox), nil)
	case catalog.Fetch, catalog.Fetch2:
		sr, ok := bind.AllSeqRange(c)
		if !ok {
			return p.sendSimple(c, sender, catalog.Noop, "NOOP", nil)
		}
		items := "FLAGS"
		if state == catalog.Fetch2 {
			items = "(FLAGS UID)"
		}
		text := fmt.Sprintf("FETCH %s %s", formatSeq(sr), items)
		return p.sendBound(c, sender, state, text, []imapparser.SeqRange{sr}, nil)
	case catalog.Search:
		return p.sendSimple(c, sender, state, p.QueryBuilder(state), nil)
	case catalog.Sort:
		return p.sendSimple(c, sender, state, p.QueryBuilder(state), nil)
	case catalog.Thread:
		return p.sendSimple(c, sender, state, p.QueryBuilder(state), nil)
	case catalog.Copy:
		sr, ok := bind.AllSeqRange(c)
		if !ok {
			return p.sendSimple(c, sender, catalog.Noop, "NOOP", nil)
		}
		dest := p.World.Conf.CopyDest
		if dest == "" {
			dest = "Archive"
		}
		text := fmt.Sprintf("UID COPY %s %s", formatSeq(sr), dest)
		return p.sendBound(c, sender, state, text, []imapparser.SeqRange{sr}, nil)
	case catalog.Store:
		sr, ok := bind.AllSeqRange(c)
		if !ok {
			return p.sendSimple(c, sender, catalog.Noop, "NOOP", nil)
		}
		text := fmt.Sprintf("STORE %s +FLAGS (\\Flagged)", formatSeq(sr))
		req := &queue.StoreRequest{Mode: imapparser.StoreAdd, SystemFlags: int(flagBitFlagged)}
		return p.sendBound(c, sender, state, text, []imapparser.SeqRange{sr}, req)
	case catalog.StoreDel:
		sr, ok := bind.AllSeqRange(c)
		if !ok {
			return p.sendSimple(c, sender, catalog.Noop, "NOOP", nil)
		}
		text := fmt.Sprintf("STORE %s -FLAGS (\\Flagged)", formatSeq(sr))
		req := &queue.StoreRequest{Mode: imapparser.StoreRemove, SystemFlags: int(flagBitFlagged)}
		return p.sendBound(c, sender, state, text, []imapparser.SeqRange{sr}, req)
	case catalog.Delete:
		sr, ok := bind.AllSeqRange(c)
		if !ok {
			return p.sendSimple(c, sender, catalog.Noop, "NOOP", nil)
		}
		text := fmt.Sprintf("STORE %s +FLAGS.SILENT (\\Deleted)", formatSeq(sr))
		req := &queue.StoreRequest{Mode: imapparser.StoreAdd, Silent: true, SystemFlags: int(flagBitDeleted)}
		return p.sendBound(c, sender, state, text, []imapparser.SeqRange{sr}, req)
	case catalog.Expunge:
		return p.sendSimple(c, sender, state, "EXPUNGE", nil)
	case catalog.Noop:
		return p.sendSimple(c, sender, state, "NOOP", nil)
	case catalog.Idle:
		c.Idling = true
		return p.sendSimple(c, sender, state, "IDLE", nil)
	case catalog.Check:
		return p.sendSimple(c, sender, state, "CHECK", nil)
	case catalog.Logout:
		return p.sendSimple(c, sender, state, "LOGOUT", nil)
	case catalog.Append, catalog.Checkpoint, catalog.Delay, catalog.Disconnect, catalog.LMTP, catalog.Banner:
		// Driven by their own collaborators (appendio, checkpoint, the
		// cooperative scheduler, client_disconnect, an external LMTP
		// injector) rather than by a single wire command here.
		return nil
	default:
		return fmt.Errorf("planner: unhandled state %s", state)
	}
}

// flag bits mirror model.MailFlags without importing the model
// package purely for two constants; keep in sync with model.FlagFlagged/FlagDeleted.
const (
	flagBitFlagged = 1 << 1
	flagBitDeleted = 1 << 2
)

func (p *Planner) sendSimple(c *client.Client, sender Sender, state catalog.State, text string, storeReq *queue.StoreRequest) error {
	return p.sendBound(c, sender, state, text, nil, storeReq)
}

func (p *Planner) sendBound(c *client.Client, sender Sender, state catalog.State, text string, seqRange []imapparser.SeqRange, storeReq *queue.StoreRequest) error {
	cmd := c.Queue.Send(state, text, seqRange, nil)
	cmd.StoreReq = storeReq
	return sender.Send(c, cmd)
}
