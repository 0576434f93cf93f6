// Package router dispatches parsed server responses (imap/imapresp)
// against a client's model.View and command queue (spec.md §4.6,
// "Reply Router"): untagged data updates the view in place, tagged
// completions resolve the matching queued Command and run its
// callback.
package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/corelog"
	"spilled.ink/internal/imapcore/model"
	"spilled.ink/internal/imapcore/queue"
	"spilled.ink/internal/imapcore/stats"
	"spilled.ink/imap/imapparser"
	"spilled.ink/imap/imapresp"
)

// Issuer lets the router synthesize a follow-up command from inside
// tagged-reply handling, for the TRYCREATE recovery path (spec.md §4.6):
// SELECT/STATUS/APPEND NO sends a CREATE of the target mailbox; COPY NO
// [TRYCREATE] sends a CREATE of copy_dest and then re-issues the COPY
// that just failed.
type Issuer interface {
	Issue(c *client.Client, state catalog.State, text string, seqRange []imapparser.SeqRange) error
}

// Router dispatches one client's incoming response stream.
type Router struct {
	World  *stats.World
	Log    corelog.Logger
	Issuer Issuer
}

func New(w *stats.World, log corelog.Logger) *Router {
	return &Router{World: w, Log: log}
}

// Handle processes one parsed response line for c. It never returns an
// error for a well-formed but unexpected line (an untagged keyword
// this core does not model, a NO for a command that is allowed to
// fail); it returns an error only for responses that violate this
// core's structural invariants (spec.md §7, ProtocolError/StateError).
func (r *Router) Handle(c *client.Client, resp *imapresp.Response) error {
	switch {
	case resp.Continuation:
		return nil // owned by the APPEND driver / IDLE DONE sender
	case resp.Untagged:
		return r.handleUntagged(c, resp)
	default:
		return r.handleTagged(c, resp)
	}
}

func (r *Router) handleUntagged(c *client.Client, resp *imapresp.Response) error {
	if resp.Cond != "" {
		return r.handleStatus(c, resp)
	}

	if n, err := strconv.Atoi(resp.Keyword); err == nil {
		if len(resp.Args) == 0 {
			return nil
		}
		word, _ := imapresp.GetAtom(resp.Args[0])
		rest := resp.Args[1:]
		switch strings.ToUpper(word) {
		case "EXISTS":
			return r.handleExists(c, uint32(n))
		case "EXPUNGE":
			return r.handleExpunge(c, uint32(n))
		case "FETCH":
			return r.handleFetch(c, uint32(n), rest)
		case "RECENT":
			if c.View != nil {
				c.View.RecentCount = uint32(n)
			}
			return nil
		}
		return nil
	}

	switch strings.ToUpper(resp.Keyword) {
	case "FLAGS":
		return r.handleFlags(c, resp.Args)
	case "CAPABILITY":
		return r.handleCapability(c, resp.Args)
	case "SEARCH", "SORT":
		// Result payload is consumed by whatever test assertion issued
		// the command; this core only needs to know one completed, via
		// the tagged OK that follows.
		return nil
	case "BYE":
		c.SeenBye = true
		return nil
	case "LIST", "STATUS", "ESEARCH", "THREAD":
		return nil
	default:
		r.Log.Warn("router.untagged.unhandled", c.Idx, resp.Keyword, nil)
		return nil
	}
}

// handleStatus handles untagged status responses: "* OK ...", "* NO
// ...", "* BYE ...", "* PREAUTH ...". Per spec.md §4.6, untagged OK
// carries response-text codes (PERMANENTFLAGS, UIDVALIDITY,
// UIDNEXT, HIGHESTMODSEQ, CLOSED) that must update the view even
// though no command tag is involved.
func (r *Router) handleStatus(c *client.Client, resp *imapresp.Response) error {
	if resp.Cond == "BYE" {
		c.SeenBye = true
		return nil
	}
	if resp.Code == nil || c.View == nil {
		return nil
	}
	return r.applyRespTextCode(c, resp.Code)
}

func (r *Router) applyRespTextCode(c *client.Client, code *imapresp.RespTextCode) error {
	v := c.View
	switch code.Key {
	case "PERMANENTFLAGS":
		var flags []string
		for _, a := range code.Args {
			if atom, ok := imapresp.GetAtom(a); ok {
				flags = append(flags, atom)
			}
		}
		v.PermanentFlags = flags
	case "UIDVALIDITY":
		n, err := strconv.ParseUint(code.Tail, 10, 32)
		if err != nil {
			return fmt.Errorf("router: malformed UIDVALIDITY %q: %v", code.Tail, err)
		}
		if err := v.Storage.SetUIDValidity(uint32(n)); err != nil {
			return err
		}
	case "UIDNEXT":
		n, err := strconv.ParseUint(code.Tail, 10, 32)
		if err != nil {
			return fmt.Errorf("router: malformed UIDNEXT %q: %v", code.Tail, err)
		}
		v.SavedUIDNext = uint32(n)
		v.HaveSavedUIDNext = true
	case "HIGHESTMODSEQ":
		n, err := strconv.ParseInt(code.Tail, 10, 64)
		if err != nil {
			return fmt.Errorf("router: malformed HIGHESTMODSEQ %q: %v", code.Tail, err)
		}
		v.HighestModSeq = n
	case "CLOSED":
		// QRESYNC: the prior mailbox was implicitly closed by this
		// SELECT/EXAMINE; nothing further to reconcile since this core
		// keeps only one View per Client at a time.
	case "READ-WRITE":
		v.ReadWrite = true
	case "READ-ONLY":
		v.ReadWrite = false
	}
	return nil
}

func (r *Router) handleExists(c *client.Client, total uint32) error {
	if c.View == nil {
		return fmt.Errorf("router: EXISTS with no selected view")
	}
	c.View.Exists(total, func(seq uint32) uint32 {
		// The true UID for a newly reported message is only known once
		// its own untagged FETCH (UID ...) arrives; until then this
		// assigns the next storage-monotonic placeholder so the
		// strictly-increasing-UID invariant (spec.md §3) still holds.
		// The placeholder is reconciled in handleFetch's UID branch.
		s := c.View.Storage
		if n := len(s.Msgs); n > 0 {
			return s.Msgs[n-1].UID + 1
		}
		return 1
	})
	return nil
}

func (r *Router) handleExpunge(c *client.Client, seq uint32) error {
	if c.View == nil {
		return fmt.Errorf("router: EXPUNGE with no selected view")
	}
	return c.View.Expunge(seq)
}

func (r *Router) handleFlags(c *client.Client, args []*imapresp.Arg) error {
	if c.View == nil || len(args) == 0 || args[0].Kind != imapresp.ArgList {
		return nil
	}
	maxIdx := -1
	for _, child := range args[0].Children {
		atom, ok := imapresp.GetAtom(child)
		if !ok || strings.HasPrefix(atom, `\`) {
			continue
		}
		idx := c.View.Storage.KeywordIndex(atom)
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if maxIdx >= 0 {
		c.View.GrowKeywordBitmask(maxIdx + 1)
	}
	return nil
}

func (r *Router) handleCapability(c *client.Client, args []*imapresp.Arg) error {
	var tokens []string
	for _, a := range args {
		if atom, ok := imapresp.GetAtom(a); ok {
			tokens = append(tokens, atom)
		}
	}
	c.Capabilities = client.ParseCapabilities(tokens)
	return nil
}

// handleFetch applies an untagged "* n FETCH (...)" to the view: it
// extracts FLAGS (and any keyword atoms) and UID from the parenthesized
// item list and runs them through View.ApplyFetchFlags /
// View.SeqRangeFlagsRef bookkeeping (spec.md §4.3, §4.6).
func (r *Router) handleFetch(c *client.Client, seq uint32, rest []*imapresp.Arg) error {
	if c.View == nil || len(rest) == 0 || rest[0].Kind != imapresp.ArgList {
		return nil
	}
	items := rest[0].Children
	var (
		haveFlags bool
		mailFlags model.MailFlags
		keywords  []string
	)
	for i := 0; i+1 < len(items); i += 2 {
		key, ok := imapresp.GetAtom(items[i])
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "FLAGS":
			haveFlags = true
			if items[i+1].Kind != imapresp.ArgList {
				continue
			}
			for _, f := range items[i+1].Children {
				atom, ok := imapresp.GetAtom(f)
				if !ok {
					continue
				}
				if bit, ok := model.SystemFlag(atom); ok {
					mailFlags |= bit
				} else {
					keywords = append(keywords, atom)
				}
			}
		case "UID":
			// Reconciles the EXISTS-time placeholder UID (handleExists)
			// with the server's real one. Assumes UIDs are reported in
			// non-decreasing seq order, true for plain append growth;
			// out-of-order reconciliation is left to a future QRESYNC
			// pass rather than reordering Storage.Msgs here.
			atom, ok := imapresp.GetAtom(items[i+1])
			if !ok {
				continue
			}
			if n, err := strconv.ParseUint(atom, 10, 32); err == nil {
				if int(seq) <= len(c.View.UIDMap) {
					c.View.UIDMap[seq-1] = uint32(n)
					c.View.Messages[seq-1].Static.UID = uint32(n)
				}
			}
		}
	}
	if !haveFlags {
		return nil
	}
	var bits []byte
	if len(keywords) > 0 {
		maxIdx := -1
		for _, k := range keywords {
			idx := c.View.Storage.KeywordIndex(k)
			if idx > maxIdx {
				maxIdx = idx
			}
		}
		c.View.GrowKeywordBitmask(maxIdx + 1)
		bits = make([]byte, c.View.KeywordBitmaskAllocSize)
		for _, k := range keywords {
			idx := c.View.Storage.KeywordIndex(k)
			bits[idx/8] |= 1 << uint(idx%8)
		}
	}
	return c.View.ApplyFetchFlags(seq, mailFlags, bits)
}

// handleTagged resolves a command's tagged completion: removes it from
// the queue, runs STORE verification if applicable, invokes its
// Callback, and records timing.
func (r *Router) handleTagged(c *client.Client, resp *imapresp.Response) error {
	cmd := c.Queue.Finish(resp.Tag)
	if cmd == nil {
		return fmt.Errorf("router: tagged reply %q for unknown tag", resp.Tag)
	}
	r.World.AddTiming(cmd.State, time.Since(cmd.IssuedAt))

	ok := resp.Cond == "OK"
	if !ok {
		if isKnownQuirkNO(resp.Text) {
			r.Log.Info("router.tagged.quirk", c.Idx, cmd.State.String())
		} else {
			r.Log.Warn("router.tagged.fail", c.Idx, cmd.State.String(), fmt.Errorf("%s %s", resp.Cond, resp.Text))
		}
		r.handleFailure(c, cmd, resp)
	}

	if cmd.State == catalog.Select && ok {
		if c.View != nil {
			r.World.Storages.Release(c.View.Storage)
		}
		c.View = model.NewView(r.World.Storages.Acquire(c.Mailbox))
		c.LoginState = catalog.Selected
	}
	if cmd.State == catalog.Logout {
		if ok && !c.SeenBye {
			r.Log.Warn("router.logout.no_bye", c.Idx, cmd.State.String(), fmt.Errorf("server replied OK to LOGOUT without sending BYE"))
		}
		c.LoginState = catalog.NonAuth
	}
	if (cmd.State == catalog.Authenticate || cmd.State == catalog.Login) && ok {
		c.LoginState = catalog.Auth
	}
	if cmd.State == catalog.Idle && ok {
		c.Idling = false
		c.IdleDoneSent = false
	}

	if cmd.SeqRange != nil && c.View != nil {
		for _, sr := range cmd.SeqRange {
			c.View.SeqRangeFlagsRef(sr.Min, sr.Max, -1, true)
			// A silent STORE/STORE_DEL/DELETE has one further reference
			// outstanding: the FETCH that will eventually validate the
			// change it suppressed (spec.md §4.6, STORE Verification).
			if cmd.StoreReq != nil && cmd.StoreReq.Silent {
				c.View.SeqRangeFlagsRef(sr.Min, sr.Max, -1, true)
			}
		}
	}

	if cmd.Callback != nil {
		cmd.Callback(ok)
	}
	return nil
}

// knownQuirkNOSubstrings are server error texts that are a normal,
// expected outcome of racing a command against a concurrent EXPUNGE
// rather than a real test failure (spec.md §4.6, "Known-quirk NO
// handling").
var knownQuirkNOSubstrings = []string{
	"no longer exist",
	"No matching messages",
	"have been expunged",
	"Cannot store on expunged messages",
	"STORE completed",
	"STORE failed",
	"have been deleted",
	"Document has been deleted",
}

func isKnownQuirkNO(text string) bool {
	for _, s := range knownQuirkNOSubstrings {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// handleFailure implements the TRYCREATE recovery path for SELECT,
// STATUS, APPEND and COPY (spec.md §4.6).
func (r *Router) handleFailure(c *client.Client, cmd *queue.Command, resp *imapresp.Response) {
	if r.Issuer == nil {
		return
	}
	switch cmd.State {
	case catalog.Select, catalog.Status, catalog.Append:
		if !r.World.Conf.TryCreateMailbox {
			return
		}
		mbox := mailboxFromCommandText(cmd.Text)
		if mbox == "" {
			return
		}
		r.Issuer.Issue(c, catalog.MCreate, fmt.Sprintf("CREATE %s", mbox), nil)
	case catalog.Copy:
		if resp.Code == nil || resp.Code.Key != "TRYCREATE" {
			return
		}
		dest := r.World.Conf.CopyDest
		if dest == "" {
			dest = "Archive"
		}
		r.Issuer.Issue(c, catalog.MCreate, fmt.Sprintf("CREATE %s", dest), nil)
		r.Issuer.Issue(c, catalog.Copy, cmd.Text, cmd.SeqRange)
	}
}

// mailboxFromCommandText recovers the mailbox name argument from a
// SELECT/STATUS/APPEND command's text, since the router does not keep
// its own copy of what each in-flight command targeted.
func mailboxFromCommandText(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "EXAMINE", "APPEND":
		return fields[1]
	case "STATUS":
		return fields[1]
	}
	return ""
}
