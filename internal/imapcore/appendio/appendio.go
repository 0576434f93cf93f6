// Package appendio drives the APPEND command's literal-writing
// protocol (spec.md §4.5): building the command line, staging message
// bytes via a mailboxsource.Source, and handling the three ways a
// server lets a client put literal bytes on the wire (a blocking "+"
// continuation, LITERAL+ non-synchronizing literals, and RFC 3502
// MULTIAPPEND's run of same-command literals).
//
// Grounded on imap/imapserver/imapserver.go's litf := c.server.Filer.BufferFile(0)
// literal-staging idiom and imap/imaptest/servertest.go's initUser,
// which builds []*iox.BufferFile message bodies the same way, turned
// around to the client side.
package appendio

import (
	"fmt"
	"io"
	"strings"
	"time"

	"crawshaw.io/iox"

	"spilled.ink/internal/imapcore/client"
	"spilled.ink/mailboxsource"
)

// Part is one message staged for a single APPEND command: one part for
// a plain APPEND, more than one only when MULTIAPPEND is used.
type Part struct {
	Flags []string
	Date  time.Time
	TZ    *time.Location
	Size  int64
	Body  *iox.BufferFile
}

// Plan is a fully staged APPEND ready to write to the wire: CommandText
// is everything up to (and including) the first literal's "{n}" or
// "{n+}" marker; Parts holds every literal body in order, already
// buffered in memory via iox.Filer so re-reading them (for a
// continuation that arrives after a partial write, or the MULTIAPPEND
// remainder) never re-touches the mailboxsource.Source.
type Plan struct {
	Mailbox      string
	Parts        []Part
	LiteralPlus  bool
	MultiAppend  bool
}

// Driver stages APPEND literal bodies from a mailboxsource.Source and
// tracks one Client's in-flight APPEND progress.
type Driver struct {
	Filer  *iox.Filer
	Source mailboxsource.Source
}

func New(filer *iox.Filer, source mailboxsource.Source) *Driver {
	return &Driver{Filer: filer, Source: source}
}

// Build stages a Plan for mailbox: one Part normally, or up to maxParts
// Parts when the client's capabilities include MULTIAPPEND and the
// planner's probability_again chain decided to batch (spec.md's
// DOMAIN STACK MULTIAPPEND wiring).
func (d *Driver) Build(c *client.Client, mailbox string, maxParts int) (*Plan, error) {
	if maxParts < 1 {
		maxParts = 1
	}
	multi := c.Capabilities.Has(client.CapMultiAppend) && maxParts > 1
	n := 1
	if multi {
		n = maxParts
	}

	plan := &Plan{
		Mailbox:     mailbox,
		LiteralPlus: c.Capabilities.Has(client.CapLiteralPlus),
		MultiAppend: multi,
	}
	for i := 0; i < n; i++ {
		psize, _, date, tz, ok := d.Source.GetNextSize()
		if !ok {
			break
		}
		body := d.Filer.BufferFile(psize)
		r, err := d.Source.InputStream()
		if err != nil {
			return nil, fmt.Errorf("appendio: opening input stream: %v", err)
		}
		if _, err := io.CopyN(body, r, psize); err != nil && err != io.EOF {
			return nil, fmt.Errorf("appendio: staging literal body: %v", err)
		}
		plan.Parts = append(plan.Parts, Part{
			Flags: []string{`\Seen`},
			Date:  date,
			TZ:    tz,
			Size:  body.Size(),
			Body:  body,
		})
	}
	if len(plan.Parts) == 0 {
		return nil, fmt.Errorf("appendio: mailboxsource exhausted")
	}
	return plan, nil
}

// CommandText renders the command text up to and including the first
// part's literal marker, ready to be sent as a tagged command (the
// caller's queue.Send supplies the tag and trailing CRLF).
//
// A LITERAL+ literal uses "{n+}" so the server does not send a "+"
// continuation at all; a classic literal uses "{n}" and the caller
// must wait for one before calling NextLiteral.
func (p *Plan) CommandText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "APPEND %s", p.Mailbox)
	writePart(&b, p.Parts[0], p.LiteralPlus)
	return b.String()
}

func writePart(b *strings.Builder, part Part, literalPlus bool) {
	fmt.Fprintf(b, " (%s)", strings.Join(part.Flags, " "))
	fmt.Fprintf(b, ` "%s"`, formatDate(part.Date, part.TZ))
	if literalPlus {
		fmt.Fprintf(b, " {%d+}", part.Size)
	} else {
		fmt.Fprintf(b, " {%d}", part.Size)
	}
}

func formatDate(t time.Time, tz *time.Location) string {
	if tz != nil {
		t = t.In(tz)
	}
	return t.Format("02-Jan-2006 15:04:05 -0700")
}

// Begin starts c's APPEND progress bookkeeping for the first literal
// of plan: AppendUnfinished is true whenever the literal is classic
// (a "+" continuation must still arrive before bytes may be written),
// false under LITERAL+ (the caller may stream the body immediately
// after the command line).
func Begin(c *client.Client, plan *Plan) {
	c.AppendVSize = plan.Parts[0].Size
	c.AppendSkip = 0
	c.AppendUnfinished = !plan.LiteralPlus
}

// LiteralBytes returns the full body of the i'th part, for a caller
// that writes it to the wire either immediately (LITERAL+) or upon
// receiving this part's "+" continuation.
func (p *Plan) LiteralBytes(i int) ([]byte, error) {
	part := p.Parts[i]
	buf := make([]byte, part.Size)
	if _, err := part.Body.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("appendio: reading staged part %d: %v", i, err)
	}
	return buf, nil
}

// NextPartText renders the "(flags) date {n}" header MULTIAPPEND
// appends after the previous part's literal bytes, with no leading
// "APPEND mailbox" (spec.md's MULTIAPPEND wiring, RFC 3502).
func (p *Plan) NextPartText(i int) string {
	var b strings.Builder
	writePart(&b, p.Parts[i], p.LiteralPlus)
	return strings.TrimPrefix(b.String(), " ")
}

// Advance records that part i's literal bytes have been fully written,
// updating c's progress for the next part (or clearing it once i was
// the last part).
func Advance(c *client.Client, plan *Plan, i int) {
	if i+1 >= len(plan.Parts) {
		c.AppendUnfinished = false
		c.AppendSkip = 0
		c.AppendVSize = 0
		return
	}
	next := plan.Parts[i+1]
	c.AppendVSize = next.Size
	c.AppendSkip = 0
	c.AppendUnfinished = !plan.LiteralPlus
}
