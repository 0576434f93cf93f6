// Package runner wires together catalog, model, queue, planner,
// router, appendio, and checkpoint into one running stress test
// (spec.md §5): every client's socket read happens on its own
// goroutine, but every piece of shared mutable state (a View, the
// command Queue, the World counters) is only ever touched from one
// single-threaded step loop, preserving the cooperative,
// never-yields-mid-mutation model spec.md §5 requires while still
// allowing many real net.Conns to block independently on I/O.
package runner

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/checkpoint"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/corelog"
	"spilled.ink/internal/imapcore/planner"
	"spilled.ink/internal/imapcore/queue"
	"spilled.ink/internal/imapcore/router"
	"spilled.ink/internal/imapcore/stats"
	"spilled.ink/imap/imapparser"
	"spilled.ink/imap/imapresp"
)

// event is what a per-client reader goroutine forwards to the engine's
// single step loop.
type event struct {
	cc   *clientConn
	resp *imapresp.Response
	err  error
}

type clientConn struct {
	c    *client.Client
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

// Engine owns the single-threaded step loop. All of its fields other
// than World/Planner/Router/Checkpoint/Log are accessed only from
// Run's goroutine.
type Engine struct {
	World      *stats.World
	Planner    *planner.Planner
	Router     *router.Router
	Checkpoint *checkpoint.Coordinator
	Log        corelog.Logger

	events    chan event
	conns     map[int]*clientConn
	notBefore map[int]time.Time
}

func New(w *stats.World, p *planner.Planner, r *router.Router, log corelog.Logger) *Engine {
	e := &Engine{
		World:     w,
		Planner:   p,
		Router:    r,
		Log:       log,
		events:    make(chan event, 64),
		conns:     make(map[int]*clientConn),
		notBefore: make(map[int]time.Time),
	}
	if r.Issuer == nil {
		r.Issuer = &engineIssuer{e: e}
	}
	return e
}

// engineIssuer implements router.Issuer by writing directly to the
// issuing client's connection, the same path connSender.Send uses; it
// lets the router synthesize a CREATE (and a re-issued COPY) from
// inside tagged-reply handling without the planner's normal
// legal()/Full() gating, since these commands are a direct reaction to
// a server error rather than a scheduled plan step.
type engineIssuer struct {
	e *Engine
}

func (ei *engineIssuer) Issue(c *client.Client, state catalog.State, text string, seqRange []imapparser.SeqRange) error {
	cc, ok := ei.e.conns[c.Idx]
	if !ok {
		return fmt.Errorf("runner: no connection for client %d", c.Idx)
	}
	cmd := c.Queue.Send(state, text, seqRange, nil)
	ei.e.World.IncCounter(state, c.SeenBye)
	return (&connSender{cc: cc, notBefore: ei.e.notBefore}).Send(c, cmd)
}

// AddClient registers conn as c's socket and starts its reader
// goroutine. c must already be registered with Engine.World via
// World.AddClient.
func (e *Engine) AddClient(c *client.Client, conn net.Conn) {
	cc := &clientConn{
		c:    c,
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
	e.conns[c.Idx] = cc
	go e.readLoop(cc)
}

func (e *Engine) readLoop(cc *clientConn) {
	for {
		resp, err := imapresp.ParseLine(cc.br)
		e.events <- event{cc: cc, resp: resp, err: err}
		if err != nil {
			return
		}
	}
}

// Run drains events until stop is closed. Callers typically run this
// in its own goroutine and end a client by closing its conn, which
// turns that client's next read into an error event Run treats as a
// disconnect (spec.md §5, client_disconnect).
func (e *Engine) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	cc := ev.cc
	if ev.err != nil {
		e.Log.Warn("runner.disconnect", cc.c.Idx, "", ev.err)
		cc.c.Queue.Abort()
		delete(e.conns, cc.c.Idx)
		delete(e.notBefore, cc.c.Idx)
		return
	}

	if err := e.Router.Handle(cc.c, ev.resp); err != nil {
		e.Log.Error("runner.router", cc.c.Idx, "", err)
	}

	if t, ok := e.notBefore[cc.c.Idx]; ok && time.Now().Before(t) {
		return
	}

	e.Planner.Step(cc.c, &connSender{cc: cc, notBefore: e.notBefore}, viewBinder{})
}

// connSender adapts one client's wire connection to planner.Sender.
// It is only ever invoked from Engine.Run's single goroutine, so the
// *bufio.Writer needs no locking of its own.
type connSender struct {
	cc        *clientConn
	notBefore map[int]time.Time
}

func (s *connSender) Send(c *client.Client, cmd *queue.Command) error {
	if _, err := s.cc.bw.WriteString(cmd.WireLine()); err != nil {
		return err
	}
	return s.cc.bw.Flush()
}

func (s *connSender) SendRaw(c *client.Client, line string) error {
	if _, err := s.cc.bw.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.cc.bw.Flush()
}

func (s *connSender) Delay(c *client.Client, ms int) {
	s.notBefore[c.Idx] = time.Now().Add(time.Duration(ms) * time.Millisecond)
}

// viewBinder implements planner.Binder against a client's live View.
type viewBinder struct{}

func (viewBinder) AllSeqRange(c *client.Client) (imapparser.SeqRange, bool) {
	if c.View == nil || len(c.View.Messages) == 0 {
		return imapparser.SeqRange{}, false
	}
	return imapparser.SeqRange{Min: 1, Max: uint32(len(c.View.Messages))}, true
}

func (viewBinder) KeywordBit(c *client.Client, name string) int {
	if c.View == nil {
		return -1
	}
	return c.View.Storage.KeywordIndex(name)
}
