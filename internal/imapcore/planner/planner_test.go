package planner

import (
	"testing"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/corelog"
	"spilled.ink/internal/imapcore/queue"
	"spilled.ink/internal/imapcore/stats"
	"spilled.ink/imap/imapparser"
)

type fakeSender struct {
	sent  []*queue.Command
	delay int
}

func (f *fakeSender) Send(c *client.Client, cmd *queue.Command) error {
	f.sent = append(f.sent, cmd)
	return nil
}
func (f *fakeSender) SendRaw(c *client.Client, line string) error { return nil }
func (f *fakeSender) Delay(c *client.Client, ms int)              { f.delay = ms }

type fakeBinder struct {
	sr imapparser.SeqRange
	ok bool
}

func (b fakeBinder) AllSeqRange(c *client.Client) (imapparser.SeqRange, bool) { return b.sr, b.ok }
func (b fakeBinder) KeywordBit(c *client.Client, name string) int            { return -1 }

func newTestPlanner() (*Planner, *stats.World) {
	w := stats.New(stats.DefaultConfig())
	w.Conf.RandomStates = false
	return New(w, corelog.Logger{}), w
}

func TestLegalGatesOnLoginState(t *testing.T) {
	p, _ := newTestPlanner()
	c := client.New(0, &client.Cred{}, 8)
	if p.legal(c, catalog.Select) {
		t.Errorf("legal(Select) = true while NONAUTH")
	}
	c.LoginState = catalog.Auth
	if !p.legal(c, catalog.Select) {
		t.Errorf("legal(Select) = false while AUTH")
	}
	if p.legal(c, catalog.Login) {
		t.Errorf("legal(Login) = true while already AUTH")
	}
}

func TestDoRandBounds(t *testing.T) {
	p, _ := newTestPlanner()
	if p.doRand(0) {
		t.Errorf("doRand(0) = true")
	}
	if !p.doRand(100) {
		t.Errorf("doRand(100) = false")
	}
}

func TestStepLoginThenSelect(t *testing.T) {
	p, _ := newTestPlanner()
	c := client.New(0, &client.Cred{Username: "u1", Password: "pw"}, 8)
	sender := &fakeSender{}
	bind := fakeBinder{}

	p.Step(c, sender, bind)
	if len(sender.sent) == 0 {
		t.Fatalf("Step issued no commands for a fresh NONAUTH client")
	}
	first := sender.sent[0]
	if first.State != catalog.Login && first.State != catalog.Authenticate {
		t.Errorf("first issued state = %s, want LOGIN or AUTHENTICATE", first.State)
	}
}

func TestStepRespectsStateChangeGating(t *testing.T) {
	p, _ := newTestPlanner()
	c := client.New(0, &client.Cred{Username: "u1", Password: "pw"}, 8)
	c.LoginState = catalog.Auth
	sender := &fakeSender{}
	bind := fakeBinder{}

	p.Step(c, sender, bind)
	stateChanges := 0
	for _, cmd := range sender.sent {
		if catalog.Get(cmd.State).Flags&catalog.StateChange != 0 {
			stateChanges++
		}
	}
	if stateChanges > 1 {
		t.Errorf("Step issued %d overlapping state-change commands, want at most 1", stateChanges)
	}
}

func TestStepStopsOnAppendUnfinished(t *testing.T) {
	p, _ := newTestPlanner()
	c := client.New(0, &client.Cred{Username: "u1", Password: "pw"}, 8)
	c.LoginState = catalog.Selected
	c.AppendUnfinished = true
	sender := &fakeSender{}
	bind := fakeBinder{}

	p.Step(c, sender, bind)
	if len(sender.sent) != 0 {
		t.Errorf("Step issued %d commands while AppendUnfinished, want 0", len(sender.sent))
	}
}

func TestStepNoPipeliningLimitsToOne(t *testing.T) {
	p, w := newTestPlanner()
	w.Conf.NoPipelining = true
	c := client.New(0, &client.Cred{Username: "u1", Password: "pw"}, 8)
	c.LoginState = catalog.Selected
	sender := &fakeSender{}
	bind := fakeBinder{sr: imapparser.SeqRange{Min: 1, Max: 1}, ok: true}

	p.Step(c, sender, bind)
	if len(sender.sent) > 1 {
		t.Errorf("Step issued %d commands with NoPipelining, want at most 1", len(sender.sent))
	}
}

func TestEmitFetchWithoutMessagesFallsBackToNoop(t *testing.T) {
	p, _ := newTestPlanner()
	c := client.New(0, &client.Cred{}, 8)
	c.LoginState = catalog.Selected
	sender := &fakeSender{}
	bind := fakeBinder{ok: false}

	if err := p.emit(c, catalog.Fetch, sender, bind); err != nil {
		t.Fatalf("emit(Fetch): %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].State != catalog.Noop {
		t.Fatalf("emit(Fetch) with no bound range = %+v, want a NOOP fallback", sender.sent)
	}
}

func TestEmitStoreRecordsStoreRequest(t *testing.T) {
	p, _ := newTestPlanner()
	c := client.New(0, &client.Cred{}, 8)
	c.LoginState = catalog.Selected
	sender := &fakeSender{}
	bind := fakeBinder{sr: imapparser.SeqRange{Min: 1, Max: 5}, ok: true}

	if err := p.emit(c, catalog.Store, sender, bind); err != nil {
		t.Fatalf("emit(Store): %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].StoreReq == nil {
		t.Fatalf("emit(Store) did not record a StoreRequest")
	}
	if sender.sent[0].StoreReq.Mode != imapparser.StoreAdd {
		t.Errorf("StoreReq.Mode = %v, want StoreAdd", sender.sent[0].StoreReq.Mode)
	}
}

func TestNextSequentialEventuallyReturnsNoop(t *testing.T) {
	p, w := newTestPlanner()
	w.Conf.RandomStates = false

	saved := catalog.Table
	for i := range catalog.Table {
		catalog.Table[i].Probability = 0
	}
	defer func() { catalog.Table = saved }()

	c := client.New(0, &client.Cred{}, 8)
	c.LoginState = catalog.Auth
	got := p.nextState(c, catalog.Login)
	if got != catalog.Noop {
		t.Errorf("nextState with every probability zeroed = %s, want NOOP", got)
	}
}
