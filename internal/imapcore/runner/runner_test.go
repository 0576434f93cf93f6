package runner

import (
	"bufio"
	"net"
	"testing"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/model"
	"spilled.ink/internal/imapcore/queue"
)

func newPipeConn(t *testing.T) (*clientConn, net.Conn) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() { server.Close(); peer.Close() })
	return &clientConn{
		conn: server,
		br:   bufio.NewReader(server),
		bw:   bufio.NewWriter(server),
	}, peer
}

func TestConnSenderSendWritesWireLine(t *testing.T) {
	cc, other := newPipeConn(t)
	s := &connSender{cc: cc, notBefore: make(map[int]time.Time)}

	q := queue.New(0)
	cmd := q.Send(catalog.Noop, "NOOP", nil, nil)

	done := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(other).ReadString('\n')
		done <- line
	}()

	if err := s.Send(nil, cmd); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := <-done
	want := cmd.Tag + " NOOP\r\n"
	if got != want {
		t.Errorf("wire line = %q, want %q", got, want)
	}
}

func TestConnSenderSendRaw(t *testing.T) {
	cc, other := newPipeConn(t)
	s := &connSender{cc: cc, notBefore: make(map[int]time.Time)}

	done := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(other).ReadString('\n')
		done <- line
	}()

	if err := s.SendRaw(nil, "DONE"); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if got := <-done; got != "DONE\r\n" {
		t.Errorf("wire line = %q, want DONE\\r\\n", got)
	}
}

func TestConnSenderDelayRecordsNotBefore(t *testing.T) {
	cc, _ := newPipeConn(t)
	notBefore := make(map[int]time.Time)
	s := &connSender{cc: cc, notBefore: notBefore}
	c := client.New(5, &client.Cred{}, 4)

	s.Delay(c, 50)
	if _, ok := notBefore[5]; !ok {
		t.Errorf("Delay did not record a notBefore entry for client 5")
	}
}

func TestViewBinderNoView(t *testing.T) {
	c := client.New(0, &client.Cred{}, 4)
	var b viewBinder
	if _, ok := b.AllSeqRange(c); ok {
		t.Errorf("AllSeqRange(no view) = ok, want false")
	}
	if got := b.KeywordBit(c, "$Label"); got != -1 {
		t.Errorf("KeywordBit(no view) = %d, want -1", got)
	}
}

func TestViewBinderWithMessages(t *testing.T) {
	c := client.New(0, &client.Cred{}, 4)
	storage := &model.Storage{ExpungedUIDs: make(map[uint32]bool)}
	c.View = model.NewView(storage)
	c.View.Exists(3, func(seq uint32) uint32 { return seq })

	var b viewBinder
	sr, ok := b.AllSeqRange(c)
	if !ok || sr.Min != 1 || sr.Max != 3 {
		t.Errorf("AllSeqRange = %+v, %v, want {1 3}, true", sr, ok)
	}

	idx := b.KeywordBit(c, "$Label1")
	if idx != 0 {
		t.Errorf("KeywordBit for the first registered keyword = %d, want 0", idx)
	}
}
