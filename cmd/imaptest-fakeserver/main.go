// Command imaptest-fakeserver runs a small, scripted, in-memory IMAP
// server so cmd/imaptest can be pointed at a real socket during
// development without a production mail server (SPEC_FULL.md "Test
// tooling"). It only speaks enough of RFC 3501 to drive the client
// core: greeting, LOGIN, SELECT/CREATE (including a scripted
// TRYCREATE refusal so the client's recovery path gets exercised),
// FETCH/STORE/COPY/APPEND with canned payloads, and IDLE.
package main

import (
	"bufio"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"spilled.ink/util/tlstest"
)

func main() {
	log.SetFlags(0)

	flagAddr := flag.String("addr", ":1430", "address to listen on")
	flagUser := flag.String("user", "imaptest1", "username to accept in LOGIN")
	flagPass := flag.String("pass", "secret", "password to accept in LOGIN")
	flag.Parse()

	ln, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		log.Fatalf("listen %s: %v", *flagAddr, err)
	}
	tln := tls.NewListener(ln, tlstest.ServerConfig)

	srv := &fakeServer{
		user: *flagUser,
		pass: *flagPass,
		boxes: map[string]*mailbox{
			"INBOX": {exists: 3, uidNext: 4, uidValidity: 1},
		},
	}

	fmt.Printf("imaptest-fakeserver listening on %s, user %s\n", ln.Addr(), *flagUser)
	if err := srv.serve(tln); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

type mailbox struct {
	mu          sync.Mutex
	exists      int
	uidNext     uint32
	uidValidity uint32
}

type fakeServer struct {
	user, pass string

	mu    sync.Mutex
	boxes map[string]*mailbox
}

// serve runs the accept loop, backing off on temporary errors the way
// imap/imapserver.Server.ServeTLS does.
func (s *fakeServer) serve(ln net.Listener) error {
	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := time.Second; tempDelay > max {
					tempDelay = max
				}
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		go s.handle(c)
	}
}

type session struct {
	srv     *fakeServer
	conn    net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	authed  bool
	mailbox string
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	sess := &session{
		srv:  s,
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
	sess.writeLine("* OK [CAPABILITY IMAP4rev1 LITERAL+ IDLE CONDSTORE UIDPLUS MULTIAPPEND] imaptest-fakeserver ready")

	for {
		tag, name, rest, err := sess.readCommand()
		if err != nil {
			return
		}
		if !sess.dispatch(tag, name, rest) {
			return
		}
	}
}

func (sess *session) writeLine(line string) {
	sess.bw.WriteString(line)
	sess.bw.WriteString("\r\n")
	sess.bw.Flush()
}

// readCommand reads one tagged command line, transparently consuming
// any trailing "{n}" / "{n+}" literal markers (and the raw bytes that
// follow) so a scripted command like APPEND's flags/date/literal tuple
// arrives as one logical line. Literal contents themselves are
// discarded: this server only needs their length, never their bytes.
func (sess *session) readCommand() (tag, name, rest string, err error) {
	var b strings.Builder
	seg, err := sess.readLine()
	if err != nil {
		return "", "", "", err
	}
	b.WriteString(strings.TrimRight(seg, "\r\n"))

	for {
		n, nonSync, ok := literalLen(b.String())
		if !ok {
			break
		}
		if !nonSync {
			sess.writeLine("+ ready for literal data")
		}
		buf := make([]byte, n)
		if _, err := readFull(sess.br, buf); err != nil {
			return "", "", "", err
		}
		b.WriteString("<literal>")
		seg, err = sess.readLine()
		if err != nil {
			return "", "", "", err
		}
		b.WriteString(strings.TrimRight(seg, "\r\n"))
	}

	fields := strings.SplitN(b.String(), " ", 3)
	if len(fields) < 2 {
		return "", "", "", fmt.Errorf("malformed command line %q", b.String())
	}
	tag = fields[0]
	name = strings.ToUpper(fields[1])
	if len(fields) == 3 {
		rest = fields[2]
	}
	return tag, name, rest, nil
}

func (sess *session) readLine() (string, error) {
	return sess.br.ReadString('\n')
}

func readFull(br *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := br.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// literalLen reports the byte count of a trailing "{n}" or "{n+}"
// literal marker on line, if present, and whether it was the
// LITERAL+ non-synchronizing form (no "+ ready" needed before it).
func literalLen(line string) (n int, nonSync, ok bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false, false
	}
	open := strings.LastIndex(line, "{")
	if open < 0 {
		return 0, false, false
	}
	digits := strings.TrimSuffix(line[open+1:], "}")
	nonSync = strings.HasSuffix(digits, "+")
	digits = strings.TrimSuffix(digits, "+")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false, false
	}
	return n, nonSync, true
}

// dispatch handles one parsed command, returning false once the
// session should close (LOGOUT, or a read error on the wire).
func (sess *session) dispatch(tag, name, rest string) bool {
	switch name {
	case "CAPABILITY":
		sess.writeLine("* CAPABILITY IMAP4rev1 LITERAL+ IDLE CONDSTORE UIDPLUS MULTIAPPEND AUTH=PLAIN")
		sess.writeLine(tag + " OK CAPABILITY completed")
	case "LOGIN":
		fields := strings.Fields(rest)
		if len(fields) >= 2 && strings.Trim(fields[0], `"`) == sess.srv.user && strings.Trim(fields[1], `"`) == sess.srv.pass {
			sess.authed = true
			sess.writeLine(tag + " OK LOGIN completed")
		} else {
			sess.writeLine(tag + " NO LOGIN failed")
		}
	case "SELECT", "EXAMINE":
		mbox := strings.Trim(rest, `"`)
		mb := sess.srv.lookup(mbox)
		if mb == nil {
			sess.writeLine(tag + ` NO [TRYCREATE] no such mailbox`)
			return true
		}
		sess.mailbox = mbox
		mb.mu.Lock()
		sess.writeLine(fmt.Sprintf("* %d EXISTS", mb.exists))
		sess.writeLine("* 0 RECENT")
		sess.writeLine(`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`)
		sess.writeLine(fmt.Sprintf("* OK [UIDVALIDITY %d] UIDs valid", mb.uidValidity))
		sess.writeLine(fmt.Sprintf("* OK [UIDNEXT %d] Predicted next UID", mb.uidNext))
		mb.mu.Unlock()
		sess.writeLine(tag + " OK [READ-WRITE] " + name + " completed")
	case "CREATE":
		mbox := strings.Trim(rest, `"`)
		sess.srv.create(mbox)
		sess.writeLine(tag + " OK CREATE completed")
	case "STATUS":
		mbox := strings.Trim(strings.Fields(rest)[0], `"`)
		mb := sess.srv.lookup(mbox)
		if mb == nil {
			sess.writeLine(tag + ` NO [TRYCREATE] no such mailbox`)
			return true
		}
		mb.mu.Lock()
		sess.writeLine(fmt.Sprintf("* STATUS %s (MESSAGES %d UIDNEXT %d UIDVALIDITY %d UNSEEN 0)", mbox, mb.exists, mb.uidNext, mb.uidValidity))
		mb.mu.Unlock()
		sess.writeLine(tag + " OK STATUS completed")
	case "FETCH", "UID":
		// Scripted reply: one canned FLAGS/UID pair per requested
		// sequence number, not a real per-message store.
		seq := firstSeq(rest)
		sess.writeLine(fmt.Sprintf(`* %d FETCH (FLAGS (\Seen) UID %d)`, seq, seq))
		sess.writeLine(tag + " OK FETCH completed")
	case "STORE":
		seq := firstSeq(rest)
		if !strings.Contains(strings.ToUpper(rest), ".SILENT") {
			sess.writeLine(fmt.Sprintf(`* %d FETCH (FLAGS (\Seen))`, seq))
		}
		sess.writeLine(tag + " OK STORE completed")
	case "COPY":
		fields := strings.Fields(rest)
		dest := ""
		if len(fields) > 0 {
			dest = strings.Trim(fields[len(fields)-1], `"`)
		}
		if sess.srv.lookup(dest) == nil {
			sess.writeLine(tag + ` NO [TRYCREATE] no such mailbox`)
			return true
		}
		sess.writeLine(tag + " OK COPY completed")
	case "APPEND":
		mbox := strings.Fields(rest)
		if len(mbox) > 0 {
			if mb := sess.srv.lookup(strings.Trim(mbox[0], `"`)); mb != nil {
				mb.mu.Lock()
				mb.exists++
				mb.uidNext++
				mb.mu.Unlock()
			} else {
				sess.writeLine(tag + ` NO [TRYCREATE] no such mailbox`)
				return true
			}
		}
		sess.writeLine(tag + " OK [APPENDUID 1 1] APPEND completed")
	case "EXPUNGE", "CHECK", "NOOP":
		sess.writeLine(tag + " OK " + name + " completed")
	case "IDLE":
		sess.writeLine("+ idling")
		line, err := sess.readLine()
		if err != nil {
			return false
		}
		if strings.TrimSpace(strings.ToUpper(line)) != "DONE" {
			sess.writeLine(tag + " BAD expected DONE")
			return true
		}
		sess.writeLine(tag + " OK IDLE terminated")
	case "LOGOUT":
		sess.writeLine("* BYE logging out")
		sess.writeLine(tag + " OK LOGOUT completed")
		return false
	default:
		sess.writeLine(tag + " OK " + name + " completed")
	}
	return true
}

func (s *fakeServer) lookup(name string) *mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boxes[name]
}

func (s *fakeServer) create(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boxes[name]; ok {
		return
	}
	s.boxes[name] = &mailbox{uidNext: 1, uidValidity: uint32(len(s.boxes) + 1)}
}

func firstSeq(rest string) int {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 1
	}
	tok := fields[0]
	if i := strings.IndexAny(tok, ":,"); i >= 0 {
		tok = tok[:i]
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
