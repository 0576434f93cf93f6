// Package corelog is the hand-rolled structured-JSON logging used
// throughout this core, copied in idiom (not code) from
// imap/imapserver/log.go's logMsg: a small value type with a String
// method, fed through a Logf func field, rather than a logging
// library import.
package corelog

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies a log line. Error-kind entries correspond to
// spec.md §7's ProtocolError/StateError/CommandFailure/Fatal.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Msg struct {
	What     string
	When     time.Time
	ClientID int
	State    string
	Tag      string
	Severity Severity
	Err      error
	Data     string
}

func (l Msg) String() string {
	const where = "imaptest"

	buf := new(strings.Builder)
	fmt.Fprintf(buf, `{"where": %q, "what": %q`, where, l.What)

	if l.When.IsZero() {
		l.When = time.Now()
	}
	buf.WriteString(`, "when": "`)
	buf.Write(l.When.AppendFormat(make([]byte, 0, 64), time.RFC3339Nano))
	buf.WriteString(`"`)

	if l.Severity != "" {
		fmt.Fprintf(buf, `, "severity": %q`, l.Severity)
	}
	if l.ClientID != 0 {
		fmt.Fprintf(buf, `, "client": "%d"`, l.ClientID)
	}
	if l.State != "" {
		fmt.Fprintf(buf, `, "state": %q`, l.State)
	}
	if l.Tag != "" {
		fmt.Fprintf(buf, `, "tag": %q`, l.Tag)
	}
	if l.Err != nil {
		fmt.Fprintf(buf, `, "err": %q`, l.Err.Error())
	}
	if l.Data != "" {
		fmt.Fprintf(buf, `, "data": %q`, l.Data)
	}
	buf.WriteByte('}')
	return buf.String()
}

// Logf matches the shape of imapserver.Server.Logf, so the whole core
// can be wired to *testing.T.Logf in tests or to stdlib log.Printf in
// cmd/imaptest.
type Logf func(format string, v ...interface{})

// Logger pairs a Logf sink with the convenience methods used by
// router/planner/checkpoint.
type Logger struct {
	Out Logf
}

func (lg Logger) log(m Msg) {
	if lg.Out == nil {
		return
	}
	lg.Out("%s", m)
}

func (lg Logger) Info(what string, clientID int, state string) {
	lg.log(Msg{What: what, ClientID: clientID, State: state, Severity: SeverityInfo})
}

func (lg Logger) Warn(what string, clientID int, state string, err error) {
	lg.log(Msg{What: what, ClientID: clientID, State: state, Severity: SeverityWarn, Err: err})
}

func (lg Logger) Error(what string, clientID int, state string, err error) {
	lg.log(Msg{What: what, ClientID: clientID, State: state, Severity: SeverityError, Err: err})
}
