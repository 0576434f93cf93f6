package corelog

import (
	"errors"
	"strings"
	"testing"
)

func TestMsgStringIncludesCoreFields(t *testing.T) {
	m := Msg{What: "router.tagged", ClientID: 3, State: "FETCH", Severity: SeverityWarn, Err: errors.New("boom")}
	s := m.String()
	for _, want := range []string{`"what": "router.tagged"`, `"client": "3"`, `"state": "FETCH"`, `"severity": "warn"`, `"err": "boom"`} {
		if !strings.Contains(s, want) {
			t.Errorf("Msg.String() = %s, missing %s", s, want)
		}
	}
}

func TestMsgStringOmitsEmptyFields(t *testing.T) {
	m := Msg{What: "noop"}
	s := m.String()
	if strings.Contains(s, `"client"`) {
		t.Errorf("Msg.String() included client field with zero ClientID: %s", s)
	}
	if strings.Contains(s, `"err"`) {
		t.Errorf("Msg.String() included err field with nil Err: %s", s)
	}
}

func TestLoggerSkipsNilSink(t *testing.T) {
	lg := Logger{}
	lg.Info("noop", 0, "")
	lg.Warn("noop", 0, "", nil)
	lg.Error("noop", 0, "", nil)
}

func TestLoggerInvokesOut(t *testing.T) {
	var got string
	lg := Logger{Out: func(format string, v ...interface{}) {
		got = format
		if len(v) != 1 {
			t.Fatalf("Out called with %d args, want 1", len(v))
		}
	}}
	lg.Error("router.handle", 1, "FETCH", errors.New("bad tag"))
	if got != "%s" {
		t.Errorf("Out format = %q, want %%s", got)
	}
}
