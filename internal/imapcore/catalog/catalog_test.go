package catalog

import "testing"

func TestStateString(t *testing.T) {
	if got := Login.String(); got != "LOGIN" {
		t.Errorf("Login.String() = %q, want LOGIN", got)
	}
	if got := State(-1).String(); got != "State(?)" {
		t.Errorf("State(-1).String() = %q, want State(?)", got)
	}
	if got := numStates.String(); got != "State(?)" {
		t.Errorf("numStates.String() = %q, want State(?)", got)
	}
}

func TestFlagsString(t *testing.T) {
	f := StateChange | MsgSet
	got := f.String()
	want := "STATECHANGE|MSGSET"
	if got != want {
		t.Errorf("Flags.String() = %q, want %q", got, want)
	}
	if got := FlagNone.String(); got != "NONE" {
		t.Errorf("FlagNone.String() = %q, want NONE", got)
	}
}

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		s    State
		want bool
	}{
		{Fetch, false},
		{Logout, true},
		{Disconnect, true},
		{LMTP, true},
	}
	for _, c := range cases {
		if got := IsTerminal(c.s); got != c.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", c.s, got, c.want)
		}
	}
}

func TestNextSequentialWraps(t *testing.T) {
	if got := NextSequential(Logout); got != Login {
		t.Errorf("NextSequential(Logout) = %s, want LOGIN", got)
	}
	if got := NextSequential(Login); got != List {
		t.Errorf("NextSequential(Login) = %s, want LIST", got)
	}
}

func TestTableEntriesMatchName(t *testing.T) {
	for s := Banner; s < numStates; s++ {
		if Table[s].Name != s {
			t.Errorf("Table[%s].Name = %s, want %s", s, Table[s].Name, s)
		}
	}
}

func TestGetReturnsSameEntry(t *testing.T) {
	e := Get(Select)
	if e.Name != Select {
		t.Fatalf("Get(Select).Name = %s, want SELECT", e.Name)
	}
	if e.Flags&StateChangeSelected == 0 {
		t.Errorf("Select entry missing StateChangeSelected flag")
	}
}
