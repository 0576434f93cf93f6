package model

import "testing"

func TestMailFlagsString(t *testing.T) {
	f := FlagSeen | FlagDeleted
	got := f.String()
	want := `\Deleted \Seen`
	if got != want {
		t.Errorf("MailFlags.String() = %q, want %q", got, want)
	}
	if got := MailFlags(0).String(); got != "" {
		t.Errorf("MailFlags(0).String() = %q, want empty", got)
	}
}

func TestSystemFlag(t *testing.T) {
	flag, ok := SystemFlag(`\Seen`)
	if !ok || flag != FlagSeen {
		t.Errorf(`SystemFlag(\Seen) = %v, %v, want FlagSeen, true`, flag, ok)
	}
	if _, ok := SystemFlag("$Label1"); ok {
		t.Errorf("SystemFlag reported a keyword as a system flag")
	}
}

func TestDirtyTypeString(t *testing.T) {
	cases := map[DirtyType]string{
		DirtyNO:      "NO",
		DirtyYES:     "YES",
		DirtyWAITING: "WAITING",
		DirtyMAYBE:   "MAYBE",
	}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", d, got, want)
		}
	}
}
