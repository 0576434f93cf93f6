package appendio

import (
	"strings"
	"testing"

	"crawshaw.io/iox"

	"spilled.ink/internal/imapcore/client"
	"spilled.ink/mailboxsource"
)

func newTestDriver(t *testing.T, bodies [][]byte) *Driver {
	t.Helper()
	filer := iox.NewFiler(0)
	filer.SetTempdir(t.TempDir())
	src := mailboxsource.NewStatic(bodies, nil)
	return New(filer, src)
}

func TestBuildSinglePart(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("hello world")})
	c := client.New(0, &client.Cred{}, 4)

	plan, err := d.Build(c, "INBOX", 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(plan.Parts))
	}
	if plan.Parts[0].Size != int64(len("hello world")) {
		t.Errorf("Size = %d, want %d", plan.Parts[0].Size, len("hello world"))
	}
	if plan.MultiAppend {
		t.Errorf("MultiAppend = true without the MULTIAPPEND capability")
	}
}

func TestBuildMultiAppendRequiresCapability(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("one"), []byte("two"), []byte("three")})
	c := client.New(0, &client.Cred{}, 4)
	c.Capabilities = client.CapMultiAppend

	plan, err := d.Build(c, "INBOX", 3)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !plan.MultiAppend {
		t.Errorf("MultiAppend = false with the capability present and maxParts > 1")
	}
	if len(plan.Parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(plan.Parts))
	}
}

func TestBuildExhaustedSource(t *testing.T) {
	d := newTestDriver(t, nil)
	c := client.New(0, &client.Cred{}, 4)
	if _, err := d.Build(c, "INBOX", 1); err == nil {
		t.Errorf("Build succeeded against an exhausted source")
	}
}

func TestCommandTextLiteralPlus(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("abc")})
	c := client.New(0, &client.Cred{}, 4)
	c.Capabilities = client.CapLiteralPlus

	plan, err := d.Build(c, "INBOX", 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	text := plan.CommandText()
	if !strings.HasPrefix(text, "APPEND INBOX ") {
		t.Fatalf("CommandText = %q, want APPEND INBOX prefix", text)
	}
	if !strings.Contains(text, "{3+}") {
		t.Errorf("CommandText = %q, want a non-synchronizing {3+} literal", text)
	}
}

func TestCommandTextClassicLiteral(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("abc")})
	c := client.New(0, &client.Cred{}, 4)

	plan, err := d.Build(c, "INBOX", 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	text := plan.CommandText()
	if !strings.Contains(text, "{3}") || strings.Contains(text, "{3+}") {
		t.Errorf("CommandText = %q, want a classic {3} literal", text)
	}
}

func TestBeginSetsAppendUnfinishedByCapability(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("abc")})
	c := client.New(0, &client.Cred{}, 4)
	plan, err := d.Build(c, "INBOX", 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	Begin(c, plan)
	if !c.AppendUnfinished {
		t.Errorf("AppendUnfinished = false for a classic literal")
	}

	c2 := client.New(0, &client.Cred{}, 4)
	c2.Capabilities = client.CapLiteralPlus
	plan2, err := d.Build(c2, "INBOX", 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	Begin(c2, plan2)
	if c2.AppendUnfinished {
		t.Errorf("AppendUnfinished = true for a LITERAL+ literal")
	}
}

func TestLiteralBytesRoundTrip(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("payload")})
	c := client.New(0, &client.Cred{}, 4)
	plan, err := d.Build(c, "INBOX", 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := plan.LiteralBytes(0)
	if err != nil {
		t.Fatalf("LiteralBytes: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("LiteralBytes = %q, want payload", got)
	}
}

func TestAdvanceThroughMultiAppend(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("a"), []byte("bb")})
	c := client.New(0, &client.Cred{}, 4)
	c.Capabilities = client.CapMultiAppend
	plan, err := d.Build(c, "INBOX", 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	Begin(c, plan)

	Advance(c, plan, 0)
	if !c.AppendUnfinished {
		t.Errorf("AppendUnfinished = false advancing into a classic-literal second part")
	}
	if c.AppendVSize != plan.Parts[1].Size {
		t.Errorf("AppendVSize = %d, want %d", c.AppendVSize, plan.Parts[1].Size)
	}

	Advance(c, plan, 1)
	if c.AppendUnfinished {
		t.Errorf("AppendUnfinished = true after the last part advanced")
	}
	if c.AppendVSize != 0 {
		t.Errorf("AppendVSize = %d, want 0 after the last part", c.AppendVSize)
	}
}

func TestNextPartTextHasNoLeadingSpace(t *testing.T) {
	d := newTestDriver(t, [][]byte{[]byte("a"), []byte("bb")})
	c := client.New(0, &client.Cred{}, 4)
	c.Capabilities = client.CapMultiAppend
	plan, err := d.Build(c, "INBOX", 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	text := plan.NextPartText(1)
	if strings.HasPrefix(text, " ") {
		t.Errorf("NextPartText = %q, must not have a leading space", text)
	}
	if !strings.Contains(text, "{2}") {
		t.Errorf("NextPartText = %q, want the second part's {2} literal marker", text)
	}
}
