package stats

import (
	"testing"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/client"
)

func TestAddClientAssignsStableIndex(t *testing.T) {
	w := New(DefaultConfig())
	c0 := client.New(-1, &client.Cred{Username: "u0"}, 4)
	c1 := client.New(-1, &client.Cred{Username: "u1"}, 4)
	w.AddClient(c0)
	w.AddClient(c1)
	if c0.Idx != 0 || c1.Idx != 1 {
		t.Errorf("client indices = %d, %d, want 0, 1", c0.Idx, c1.Idx)
	}
	if w.ClientCount() != 2 {
		t.Errorf("ClientCount() = %d, want 2", w.ClientCount())
	}
}

func TestIncCounterSuppressesLogoutAfterBye(t *testing.T) {
	w := New(DefaultConfig())
	w.IncCounter(catalog.Login, false)
	w.IncCounter(catalog.Logout, false)
	w.IncCounter(catalog.Logout, true)
	if got := w.Counter(catalog.Login); got != 1 {
		t.Errorf("Login counter = %d, want 1", got)
	}
	if got := w.Counter(catalog.Logout); got != 1 {
		t.Errorf("Logout counter = %d, want 1 (seenBye call must be suppressed)", got)
	}
}

func TestAverageTiming(t *testing.T) {
	w := New(DefaultConfig())
	if got := w.AverageTiming(catalog.Fetch); got != 0 {
		t.Errorf("AverageTiming with no samples = %v, want 0", got)
	}
	w.AddTiming(catalog.Fetch, 100*time.Millisecond)
	w.AddTiming(catalog.Fetch, 300*time.Millisecond)
	if got := w.AverageTiming(catalog.Fetch); got != 200*time.Millisecond {
		t.Errorf("AverageTiming = %v, want 200ms", got)
	}
}
