// Package checkpoint implements the Checkpoint Coordinator (spec.md
// §4.7): a barrier across every client sharing a mailbox, so their
// views can be compared for consistency once all of them have quiesced
// (no in-flight commands, no unfinished APPEND).
//
// Grounded on smtpserver.Server's sessionsCond (smtp/smtpserver/smtpserver.go):
// a sync.Mutex-guarded count plus a sync.Cond, used there to cap
// concurrent sessions. Here the same primitive gates a barrier instead
// of a limit: arrivals block on the Cond until the last straggler
// arrives, then Signal (actually Broadcast, since every waiter must
// wake) releases them all.
package checkpoint

import (
	"fmt"
	"sync"

	"spilled.ink/internal/imapcore/client"
)

// Quiescent reports whether c has nothing outstanding that could
// change its view mid-checkpoint: no queued commands, no unfinished
// APPEND literal.
func Quiescent(c *client.Client) bool {
	return c.Queue.Len() == 0 && !c.AppendUnfinished
}

// Verifier compares the views of every participant once all have
// quiesced, returning a descriptive error for the first inconsistency
// found (spec.md §4.7, "compare storage state across the group").
type Verifier func(participants []*client.Client) error

// Coordinator runs one mailbox-scoped checkpoint barrier at a time.
// Safe for concurrent use by the per-client goroutines described in
// SPEC_FULL.md §5.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	expected     int
	arrived      map[int]*client.Client
	verify       Verifier
	lastErr      error
	generation   int
}

func New(verify Verifier) *Coordinator {
	co := &Coordinator{arrived: make(map[int]*client.Client), verify: verify}
	co.cond = sync.NewCond(&co.mu)
	return co
}

// Arrive blocks c until expected clients have all called Arrive for
// the same generation, then runs verify exactly once (by whichever
// goroutine happens to be last) and returns its result to every
// waiter. expected must be the same value across one checkpoint's
// participants; the coordinator validates this to catch a
// misconfigured run early.
func (co *Coordinator) Arrive(c *client.Client, expected int) error {
	co.mu.Lock()
	defer co.mu.Unlock()

	if !Quiescent(c) {
		return fmt.Errorf("checkpoint: client %d arrived while not quiescent", c.Idx)
	}

	gen := co.generation
	co.expected = expected
	co.arrived[c.Idx] = c

	if len(co.arrived) < expected {
		for co.generation == gen && len(co.arrived) < expected {
			co.cond.Wait()
		}
		if co.generation != gen {
			return co.lastErr
		}
		return co.lastErr
	}

	participants := make([]*client.Client, 0, len(co.arrived))
	for _, p := range co.arrived {
		participants = append(participants, p)
	}
	var err error
	if co.verify != nil {
		err = co.verify(participants)
	}
	co.lastErr = err
	co.arrived = make(map[int]*client.Client)
	co.generation++
	co.cond.Broadcast()
	return err
}

// Reset clears any pending (never-completed) checkpoint generation,
// used when a run is tearing down with stragglers still blocked in
// Arrive.
func (co *Coordinator) Reset() {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.arrived = make(map[int]*client.Client)
	co.generation++
	co.cond.Broadcast()
}
