// Package stats bundles the process-wide singletons spec.md §9 warns
// against scattering as mutable package-level globals: the state
// catalog handle, run counters/timers, the client set, and the
// storages registry. A single *World value is threaded through every
// cooperative step instead.
package stats

import (
	"sync"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/model"
)

// Config is the run configuration named in spec.md §6, "Control
// interfaces (consumed from host)".
type Config struct {
	ClientsCount          int
	MessageCountThreshold int
	RandomStates          bool
	Qresync               bool
	NoPipelining          bool
	NoTracking            bool
	CheckpointInterval    time.Duration
	CopyDest              string
	MasterUser            string
	TryCreateMailbox      bool

	PlanCapacity    int // typical 3-8
	MaxCommandQueue int // MAX_COMMAND_QUEUE_LEN, e.g. 12
	DelayMsecs      time.Duration
}

// DefaultConfig returns the defaults used by cmd/imaptest when a flag
// is not overridden.
func DefaultConfig() Config {
	return Config{
		ClientsCount:          10,
		MessageCountThreshold: 30,
		RandomStates:          true,
		CopyDest:              "Archive",
		TryCreateMailbox:      true,
		PlanCapacity:          5,
		MaxCommandQueue:       12,
		DelayMsecs:            200 * time.Millisecond,
	}
}

// World is the process-wide singleton bundle (spec.md §9).
type World struct {
	Conf Config

	// Global flags (spec.md §6): checked by the planner before
	// issuing anything new.
	DisconnectClients bool
	Stalled           bool
	NoNewClients      bool

	Storages *model.Registry

	mu       sync.Mutex
	clients  []*client.Client
	counters [catalogSize]int64
	timers   [catalogSize]time.Duration
	timerN   [catalogSize]int64
}

const catalogSize = int(catalog.LMTP) + 1

func New(conf Config) *World {
	return &World{
		Conf:     conf,
		Storages: model.NewRegistry(),
	}
}

// AddClient registers a new client under the next stable index.
func (w *World) AddClient(c *client.Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c.Idx = len(w.clients)
	w.clients = append(w.clients, c)
}

// Clients returns the live client set. Callers must not mutate the
// returned slice.
func (w *World) Clients() []*client.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clients
}

// ClientCount returns the number of registered clients.
func (w *World) ClientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// IncCounter increments the process-wide issuance counter for state.
//
// Per spec.md §9 Design Notes, the LOGOUT counter is suppressed when
// the client already observed an unsolicited BYE, to avoid double
// counting; callers pass seenBye so this exception lives in one
// place.
func (w *World) IncCounter(state catalog.State, seenBye bool) {
	if state == catalog.Logout && seenBye {
		return
	}
	w.mu.Lock()
	w.counters[state]++
	w.mu.Unlock()
}

// Counter returns the current issuance count for state.
func (w *World) Counter(state catalog.State) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters[state]
}

// AddTiming records a completed command's round-trip duration against
// state, for the per-state timer/timer-count tables named in spec.md
// §5.
func (w *World) AddTiming(state catalog.State, d time.Duration) {
	w.mu.Lock()
	w.timers[state] += d
	w.timerN[state]++
	w.mu.Unlock()
}

// AverageTiming returns the mean recorded duration for state, or 0 if
// none have been recorded.
func (w *World) AverageTiming(state catalog.State) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timerN[state] == 0 {
		return 0
	}
	return w.timers[state] / time.Duration(w.timerN[state])
}
