// Package catalog holds the static table of IMAP command states the
// planner may emit, along with their preconditions and selection
// probabilities.
//
// The table and its "flags" bitset follow the shape of
// imap.ListAttrFlag in the teacher package (imap/imap.go): a small
// iota-based bitset with a String method, rather than a set of bool
// fields.
package catalog

import "strings"

// State names a command state the planner can issue, or a synthetic
// pseudo-state (Checkpoint, Delay, Disconnect) that drives control
// flow without a wire command.
//
// Ordering is significant: State < Logout partitions "active" states
// from terminal ones, and the enum order is the sequence next_state
// walks in non-random mode.
type State int

const (
	Banner State = iota
	Authenticate
	Login
	List
	MCreate
	MDelete
	Status
	Select
	Fetch
	Fetch2
	Search
	Sort
	Thread
	Copy
	Store
	StoreDel
	Delete
	Expunge
	Append
	Noop
	Idle
	Check
	Logout
	Disconnect
	Delay
	Checkpoint
	LMTP

	numStates
)

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "State(?)"
	}
	return stateNames[s]
}

var stateNames = [...]string{
	Banner:       "BANNER",
	Authenticate: "AUTHENTICATE",
	Login:        "LOGIN",
	List:         "LIST",
	MCreate:      "MCREATE",
	MDelete:      "MDELETE",
	Status:       "STATUS",
	Select:       "SELECT",
	Fetch:        "FETCH",
	Fetch2:       "FETCH2",
	Search:       "SEARCH",
	Sort:         "SORT",
	Thread:       "THREAD",
	Copy:         "COPY",
	Store:        "STORE",
	StoreDel:     "STORE_DEL",
	Delete:       "DELETE",
	Expunge:      "EXPUNGE",
	Append:       "APPEND",
	Noop:         "NOOP",
	Idle:         "IDLE",
	Check:        "CHECK",
	Logout:       "LOGOUT",
	Disconnect:   "DISCONNECT",
	Delay:        "DELAY",
	Checkpoint:   "CHECKPOINT",
	LMTP:         "LMTP",
}

// LoginState is the IMAP session state a client is in.
type LoginState int

const (
	NonAuth LoginState = iota
	Auth
	Selected
)

func (s LoginState) String() string {
	switch s {
	case NonAuth:
		return "NONAUTH"
	case Auth:
		return "AUTH"
	case Selected:
		return "SELECTED"
	default:
		return "LoginState(?)"
	}
}

// Flags is a bitset of semantic properties of a State, following the
// imap.ListAttrFlag idiom: iota-based bits with a String method.
type Flags int

const (
	FlagNone Flags = 0

	// StateChange means success moves the session between
	// NONAUTH/AUTH/SELECTED login states.
	StateChange Flags = 1 << iota

	// StateChangeNonAuth/Auth/Selected further narrow StateChange to
	// the login state it targets, for the "two SELECTED-requiring
	// commands may not overlap across a state change" rule in §4.2.
	StateChangeNonAuth
	StateChangeAuth
	StateChangeSelected

	// MsgSet means the command binds a message-sequence set that is
	// only valid until the next expunge or state change.
	MsgSet

	// Expunges means the command may remove messages from the view
	// (EXPUNGE, UID EXPUNGE, CLOSE).
	Expunges
)

var flagNames = []struct {
	bit  Flags
	name string
}{
	{StateChange, "STATECHANGE"},
	{StateChangeNonAuth, "STATECHANGE_NONAUTH"},
	{StateChangeAuth, "STATECHANGE_AUTH"},
	{StateChangeSelected, "STATECHANGE_SELECTED"},
	{MsgSet, "MSGSET"},
	{Expunges, "EXPUNGES"},
}

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Entry is one row of the state catalog: static, shared by every
// client and every planner.
type Entry struct {
	Name             State
	TagPrefix        string // 4-char tag prefix, e.g. "slct"
	LoginState       LoginState
	Probability      int // 0-100, chance of being picked when offered
	ProbabilityAgain int // 0-100, chance of repeating immediately after success
	Flags            Flags
}

// Table is the static, process-wide state catalog. Index with State.
//
// Probabilities are the defaults used when a run's configuration does
// not override them; planner.Config carries the overrides.
var Table = [numStates]Entry{
	Banner:       {Name: Banner, TagPrefix: "xxxx", LoginState: NonAuth},
	Authenticate: {Name: Authenticate, TagPrefix: "auth", LoginState: NonAuth, Probability: 50, Flags: StateChange | StateChangeAuth},
	Login:        {Name: Login, TagPrefix: "logn", LoginState: NonAuth, Probability: 100, Flags: StateChange | StateChangeAuth},
	List:         {Name: List, TagPrefix: "list", LoginState: Auth, Probability: 10},
	MCreate:      {Name: MCreate, TagPrefix: "crea", LoginState: Auth, Probability: 2},
	MDelete:      {Name: MDelete, TagPrefix: "dele", LoginState: Auth, Probability: 2},
	Status:       {Name: Status, TagPrefix: "stat", LoginState: Auth, Probability: 10},
	Select:       {Name: Select, TagPrefix: "slct", LoginState: Auth, Probability: 20, Flags: StateChange | StateChangeSelected},
	Fetch:        {Name: Fetch, TagPrefix: "fetc", LoginState: Selected, Probability: 40, ProbabilityAgain: 50, Flags: MsgSet},
	Fetch2:       {Name: Fetch2, TagPrefix: "fet2", LoginState: Selected, Probability: 20, Flags: MsgSet},
	Search:       {Name: Search, TagPrefix: "srch", LoginState: Selected, Probability: 10},
	Sort:         {Name: Sort, TagPrefix: "sort", LoginState: Selected, Probability: 5},
	Thread:       {Name: Thread, TagPrefix: "thrd", LoginState: Selected, Probability: 5},
	Copy:         {Name: Copy, TagPrefix: "copy", LoginState: Selected, Probability: 10, Flags: MsgSet},
	Store:        {Name: Store, TagPrefix: "stor", LoginState: Selected, Probability: 15, ProbabilityAgain: 30, Flags: MsgSet},
	StoreDel:     {Name: StoreDel, TagPrefix: "stde", LoginState: Selected, Probability: 15, Flags: MsgSet},
	Delete:       {Name: Delete, TagPrefix: "dlme", LoginState: Selected, Probability: 2, Flags: MsgSet | Expunges},
	Expunge:      {Name: Expunge, TagPrefix: "expu", LoginState: Selected, Probability: 5, Flags: Expunges},
	Append:       {Name: Append, TagPrefix: "appe", LoginState: Auth, Probability: 15, ProbabilityAgain: 20},
	Noop:         {Name: Noop, TagPrefix: "noop", LoginState: NonAuth, Probability: 5},
	Idle:         {Name: Idle, TagPrefix: "idle", LoginState: Auth, Probability: 5, Flags: StateChange | StateChangeAuth | StateChangeSelected},
	Check:        {Name: Check, TagPrefix: "chck", LoginState: Selected, Probability: 5},
	Logout:       {Name: Logout, TagPrefix: "logo", LoginState: NonAuth, Probability: 1, Flags: StateChange | StateChangeNonAuth},
	Disconnect:   {Name: Disconnect, TagPrefix: "xxxx", LoginState: NonAuth},
	Delay:        {Name: Delay, TagPrefix: "xxxx", LoginState: NonAuth},
	Checkpoint:   {Name: Checkpoint, TagPrefix: "xxxx", LoginState: NonAuth},
	LMTP:         {Name: LMTP, TagPrefix: "xxxx", LoginState: NonAuth},
}

// Get returns the catalog entry for s.
func Get(s State) *Entry { return &Table[s] }

// IsTerminal reports whether s is LOGOUT or later in the enum, the
// State < LOGOUT partition named in spec.md §4.1.
func IsTerminal(s State) bool { return s >= Logout }

// NextSequential returns the next state in enum order, wrapping from
// Logout back to Login (AUTHENTICATE+1), per spec.md §4.2's
// next_state in non-random mode.
func NextSequential(s State) State {
	if s >= Logout {
		return Login
	}
	return s + 1
}
