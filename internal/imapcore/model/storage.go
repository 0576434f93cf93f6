package model

import "fmt"

// StaticMeta is per-message metadata shared across every client view
// of a mailbox (spec.md §3, "Static per-message metadata").
//
// Reference-counted: a message is evicted from Storage.msgs once its
// last view drops it (refcount reaches zero) and it has been
// expunged; until expunged it is kept even at refcount zero so a late
// view can still learn its UID ordering.
type StaticMeta struct {
	UID             uint32
	InternalDate    int64 // unix seconds
	InternalTZ      string
	OwnerClientIdx1 int // 1-based; 0 = unowned
	GlobalMsgID     int64 // back-reference into a shared parsed-body registry; 0 = none
	Expunged        bool

	refcount int
}

// Storage is the process-wide model of one mailbox name's server-side
// state, shared by every client currently using that mailbox.
//
// Grounded on imaptest/memory.go's memoryMailbox: one mutex-guarded
// struct per mailbox, refcounted, with an ordered slice of messages.
// Here the slice models the *client's* belief about UID order rather
// than an authoritative store, so there is no per-Storage mutex: per
// spec.md §5, all Storage mutation happens inside a single cooperative
// step and never yields mid-mutation.
type Storage struct {
	Name        string
	UIDValidity uint32

	// Static, UID-ordered per-message metadata. Strictly increasing by
	// UID, matching the invariant on View.UIDMap.
	Msgs []*StaticMeta

	KeywordNames []string // index -> keyword, lazily registered

	// ExpungedUIDs may contain UIDs never seen by this process (e.g.
	// expunged by another client before this one SELECTed).
	ExpungedUIDs map[uint32]bool

	// FlagOwnerClientIdx1 is indexed by MailFlags bit position (0..5);
	// 0 means unowned. Used only when AssignFlagOwners is set.
	FlagOwnerClientIdx1 [6]int

	AssignMsgOwners  bool
	AssignFlagOwners bool
	SeenAllRecent    bool
	DontTrackRecent  bool

	refcount int
}

// Registry is the process-wide, name-keyed set of mailbox storages.
// It is the "registry-token" ownership arena named in spec.md §9:
// views hold a Name and look the Storage up here rather than holding
// a raw pointer across long lifetimes, though in this single-threaded
// core a pointer is in practice stable for the run.
type Registry struct {
	storages map[string]*Storage
}

func NewRegistry() *Registry {
	return &Registry{storages: make(map[string]*Storage)}
}

// Acquire returns the Storage for name, creating it (refcount 1) if
// this is the first acquisition, or incrementing its refcount if it
// already exists.
func (r *Registry) Acquire(name string) *Storage {
	if s, ok := r.storages[name]; ok {
		s.refcount++
		return s
	}
	s := &Storage{
		Name:         name,
		ExpungedUIDs: make(map[uint32]bool),
	}
	s.refcount = 1
	r.storages[name] = s
	return s
}

// Release decrements s's refcount, destroying it from the registry
// once the last view has dropped it.
func (r *Registry) Release(s *Storage) {
	s.refcount--
	if s.refcount <= 0 {
		delete(r.storages, s.Name)
	}
}

// KeywordIndex returns the index of name in s's keyword registry,
// registering it lazily if this is the first time any client has seen
// it (spec.md §4.3).
func (s *Storage) KeywordIndex(name string) int {
	for i, k := range s.KeywordNames {
		if k == name {
			return i
		}
	}
	s.KeywordNames = append(s.KeywordNames, name)
	return len(s.KeywordNames) - 1
}

// StaticByUID finds the StaticMeta for uid via binary search over the
// UID-ordered Msgs slice, returning nil if not present.
func (s *Storage) StaticByUID(uid uint32) *StaticMeta {
	lo, hi := 0, len(s.Msgs)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Msgs[mid].UID < uid {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.Msgs) && s.Msgs[lo].UID == uid {
		return s.Msgs[lo]
	}
	return nil
}

// InsertStatic inserts meta into the UID-ordered Msgs slice, checking
// the strictly-increasing-UID invariant (spec.md §3).
func (s *Storage) InsertStatic(meta *StaticMeta) error {
	if n := len(s.Msgs); n > 0 && s.Msgs[n-1].UID >= meta.UID {
		return fmt.Errorf("model: storage %q: UID %d out of order after %d", s.Name, meta.UID, s.Msgs[n-1].UID)
	}
	meta.refcount++
	s.Msgs = append(s.Msgs, meta)
	return nil
}

// SetUIDValidity adopts v as the storage's UIDVALIDITY. It returns an
// error (StateError, spec.md §7) if a prior non-zero value is being
// silently overwritten outside of an explicit Reset, matching the
// invariant in spec.md §3: "storage.uidvalidity != 0 => never changes
// during a run".
func (s *Storage) SetUIDValidity(v uint32) error {
	if s.UIDValidity != 0 && s.UIDValidity != v {
		prior := s.UIDValidity
		s.UIDValidity = v
		return fmt.Errorf("UIVALIDITY changed: %d -> %d", prior, v)
	}
	s.UIDValidity = v
	return nil
}
