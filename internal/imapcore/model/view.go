package model

import "fmt"

// Dynamic is per-view, per-message state, indexed 0-based by sequence
// number minus one (spec.md §3, "Dynamic per-message metadata").
type Dynamic struct {
	MailFlags    MailFlags
	FlagsSet     bool // spec.md's MAIL_FLAGS_SET bit
	KeywordBits  []byte
	Static       *StaticMeta
	FetchRefcnt  int
	Dirty        DirtyType
}

// View is one client's ordered sequence view of a Storage: a
// seq->UID map, per-seq dynamic metadata, and view-local bookkeeping
// (spec.md §3, "Mailbox View").
type View struct {
	Storage *Storage

	UIDMap   []uint32
	Messages []Dynamic

	RecentCount uint32

	// KeywordBitmaskAllocSize is the byte length every Dynamic's
	// KeywordBits must have (spec.md §4.3): grown in powers-of-two
	// rounded to bytes, never shrunk.
	KeywordBitmaskAllocSize int

	ReadWrite          bool
	PermanentFlags     []string
	HighestModSeq      int64
	SavedUIDNext       uint32
	HaveSavedUIDNext   bool
}

// NewView acquires storage and returns a fresh, empty view onto it.
func NewView(storage *Storage) *View {
	return &View{Storage: storage}
}

// CheckInvariants verifies the two structural invariants named in
// spec.md §3 that must hold at every cooperative-step boundary (P1,
// P2 in spec.md §8).
func (v *View) CheckInvariants() error {
	if len(v.UIDMap) != len(v.Messages) {
		return fmt.Errorf("model: view.uidmap length %d != view.messages length %d", len(v.UIDMap), len(v.Messages))
	}
	for i := 1; i < len(v.UIDMap); i++ {
		if v.UIDMap[i-1] >= v.UIDMap[i] {
			return fmt.Errorf("model: view.uidmap not strictly increasing at seq %d: %d >= %d", i+1, v.UIDMap[i-1], v.UIDMap[i])
		}
	}
	for i := range v.Messages {
		if len(v.Messages[i].KeywordBits) < v.KeywordBitmaskAllocSize {
			return fmt.Errorf("model: view seq %d keyword bitmask len %d < alloc size %d", i+1, len(v.Messages[i].KeywordBits), v.KeywordBitmaskAllocSize)
		}
	}
	return nil
}

// Exists grows the view to total messages (an untagged "EXISTS n"),
// appending freshly allocated, clean Dynamic records for any new
// sequence numbers. uidFor supplies the UID for each newly appended
// seq (1-based), and is expected to come from the wire FETCH/SELECT
// response that accompanied the EXISTS, or from a prior UID the
// caller already knows (e.g. during QRESYNC seeding).
func (v *View) Exists(total uint32, uidFor func(seq uint32) uint32) {
	for uint32(len(v.Messages)) < total {
		seq := uint32(len(v.Messages) + 1)
		uid := uidFor(seq)
		static := v.Storage.StaticByUID(uid)
		if static == nil {
			static = &StaticMeta{UID: uid}
			v.Storage.InsertStatic(static)
		} else {
			static.refcount++
		}
		v.UIDMap = append(v.UIDMap, uid)
		v.Messages = append(v.Messages, Dynamic{
			Static:      static,
			KeywordBits: make([]byte, v.KeywordBitmaskAllocSize),
		})
	}
}

// Expunge removes the message at 1-based sequence seq (an untagged
// "EXPUNGE seq"), decrementing recent count and the static refcount,
// and marking the static record expunged once its refcount reaches
// zero (spec.md §4.3).
func (v *View) Expunge(seq uint32) error {
	if seq == 0 || int(seq) > len(v.Messages) {
		return fmt.Errorf("model: EXPUNGE seq %d out of range (have %d messages)", seq, len(v.Messages))
	}
	idx := seq - 1
	dyn := v.Messages[idx]
	if dyn.MailFlags&FlagRecent != 0 && v.RecentCount > 0 {
		v.RecentCount--
	}
	dyn.Static.refcount--
	if dyn.Static.refcount <= 0 {
		dyn.Static.Expunged = true
		v.Storage.ExpungedUIDs[dyn.Static.UID] = true
	}
	v.UIDMap = append(v.UIDMap[:idx], v.UIDMap[idx+1:]...)
	v.Messages = append(v.Messages[:idx], v.Messages[idx+1:]...)
	return nil
}

// ApplyFetchFlags updates the dynamic flags for 1-based sequence seq
// from an untagged "FETCH n FLAGS (...)" and runs the dirty-type
// post-processing in spec.md §4.6: dirty becomes NO once refcount
// reaches 0, WAITING while refcount stays above 1, and MAYBE when
// exactly one reference remains after this FETCH is accounted for.
func (v *View) ApplyFetchFlags(seq uint32, flags MailFlags, keywordBits []byte) error {
	if seq == 0 || int(seq) > len(v.Messages) {
		return fmt.Errorf("model: FETCH seq %d out of range (have %d messages)", seq, len(v.Messages))
	}
	dyn := &v.Messages[seq-1]
	dyn.MailFlags = flags
	dyn.FlagsSet = true
	if len(keywordBits) > len(dyn.KeywordBits) {
		dyn.KeywordBits = keywordBits
	} else {
		copy(dyn.KeywordBits, keywordBits)
	}

	switch {
	case dyn.FetchRefcnt <= 0:
		dyn.Dirty = DirtyNO
	case dyn.FetchRefcnt > 1:
		dyn.Dirty = DirtyWAITING
	default:
		dyn.Dirty = DirtyMAYBE
	}
	return nil
}

// SeqRangeFlagsRef is the central refcount/dirty primitive of
// spec.md §4.3. For every 1-based sequence in [lo, hi] it adjusts
// FetchRefcnt by diff (+1 when issuing a command expected to produce
// FLAGS, -1 when that command's reply has been fully processed).
//
// When updateDirty is true:
//   - diff > 0 transitions MAYBE -> NO (the earlier FETCH is
//     committed as authoritative, since a new outstanding command now
//     owns the "next" FLAGS observation).
//   - diff < 0 transitions any state other than WAITING to YES (a new
//     outstanding command invalidates the assumption that existing
//     flags are clean; WAITING already reflects at least one
//     in-flight observer, so it is left alone).
func (v *View) SeqRangeFlagsRef(lo, hi uint32, diff int, updateDirty bool) error {
	if lo == 0 || hi == 0 || lo > hi || int(hi) > len(v.Messages) {
		return fmt.Errorf("model: seq range [%d,%d] out of bounds (have %d messages)", lo, hi, len(v.Messages))
	}
	for seq := lo; seq <= hi; seq++ {
		dyn := &v.Messages[seq-1]
		dyn.FetchRefcnt += diff
		if !updateDirty {
			continue
		}
		if diff > 0 {
			if dyn.Dirty == DirtyMAYBE {
				dyn.Dirty = DirtyNO
			}
		} else {
			if dyn.Dirty != DirtyWAITING {
				dyn.Dirty = DirtyYES
			}
		}
	}
	return nil
}

// GrowKeywordBitmask ensures the view's keyword bitmask can address at
// least nbits keywords, rounding up to the next power of two bytes (as
// bits, then bytes) and reallocating every message's KeywordBits to
// the new size while preserving existing bits (spec.md §4.3).
func (v *View) GrowKeywordBitmask(nbits int) {
	needBytes := (nbits + 7) / 8
	if needBytes <= v.KeywordBitmaskAllocSize {
		return
	}
	size := 1
	for size < needBytes {
		size *= 2
	}
	v.KeywordBitmaskAllocSize = size
	for i := range v.Messages {
		old := v.Messages[i].KeywordBits
		grown := make([]byte, size)
		copy(grown, old)
		v.Messages[i].KeywordBits = grown
	}
}

// SetKeyword sets or clears bit idx (a Storage.KeywordIndex result) in
// seq's keyword bitmask.
func (v *View) SetKeyword(seq uint32, idx int, on bool) error {
	if seq == 0 || int(seq) > len(v.Messages) {
		return fmt.Errorf("model: seq %d out of range", seq)
	}
	byteIdx, bit := idx/8, uint(idx%8)
	dyn := &v.Messages[seq-1]
	if byteIdx >= len(dyn.KeywordBits) {
		return fmt.Errorf("model: keyword index %d exceeds bitmask size %d", idx, len(dyn.KeywordBits)*8)
	}
	if on {
		dyn.KeywordBits[byteIdx] |= 1 << bit
	} else {
		dyn.KeywordBits[byteIdx] &^= 1 << bit
	}
	return nil
}

func (v *View) HasKeyword(seq uint32, idx int) bool {
	dyn := &v.Messages[seq-1]
	byteIdx, bit := idx/8, uint(idx%8)
	if byteIdx >= len(dyn.KeywordBits) {
		return false
	}
	return dyn.KeywordBits[byteIdx]&(1<<bit) != 0
}
