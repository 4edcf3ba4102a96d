package queue

import (
	"github.com/wyattjsimon/leech/piecework"
	"github.com/wyattjsimon/leech/session"
)

// Entry is one (peer, work) pairing held by Pending. The same Work may
// appear in multiple Entries (redundant assignment near end-of-download);
// a given peer appears in at most one Entry.
type Entry struct {
	Peer *session.Session
	Work piecework.Work
}

// Pending holds the ordered sequence of (peer, piece) pairs the
// coordinator has decided to assign but may not yet have dispatched to
// the peer's session. The start cursor separates entries that have
// already had AssignWork called against them from ones that haven't,
// which is what lets the coordinator build up a batch of decisions during
// its assignment scan and only dispatch them afterward (StartAll),
// avoiding reentrant calls into a session mid-scan.
type Pending struct {
	entries    []Entry
	peerIndex  map[*session.Session]int // index into entries, for O(1) "does peer appear" lookups
	startCursor int
}

// NewPending constructs an empty Pending queue.
func NewPending() *Pending {
	return &Pending{peerIndex: make(map[*session.Session]int)}
}

// Push appends a new (peer, work) entry. The caller (coordinator) is
// responsible for the invariant that peer does not already appear.
func (p *Pending) Push(peer *session.Session, w piecework.Work) {
	p.entries = append(p.entries, Entry{Peer: peer, Work: w})
	p.peerIndex[peer] = len(p.entries) - 1
}

// HasPeer reports whether peer already has a pending entry.
func (p *Pending) HasPeer(peer *session.Session) bool {
	_, ok := p.peerIndex[peer]
	return ok
}

// Remove deletes peer's entry (there is at most one) and returns the Work
// it was assigned. ok is false if peer had no pending entry.
func (p *Pending) Remove(peer *session.Session) (w piecework.Work, ok bool) {
	idx, found := p.peerIndex[peer]
	if !found {
		return piecework.Work{}, false
	}
	w = p.entries[idx].Work
	p.removeAt(idx)
	return w, true
}

// removeAt deletes the entry at idx, preserving order for the remaining
// entries and keeping peerIndex and startCursor consistent.
func (p *Pending) removeAt(idx int) {
	delete(p.peerIndex, p.entries[idx].Peer)
	p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
	for i := idx; i < len(p.entries); i++ {
		p.peerIndex[p.entries[i].Peer] = i
	}
	if idx < p.startCursor {
		p.startCursor--
	}
}

// CountForWork returns how many pending entries (across all peers)
// reference piece index i - the "numWorkers(work)" the coordinator checks
// before deciding whether a failed or disconnected piece still has
// another worker.
func (p *Pending) CountForWork(i int) int {
	n := 0
	for _, e := range p.entries {
		if e.Work.Index == i {
			n++
		}
	}
	return n
}

// FindMatching scans for the first entry satisfying pred, in insertion
// order - used by the coordinator's assignment-policy step 2 (redundant
// assignment against a peer's bitfield).
func (p *Pending) FindMatching(pred func(Entry) bool) (Entry, bool) {
	for _, e := range p.entries {
		if pred(e) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a snapshot of every pending (peer, work) pair, for
// invariant checks and tests.
func (p *Pending) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of pending entries.
func (p *Pending) Len() int {
	return len(p.entries)
}

// StartAll calls assign for every entry from the start cursor onward,
// then advances the cursor past them. Entries pushed during the
// coordinator's assignment scan are only dispatched here, after the scan
// finishes, so a session's synchronously-triggered request pump can never
// reenter the scan itself.
func (p *Pending) StartAll(assign func(peer *session.Session, w piecework.Work)) {
	for ; p.startCursor < len(p.entries); p.startCursor++ {
		e := p.entries[p.startCursor]
		assign(e.Peer, e.Work)
	}
}
