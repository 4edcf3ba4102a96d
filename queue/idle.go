package queue

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/wyattjsimon/leech/session"
)

// Idle holds the set of ready peers not currently assigned any work.
type Idle struct {
	set    mapset.Set
	pushed chan struct{}
}

// NewIdle constructs an empty Idle queue.
func NewIdle() *Idle {
	return &Idle{set: mapset.NewSet(), pushed: make(chan struct{}, 1)}
}

// Push adds peer to the idle set (a no-op if already present) and
// signals Pushed so the coordinator's assignment pass can run.
func (i *Idle) Push(peer *session.Session) {
	if i.set.Contains(peer) {
		return
	}
	i.set.Add(peer)
	select {
	case i.pushed <- struct{}{}:
	default:
	}
}

// Pushed is signaled (non-blocking, capacity 1) whenever a peer is
// pushed onto the idle set.
func (i *Idle) Pushed() <-chan struct{} {
	return i.pushed
}

// Remove deletes peer from the idle set, if present.
func (i *Idle) Remove(peer *session.Session) {
	i.set.Remove(peer)
}

// Drain empties the idle set and returns every peer that was in it. The
// coordinator's assignment policy runs over exactly this snapshot: peers
// pushed back onto Idle mid-pass (there are none in the current policy,
// since every peer either gets a pending entry or is disconnected) would
// not be revisited in the same pass.
func (i *Idle) Drain() []*session.Session {
	items := i.set.ToSlice()
	out := make([]*session.Session, 0, len(items))
	for _, it := range items {
		out = append(out, it.(*session.Session))
	}
	i.set.Clear()
	return out
}

// Len returns the number of idle peers.
func (i *Idle) Len() int {
	return i.set.Cardinality()
}
