// Package queue implements the three semantic collections the
// coordinator scans and mutates: the set of unclaimed piece-work, the
// ordered sequence of pending (peer, piece) assignments, and the set of
// idle peers. All three are intended for exclusive use by the
// coordinator's own goroutine, matching the single-owner, no-locking
// discipline described for the scheduling model; none of their methods
// takes a mutex.
package queue

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/wyattjsimon/leech/piecework"
)

// Unclaimed holds the set of piece-work not currently assigned to any
// peer. Membership is keyed by piece index; pushing the same index twice
// is a no-op.
type Unclaimed struct {
	set    mapset.Set
	byIdx  map[int]piecework.Work
	pushed chan struct{}
}

// NewUnclaimed seeds an Unclaimed queue with every piece of work, as the
// coordinator does at construction time.
func NewUnclaimed(work []piecework.Work) *Unclaimed {
	u := &Unclaimed{
		set:    mapset.NewSet(),
		byIdx:  make(map[int]piecework.Work, len(work)),
		pushed: make(chan struct{}, 1),
	}
	for _, w := range work {
		u.set.Add(w.Index)
		u.byIdx[w.Index] = w
	}
	return u
}

// Push adds w back to the unclaimed set (a requeue) unless it is already
// present, and signals Pushed so a reactive assignment pass can run.
func (u *Unclaimed) Push(w piecework.Work) {
	if u.set.Contains(w.Index) {
		return
	}
	u.set.Add(w.Index)
	u.byIdx[w.Index] = w
	select {
	case u.pushed <- struct{}{}:
	default:
	}
}

// Pushed is signaled (non-blocking, capacity 1) whenever Push adds a new
// entry. The coordinator's assignment pass is also triggered directly by
// idle-peer arrival, so draining this channel is optional; it exists for
// symmetry with the spec's "observable pushed signal" and for a
// coordinator variant that prefers to assign strictly in response to
// queue-state-changed events.
func (u *Unclaimed) Pushed() <-chan struct{} {
	return u.pushed
}

// Take removes and returns the first Work matching pred, in an
// unspecified but stable-for-one-call order. ok is false if nothing
// matches.
func (u *Unclaimed) Take(pred func(piecework.Work) bool) (w piecework.Work, ok bool) {
	for _, idx := range u.set.ToSlice() {
		i := idx.(int)
		cand := u.byIdx[i]
		if pred(cand) {
			u.set.Remove(i)
			delete(u.byIdx, i)
			return cand, true
		}
	}
	return piecework.Work{}, false
}

// Contains reports whether piece index i is currently unclaimed.
func (u *Unclaimed) Contains(i int) bool {
	return u.set.Contains(i)
}

// Len returns the number of unclaimed pieces.
func (u *Unclaimed) Len() int {
	return u.set.Cardinality()
}

// All returns a snapshot of every unclaimed Work, for invariant checks
// and tests.
func (u *Unclaimed) All() []piecework.Work {
	out := make([]piecework.Work, 0, len(u.byIdx))
	for _, w := range u.byIdx {
		out = append(out, w)
	}
	return out
}
